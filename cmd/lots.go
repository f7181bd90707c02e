package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/taxlot/renderer"
	"github.com/google/subcommands"
)

type lotsCmd struct {
	account string
	prices  quotesFlag
	asJSON  bool
}

func (*lotsCmd) Name() string     { return "lots" }
func (*lotsCmd) Synopsis() string { return "display the open lots of an account at market value" }
func (*lotsCmd) Usage() string {
	return `tlx lots -a <account> [-price SYMBOL=PRICE]... [-json]

  Displays the open lots of an account valued at current prices, and a
  summary per security. Lots without a price are shown at cost.
`
}

func (c *lotsCmd) SetFlags(f *flag.FlagSet) {
	c.prices = quotesFlag{}
	f.StringVar(&c.account, "a", "", "Account id")
	f.Var(c.prices, "price", "Current price of a security, as SYMBOL=PRICE. Can be repeated, takes precedence over EODHD")
	f.BoolVar(&c.asJSON, "json", false, "print the lots as JSON")
}

func (c *lotsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.account == "" {
		fmt.Fprintln(os.Stderr, "Error: -a is required")
		return subcommands.ExitUsageError
	}

	a, err := openApp(c.prices.quotes())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	views, positions, err := a.engine.EnrichedLots(ctx, c.account)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing lots: %v\n", err)
		return exitStatus(err)
	}

	if c.asJSON {
		return printJSON(views)
	}
	printMarkdown(renderer.LotsMarkdown(views, positions))
	return subcommands.ExitSuccess
}
