package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/taxlot"
	"github.com/etnz/taxlot/renderer"
	"github.com/google/subcommands"
)

type safeDateCmd struct {
	symbol string
	asJSON bool
}

func (*safeDateCmd) Name() string { return "safe-date" }
func (*safeDateCmd) Synopsis() string {
	return "tell when a security can be sold at a loss without a wash sale"
}
func (*safeDateCmd) Usage() string {
	return `tlx safe-date -s <symbol> [-json]

  A loss is disallowed when the same security was bought in the 30 days before
  the sale. Displays the first day a sale at a loss is safe, across all accounts.
`
}

func (c *safeDateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbol, "s", "", "Security ticker")
	f.BoolVar(&c.asJSON, "json", false, "print the answer as JSON")
}

func (c *safeDateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	symbol := taxlot.NormalizeSymbol(c.symbol)
	if symbol == "" {
		fmt.Fprintln(os.Stderr, "Error: -s is required")
		return subcommands.ExitUsageError
	}

	a, err := openApp(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	s, err := a.engine.SafeToSell(ctx, symbol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitStatus(err)
	}
	if c.asJSON {
		return printJSON(s)
	}
	printMarkdown(renderer.SafeToSellMarkdown(s))
	return subcommands.ExitSuccess
}
