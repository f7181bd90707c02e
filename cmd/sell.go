package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/etnz/taxlot"
	"github.com/etnz/taxlot/date"
	"github.com/etnz/taxlot/renderer"
	"github.com/google/subcommands"
)

// saleFlags are the flags describing a sale, shared by sell and preview.
type saleFlags struct {
	account  string
	symbol   string
	quantity string
	price    string
	date     string
	method   string
	lots     string
	asJSON   bool
}

func (s *saleFlags) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.account, "a", "", "Account id")
	f.StringVar(&s.symbol, "s", "", "Security ticker")
	f.StringVar(&s.quantity, "q", "", "Number of shares to sell")
	f.StringVar(&s.price, "p", "", "Sale price per share")
	f.StringVar(&s.date, "d", "", "Sale date (defaults to today)")
	f.StringVar(&s.method, "method", "fifo", "Cost basis method (fifo, lifo, hifo, specific)")
	f.StringVar(&s.lots, "lots", "", "Comma separated lot ids to sell, in order. Implies -method specific")
	f.BoolVar(&s.asJSON, "json", false, "print the result as JSON")
}

// request parses the flags into a sale request.
func (s *saleFlags) request() (taxlot.SaleRequest, error) {
	req := taxlot.SaleRequest{AccountID: s.account, Symbol: s.symbol}
	var err error
	if req.Quantity, err = taxlot.ParseQuantity(s.quantity); err != nil {
		return req, &taxlot.ValidationError{Field: "quantity", Reason: err.Error()}
	}
	if req.Price, err = taxlot.ParseMoney(s.price); err != nil {
		return req, &taxlot.ValidationError{Field: "price", Reason: err.Error()}
	}
	if s.date != "" {
		if req.SaleDate, err = date.Parse(s.date); err != nil {
			return req, &taxlot.ValidationError{Field: "date", Reason: err.Error()}
		}
	}
	if req.Method, err = taxlot.ParseCostBasisMethod(s.method); err != nil {
		return req, &taxlot.ValidationError{Field: "method", Reason: err.Error()}
	}
	if s.lots != "" {
		req.Method = taxlot.SpecificLots
		for _, id := range strings.Split(s.lots, ",") {
			if id = strings.TrimSpace(id); id != "" {
				req.SpecificLotIDs = append(req.SpecificLotIDs, id)
			}
		}
	}
	return req, nil
}

type sellCmd struct {
	saleFlags
}

func (*sellCmd) Name() string     { return "sell" }
func (*sellCmd) Synopsis() string { return "sell shares and record the lots disposed of" }
func (*sellCmd) Usage() string {
	return `tlx sell -a <account> -s <symbol> -q <quantity> -p <price> [-d <date>] [-method <method>] [-lots <id,id>]

  Sells shares from the open lots of an account, chosen by the cost basis method.

  A loss on shares replaced by a purchase within 30 days before the sale is
  disallowed, and added to the basis of the replacement lot.
`
}

func (c *sellCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	req, err := c.request()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	a, err := openApp(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	saleID, res, err := a.engine.Sell(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error selling: %v\n", err)
		return exitStatus(err)
	}

	if c.asJSON {
		return printJSON(struct {
			SaleID string            `json:"saleId"`
			Result taxlot.SaleResult `json:"result"`
		}{saleID, res})
	}
	printMarkdown(renderer.SaleMarkdown(saleID, res))
	return subcommands.ExitSuccess
}

type previewCmd struct {
	saleFlags
}

func (*previewCmd) Name() string     { return "preview" }
func (*previewCmd) Synopsis() string { return "compare the cost basis methods for a sale" }
func (*previewCmd) Usage() string {
	return `tlx preview -a <account> -s <symbol> -q <quantity> -p <price> [-d <date>] [-method <method>] [-json]

  Computes the sale with every cost basis method, estimates their tax impact,
  and recommends the cheapest one. Nothing is recorded.
`
}

func (c *previewCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	req, err := c.request()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	a, err := openApp(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	p, err := a.engine.PreviewSale(ctx, req, a.cfg.Profile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error previewing sale: %v\n", err)
		return exitStatus(err)
	}

	if c.asJSON {
		return printJSON(p)
	}
	printMarkdown(renderer.SalePreviewMarkdown(p))
	return subcommands.ExitSuccess
}
