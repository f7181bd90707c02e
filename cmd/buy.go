package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/taxlot"
	"github.com/etnz/taxlot/date"
	"github.com/etnz/taxlot/renderer"
	"github.com/google/subcommands"
)

type buyCmd struct {
	account      string
	symbol       string
	quantity     string
	price        string
	fees         string
	date         string
	typ          string
	uncovered    bool
	unknownBasis bool
	asJSON       bool
}

func (*buyCmd) Name() string     { return "buy" }
func (*buyCmd) Synopsis() string { return "record a purchase as a new tax lot" }
func (*buyCmd) Usage() string {
	return `tlx buy -a <account> -s <symbol> -q <quantity> -p <price> [-fees <amount>] [-d <date>] [-type <type>] [-uncovered] [-unknown-basis]

  Records shares entering an account as a new tax lot.

  A purchase made within 30 days after a sale at a loss of the same security
  replaces the sold shares: the loss is disallowed and added to the basis of
  the new lot.
`
}

func (c *buyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "a", "", "Account id")
	f.StringVar(&c.symbol, "s", "", "Security ticker")
	f.StringVar(&c.quantity, "q", "", "Number of shares")
	f.StringVar(&c.price, "p", "", "Price per share")
	f.StringVar(&c.fees, "fees", "0", "Fees, added to the basis")
	f.StringVar(&c.date, "d", date.Today().String(), "Acquisition date")
	f.StringVar(&c.typ, "type", "purchase", "Acquisition type (purchase, reinvest, transfer)")
	f.BoolVar(&c.uncovered, "uncovered", false, "the broker does not report the basis to the IRS")
	f.BoolVar(&c.unknownBasis, "unknown-basis", false, "the cost basis is not known, the price is ignored")
	f.BoolVar(&c.asJSON, "json", false, "print the lot as JSON")
}

// newLot parses the flags into the lot to record.
func (c *buyCmd) newLot() (taxlot.NewLot, error) {
	n := taxlot.NewLot{
		AccountID:    c.account,
		Symbol:       c.symbol,
		IsCovered:    !c.uncovered,
		BasisUnknown: c.unknownBasis,
	}
	var err error
	if n.Quantity, err = taxlot.ParseQuantity(c.quantity); err != nil {
		return n, &taxlot.ValidationError{Field: "quantity", Reason: err.Error()}
	}
	if !c.unknownBasis {
		if n.PricePerShare, err = taxlot.ParseMoney(c.price); err != nil {
			return n, &taxlot.ValidationError{Field: "price", Reason: err.Error()}
		}
		if n.Fees, err = taxlot.ParseMoney(c.fees); err != nil {
			return n, &taxlot.ValidationError{Field: "fees", Reason: err.Error()}
		}
	}
	if n.Date, err = date.Parse(c.date); err != nil {
		return n, &taxlot.ValidationError{Field: "date", Reason: err.Error()}
	}
	if n.Type, err = taxlot.ParseAcquisitionType(c.typ); err != nil {
		return n, &taxlot.ValidationError{Field: "type", Reason: err.Error()}
	}
	if n.Type == taxlot.WashSaleReplacement {
		return n, &taxlot.ValidationError{Field: "type", Reason: "replacement lots are detected, not declared"}
	}
	return n, nil
}

func (c *buyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	n, err := c.newLot()
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

	lot, match, err := a.engine.RecordPurchase(ctx, n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error recording purchase: %v\n", err)
		return exitStatus(err)
	}

	if c.asJSON {
		return printJSON(struct {
			Lot   taxlot.TaxLot        `json:"lot"`
			Match taxlot.PurchaseMatch `json:"washSale"`
		}{lot, match})
	}
	printMarkdown(renderer.PurchaseMarkdown(lot, match))
	return subcommands.ExitSuccess
}
