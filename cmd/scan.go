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

type scanCmd struct {
	prices     quotesFlag
	minLoss    string
	minSavings string
	nonTaxable bool
	target     string
	save       bool
	asJSON     bool
}

func (*scanCmd) Name() string     { return "scan" }
func (*scanCmd) Synopsis() string { return "look for unrealized losses worth harvesting" }
func (*scanCmd) Usage() string {
	return `tlx scan [-price SYMBOL=PRICE]... [-min-loss <amount>] [-min-savings <amount>] [-non-taxable] [-target <amount>] [-save] [-json]

  Scans every account for securities trading below their cost basis, estimates
  the tax saved by selling them, and checks each one for wash-sale risk.

  With -target, selects the lots to sell to realize that amount of loss,
  short-term losses first.

  With -save, the opportunities are remembered as findings, see 'tlx findings'.
`
}

func (c *scanCmd) SetFlags(f *flag.FlagSet) {
	c.prices = quotesFlag{}
	def := taxlot.DefaultScanOptions()
	f.Var(c.prices, "price", "Current price of a security, as SYMBOL=PRICE. Can be repeated, takes precedence over EODHD")
	f.StringVar(&c.minLoss, "min-loss", def.MinLoss.Decimal().String(), "Smallest unrealized loss reported")
	f.StringVar(&c.minSavings, "min-savings", def.MinTaxSavings.Decimal().String(), "Smallest tax saving reported")
	f.BoolVar(&c.nonTaxable, "non-taxable", false, "report losses in tax-advantaged accounts, as blocked")
	f.StringVar(&c.target, "target", "", "Loss to realize, selects the lots to sell")
	f.BoolVar(&c.save, "save", false, "save the opportunities as findings")
	f.BoolVar(&c.asJSON, "json", false, "print the scan as JSON")
}

// options parses the scan thresholds.
func (c *scanCmd) options() (taxlot.ScanOptions, error) {
	o := taxlot.ScanOptions{IncludeNonTaxable: c.nonTaxable}
	var err error
	if o.MinLoss, err = taxlot.ParseMoney(c.minLoss); err != nil {
		return o, fmt.Errorf("invalid -min-loss: %w", err)
	}
	if o.MinTaxSavings, err = taxlot.ParseMoney(c.minSavings); err != nil {
		return o, fmt.Errorf("invalid -min-savings: %w", err)
	}
	return o, nil
}

func (c *scanCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	opts, err := c.options()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	var target taxlot.Money
	if c.target != "" {
		if target, err = taxlot.ParseMoney(c.target); err != nil || !target.IsPositive() {
			fmt.Fprintf(os.Stderr, "Error: invalid -target %q\n", c.target)
			return subcommands.ExitUsageError
		}
	}

	a, err := openApp(c.prices.quotes(), taxlot.WithScanOptions(opts))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	res, err := a.engine.Scan(ctx, a.cfg.Profile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scanning: %v\n", err)
		return exitStatus(err)
	}

	var selected []taxlot.LotCandidate
	if target.IsPositive() {
		var candidates []taxlot.LotCandidate
		for _, o := range res.Actionable() {
			candidates = append(candidates, o.Lots...)
		}
		selected = taxlot.SelectHarvestLots(candidates, target)
	}

	var (
		plan     taxlot.FindingPlan
		findings []taxlot.Finding
	)
	if c.save {
		if plan, err = a.engine.SaveFindings(ctx, a.store, res); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving findings: %v\n", err)
			return subcommands.ExitFailure
		}
		if findings, err = a.store.Findings(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading findings: %v\n", err)
			return subcommands.ExitFailure
		}
	}

	if c.asJSON {
		return printJSON(struct {
			Scan     taxlot.ScanResult     `json:"scan"`
			Selected []taxlot.LotCandidate `json:"selected,omitempty"`
			Findings *taxlot.FindingPlan   `json:"findings,omitempty"`
		}{Scan: res, Selected: selected, Findings: planIf(c.save, plan)})
	}

	md := renderer.ScanMarkdown(res)
	if target.IsPositive() {
		md += "\n" + renderer.HarvestPlanMarkdown(selected, target)
	}
	if c.save {
		md += "\n" + renderer.FindingsMarkdown(findings, plan)
	}
	printMarkdown(md)
	return subcommands.ExitSuccess
}

func planIf(saved bool, plan taxlot.FindingPlan) *taxlot.FindingPlan {
	if !saved {
		return nil
	}
	return &plan
}
