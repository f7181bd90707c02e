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

type findingsCmd struct {
	all    bool
	asJSON bool
}

func (*findingsCmd) Name() string     { return "findings" }
func (*findingsCmd) Synopsis() string { return "list the harvest findings saved by 'tlx scan -save'" }
func (*findingsCmd) Usage() string {
	return `tlx findings [-all] [-json]

  Lists the harvest opportunities remembered between scans. A finding is
  refreshed by every scan still seeing the loss, blocked while the loss
  cannot be harvested, and expires once the loss is gone.
`
}

func (c *findingsCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.all, "all", false, "include expired and harvested findings")
	f.BoolVar(&c.asJSON, "json", false, "print the findings as JSON")
}

func (c *findingsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	findings, err := a.store.Findings(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading findings: %v\n", err)
		return subcommands.ExitFailure
	}
	if !c.all {
		var open []taxlot.Finding
		for _, x := range findings {
			if x.IsOpen() {
				open = append(open, x)
			}
		}
		findings = open
	}

	if c.asJSON {
		return printJSON(findings)
	}
	printMarkdown(renderer.FindingsMarkdown(findings, taxlot.FindingPlan{}))
	return subcommands.ExitSuccess
}
