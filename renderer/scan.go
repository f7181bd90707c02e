package renderer

import (
	"fmt"
	"io"
	"strings"

	"github.com/etnz/taxlot"
)

// ScanMarkdown renders a harvest scan: actionable opportunities first, then
// the blocked ones and the warnings.
func ScanMarkdown(r taxlot.ScanResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Tax-Loss Harvesting as of %s\n\n", r.AsOf)

	s := r.Summary
	fmt.Fprintln(&b, "| Summary | |")
	fmt.Fprintln(&b, "|:---|---:|")
	fmt.Fprintf(&b, "| Harvestable Losses | %s |\n", loss(s.TotalHarvestable))
	fmt.Fprintf(&b, "| Estimated Tax Savings | %s |\n", s.TotalTaxSavings)
	fmt.Fprintf(&b, "| Actionable | %d |\n", s.ActionableCount)
	fmt.Fprintf(&b, "| Blocked | %d |\n", s.BlockedCount)
	fmt.Fprintln(&b)

	ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprint(w, "## Opportunities\n\n")
		fmt.Fprintln(w, "| Symbol | Account | Shares | Cost Basis | Value | Loss | Term | Tax Savings | Wash Sale |")
		fmt.Fprintln(w, "|:---|:---|---:|---:|---:|---:|:---|---:|:---|")
		n := 0
		for _, o := range r.Opportunities {
			if !o.IsActionable {
				continue
			}
			n++
			fmt.Fprintf(w, "| %s | %s | %s | %s | %s | %s | %s | %s | %s |\n",
				o.Symbol, cell(o.AccountName), o.Shares, o.CostBasis, o.CurrentValue,
				loss(o.UnrealizedLoss), o.HoldingPeriod, o.TaxSavings, o.WashSaleRisk)
		}
		fmt.Fprintln(w)
		for _, o := range r.Opportunities {
			if !o.IsActionable {
				continue
			}
			fmt.Fprintf(w, "- **%s**: %s", o.Symbol, o.CalculationBreakdown)
			if o.WashSaleNote != "" {
				fmt.Fprintf(w, ". %s", o.WashSaleNote)
			}
			if len(o.Substitutes) > 0 {
				var alts []string
				for _, a := range o.Substitutes {
					alts = append(alts, a.Symbol)
				}
				fmt.Fprintf(w, ". Alternatives: %s", strings.Join(alts, ", "))
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
		return n > 0
	})

	ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprint(w, "## Blocked\n\n")
		fmt.Fprintln(w, "| Symbol | Account | Loss | Safe to Sell | Blockers |")
		fmt.Fprintln(w, "|:---|:---|---:|:---|:---|")
		n := 0
		for _, o := range r.Opportunities {
			if o.IsActionable {
				continue
			}
			n++
			fmt.Fprintf(w, "| %s | %s | %s | %s | %s |\n",
				o.Symbol, cell(o.AccountName), loss(o.UnrealizedLoss), cell(o.SafeToSellDate.String()), cell(strings.Join(o.Blockers, "; ")))
		}
		fmt.Fprintln(w)
		return n > 0
	})

	ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprint(w, "## Warnings\n\n")
		for _, m := range r.Warnings {
			fmt.Fprintf(w, "- %s\n", m)
		}
		fmt.Fprintln(w)
		return len(r.Warnings) > 0
	})
	return b.String()
}

// HarvestPlanMarkdown renders the lots selected to realize a target loss.
func HarvestPlanMarkdown(selected []taxlot.LotCandidate, target taxlot.Money) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Harvest Plan for %s\n\n", target)
	if len(selected) == 0 {
		fmt.Fprint(&b, "No lot can be harvested.\n")
		return b.String()
	}
	fmt.Fprintln(&b, "| Lot | Account | Symbol | Shares | Price | Loss | Term |")
	fmt.Fprintln(&b, "|:---|:---|:---|---:|---:|---:|:---|")
	var total taxlot.Money
	for _, c := range selected {
		total = total.Add(c.Loss)
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			cell(c.Lot.ID), cell(c.Lot.AccountID), c.Lot.Symbol, c.Lot.RemainingQuantity, c.Price, loss(c.Loss), c.HoldingPeriod)
	}
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Total loss realized: %s", loss(total))
	if total.LessThan(target) {
		fmt.Fprintf(&b, ", short of the target by %s", target.Sub(total))
	}
	fmt.Fprintln(&b)
	return b.String()
}
