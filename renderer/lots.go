package renderer

import (
	"fmt"
	"io"
	"strings"

	"github.com/etnz/taxlot"
)

// LotsMarkdown renders the open lots valued at market, and a summary per position.
func LotsMarkdown(views []taxlot.LotView, positions []taxlot.PositionSummary) string {
	var b strings.Builder

	fmt.Fprint(&b, "# Open Lots\n\n")
	if len(views) == 0 {
		fmt.Fprint(&b, "No open lots.\n")
		return b.String()
	}

	fmt.Fprintln(&b, "| Lot | Symbol | Acquired | Type | Shares | Cost/Share | Cost Basis | Price | Value | Gain/Loss | % | Term |")
	fmt.Fprintln(&b, "|:---|:---|:---|:---|---:|---:|---:|---:|---:|---:|---:|:---|")
	for _, v := range views {
		price, gain, pct := v.CurrentPrice.String(), v.UnrealizedGainLoss.SignedString(), v.UnrealizedGainLossPercent.Format(1)
		if !v.PriceAvailable {
			price, gain, pct = "n/a", "n/a", "n/a"
		}
		basis := v.TotalCostBasis.String()
		if v.BasisUnknown {
			basis = "unknown"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s | %s | %s | %s | %s |\n",
			cell(v.ID), v.Symbol, v.AcquisitionDate, v.AcquisitionType,
			v.RemainingQuantity, v.CostBasisPerShare, basis,
			price, v.CurrentValue, gain, pct, v.HoldingPeriod)
	}
	fmt.Fprintln(&b)

	ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprint(w, "## Positions\n\n")
		fmt.Fprintln(w, "| Account | Symbol | Lots | Shares | Cost Basis | Average Cost | Oldest | Newest |")
		fmt.Fprintln(w, "|:---|:---|---:|---:|---:|---:|:---|:---|")
		for _, p := range positions {
			fmt.Fprintf(w, "| %s | %s | %d | %s | %s | %s | %s | %s |\n",
				p.AccountID, p.Symbol, p.Lots, p.TotalQuantity, p.TotalCostBasis, p.AverageCost, p.OldestLot, p.NewestLot)
		}
		fmt.Fprintln(w)
		return len(positions) > 0
	})
	return b.String()
}

// SafeToSellMarkdown renders when a symbol can be sold at a loss.
func SafeToSellMarkdown(s taxlot.SafeToSell) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Symbol)
	if s.Safe {
		fmt.Fprintf(&b, "Safe to sell at a loss today (%s).\n", s.SafeDate)
		return b.String()
	}
	fmt.Fprintf(&b, "Not safe to sell at a loss before **%s**.\n\n", s.SafeDate)
	fmt.Fprintf(&b, "%s\n", s.Reason)
	return b.String()
}

// FindingsMarkdown renders the persisted harvest findings, and the changes
// of the last scan if any.
func FindingsMarkdown(findings []taxlot.Finding, plan taxlot.FindingPlan) string {
	var b strings.Builder
	fmt.Fprint(&b, "# Harvest Findings\n\n")

	ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprintf(w, "Last scan: %d new, %d refreshed, %d expired.\n\n", len(plan.Create), len(plan.Refresh), len(plan.Expire))
		return !plan.IsEmpty()
	})

	if len(findings) == 0 {
		fmt.Fprint(&b, "No findings.\n")
		return b.String()
	}
	fmt.Fprintln(&b, "| Symbol | Status | Loss | Tax Savings | Accounts | Created | Updated | Expires |")
	fmt.Fprintln(&b, "|:---|:---|---:|---:|:---|:---|:---|:---|")
	for _, f := range findings {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			f.Symbol, f.Status, loss(f.Loss), f.TaxSavings, cell(strings.Join(f.Accounts, ", ")), f.CreatedAt, f.UpdatedAt, f.ExpiresAt)
	}
	return b.String()
}

// AccountsMarkdown renders the registered accounts.
func AccountsMarkdown(accounts []taxlot.Account) string {
	var b strings.Builder
	fmt.Fprint(&b, "# Accounts\n\n")
	if len(accounts) == 0 {
		fmt.Fprint(&b, "No accounts.\n")
		return b.String()
	}
	fmt.Fprintln(&b, "| Id | Name | Type | Taxable | Open Lots |")
	fmt.Fprintln(&b, "|:---|:---|:---|:---|---:|")
	for _, a := range accounts {
		taxable := "yes"
		if !a.Type.IsTaxable() {
			taxable = "no"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d |\n", cell(a.ID), cell(a.Name), cell(string(a.Type)), taxable, len(a.Lots))
	}
	return b.String()
}
