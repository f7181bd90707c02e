package renderer

import (
	"fmt"
	"io"
	"strings"

	"github.com/etnz/taxlot"
)

// SalePreviewMarkdown renders the comparison of cost basis methods for a sale.
func SalePreviewMarkdown(p taxlot.SalePreview) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Sale Preview: %s %s at %s\n\n", p.Quantity, p.Symbol, p.Price)
	fmt.Fprintf(&b, "Account: %s, sale date: %s\n\n", p.AccountID, p.SaleDate)

	fmt.Fprint(&b, "## Cost Basis Methods\n\n")
	fmt.Fprintln(&b, "| Method | Proceeds | Cost Basis | Short-Term | Long-Term | Disallowed | Net Gain/Loss | Tax Impact |")
	fmt.Fprintln(&b, "|:---|---:|---:|---:|---:|---:|---:|---:|")
	for _, c := range p.Comparisons {
		name := c.Method.String()
		if c.Method == p.Recommendation.Method {
			name = "**" + name + "**"
		}
		if !c.Available() {
			fmt.Fprintf(&b, "| %s | unavailable | | | | | | |\n", name)
			continue
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			name,
			c.Summary.TotalProceeds,
			c.Summary.TotalCostBasis,
			c.Summary.ShortTermGainLoss.SignedString(),
			c.Summary.LongTermGainLoss.SignedString(),
			c.Summary.WashSaleDisallowed.SignedString(),
			c.Summary.NetGainLoss.SignedString(),
			c.TaxImpact.NetTaxImpact.SignedString(),
		)
	}
	fmt.Fprintln(&b)

	r := p.Recommendation
	fmt.Fprintf(&b, "**Recommended: %s**, net tax impact %s", r.Method, r.NetTaxImpact.SignedString())
	if r.Savings.IsPositive() {
		fmt.Fprintf(&b, ", saves %s", r.Savings)
	}
	fmt.Fprint(&b, "\n\n")
	if r.Reason != "" {
		fmt.Fprintf(&b, "%s\n\n", r.Reason)
	}

	fmt.Fprintf(&b, "## Lots Sold with %s\n\n", p.Selected.Method)
	if p.Selected.Available() {
		dispositionsTable(&b, p.Selected.LotsUsed)
	} else {
		fmt.Fprintf(&b, "Cannot be computed: %s.\n\n", p.Selected.Unavailable)
	}

	ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprint(w, "## Missing Cost Basis\n\n")
		fmt.Fprintf(w, "Lots without a recorded cost basis: %s. Methods selling them are unavailable until the basis is recorded.\n\n", strings.Join(p.NeedsCostBasis, ", "))
		return len(p.NeedsCostBasis) > 0
	})

	w := p.WashSale
	if w.HasRisk {
		fmt.Fprint(&b, "## Wash Sale\n\n")
		fmt.Fprintf(&b, "%s\n\n", w.Reason)
		if w.CurrentDisallowed.IsPositive() {
			fmt.Fprintf(&b, "Disallowed loss: %s\n\n", w.CurrentDisallowed)
		}
		if !w.BlockedUntil.IsZero() {
			fmt.Fprintf(&b, "Blocked until %s, safe to sell from %s.\n\n", w.BlockedUntil, w.SafeToSellDate)
		}
	}
	return b.String()
}

// dispositionsTable writes one row per lot sold.
func dispositionsTable(w io.Writer, dispositions []taxlot.Disposition) {
	fmt.Fprintln(w, "| Lot | Acquired | Shares | Cost Basis | Proceeds | Gain/Loss | Term | Disallowed |")
	fmt.Fprintln(w, "|:---|:---|---:|---:|---:|---:|:---|---:|")
	for _, d := range dispositions {
		fmt.Fprintf(w, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			cell(d.LotID),
			d.AcquisitionDate,
			d.Quantity,
			d.CostBasis,
			d.Proceeds,
			d.GainLoss.SignedString(),
			d.HoldingPeriod(),
			d.WashSaleDisallowed.SignedString(),
		)
	}
	fmt.Fprintln(w)
}

// SaleMarkdown renders a committed sale.
func SaleMarkdown(saleID string, res taxlot.SaleResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Sale %s\n\n", saleID)
	fmt.Fprintf(&b, "Sold %s %s at %s on %s from %s (%s)\n\n", res.Quantity, res.Symbol, res.Price, res.SaleDate, res.AccountID, res.Method)

	dispositionsTable(&b, res.Dispositions)

	fmt.Fprintln(&b, "| Total | Amount |")
	fmt.Fprintln(&b, "|:---|---:|")
	fmt.Fprintf(&b, "| Proceeds | %s |\n", res.TotalProceeds)
	fmt.Fprintf(&b, "| Cost Basis | %s |\n", res.TotalCostBasis)
	fmt.Fprintf(&b, "| Short-Term | %s |\n", res.ShortTermGainLoss.SignedString())
	fmt.Fprintf(&b, "| Long-Term | %s |\n", res.LongTermGainLoss.SignedString())
	fmt.Fprintf(&b, "| Wash Sale Disallowed | %s |\n", res.WashSaleDisallowed.SignedString())
	fmt.Fprintf(&b, "| **Net Gain/Loss** | **%s** |\n", res.NetGainLoss.SignedString())
	fmt.Fprintln(&b)

	ConditionalBlock(&b, func(w io.Writer) bool {
		fmt.Fprint(w, "## Basis Adjustments\n\n")
		fmt.Fprintln(w, "| Replacement Lot | Shares | Basis Added | Sold Lot |")
		fmt.Fprintln(w, "|:---|---:|---:|:---|")
		for _, a := range res.Adjustments {
			fmt.Fprintf(w, "| %s | %s | %s | %s |\n", cell(a.LotID), a.Quantity, a.Amount, cell(a.SourceLotID))
		}
		fmt.Fprintln(w)
		return len(res.Adjustments) > 0
	})
	return b.String()
}

// PurchaseMarkdown renders a recorded acquisition.
func PurchaseMarkdown(lot taxlot.TaxLot, m taxlot.PurchaseMatch) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Lot %s\n\n", lot.ID)
	fmt.Fprintf(&b, "%s %s %s in %s on %s, basis %s (%s per share)\n\n",
		lot.AcquisitionType, lot.OriginalQuantity, lot.Symbol, lot.AccountID, lot.AcquisitionDate, lot.TotalCostBasis, lot.CostBasisPerShare)

	if m.IsWashSale() {
		fmt.Fprintf(&b, "This purchase replaces %s shares sold at a loss within 30 days: %s of loss is disallowed and added to the basis.\n\n", m.Quantity, m.Amount)
		fmt.Fprintln(&b, "| Disposition | Shares | Disallowed |")
		fmt.Fprintln(&b, "|:---|---:|---:|")
		for _, a := range m.Adjustments {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", a.DispositionID, a.Quantity, a.Amount)
		}
		fmt.Fprintln(&b)
	}
	return b.String()
}
