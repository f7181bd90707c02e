package taxlot

import (
	"errors"
	"fmt"

	"github.com/etnz/taxlot/date"
)

// SaleSummary is the headline figures of a sale.
type SaleSummary struct {
	TotalProceeds      Money `json:"totalProceeds"`
	TotalCostBasis     Money `json:"totalCostBasis"`
	GrossGainLoss      Money `json:"grossGainLoss"`
	ShortTermGainLoss  Money `json:"shortTermGainLoss"`
	LongTermGainLoss   Money `json:"longTermGainLoss"`
	WashSaleDisallowed Money `json:"washSaleDisallowed"`
	NetGainLoss        Money `json:"netGainLoss"`
}

// Summary returns the headline figures of the sale.
func (r SaleResult) Summary() SaleSummary {
	return SaleSummary{
		TotalProceeds:      r.TotalProceeds,
		TotalCostBasis:     r.TotalCostBasis,
		GrossGainLoss:      r.GrossGainLoss,
		ShortTermGainLoss:  r.ShortTermGainLoss,
		LongTermGainLoss:   r.LongTermGainLoss,
		WashSaleDisallowed: r.WashSaleDisallowed,
		NetGainLoss:        r.NetGainLoss,
	}
}

// MethodComparison is the outcome of the sale with one cost basis method.
type MethodComparison struct {
	Method    CostBasisMethod `json:"method"`
	Summary   SaleSummary     `json:"summary"`
	TaxImpact TaxImpact       `json:"taxImpact"`
	LotsUsed  []Disposition   `json:"lotsUsed"`
	Result    SaleResult      `json:"-"`
	// Unavailable tells why the method could not be computed.
	Unavailable string `json:"unavailable,omitempty"`
}

// Available reports whether the method could be computed.
func (c MethodComparison) Available() bool { return c.Unavailable == "" }

// Recommendation names the method with the lowest tax.
type Recommendation struct {
	Method       CostBasisMethod `json:"method"`
	NetTaxImpact Money           `json:"netTaxImpact"`
	// Savings is what the recommended method saves compared to the worst one.
	Savings Money  `json:"savings"`
	Reason  string `json:"reason"`
}

// WashSaleAnalysis tells whether selling now runs into the wash-sale rule.
type WashSaleAnalysis struct {
	HasRisk        bool      `json:"hasRisk"`
	SafeToSellDate date.Date `json:"safeToSellDate"`
	BlockedUntil   date.Date `json:"blockedUntil"`
	Reason         string    `json:"reason"`
	// CurrentDisallowed is the loss the selected method would have disallowed.
	CurrentDisallowed Money `json:"currentDisallowed"`
}

// SalePreview compares the ways a sale could be carried out.
type SalePreview struct {
	AccountID      string             `json:"accountId"`
	Symbol         string             `json:"symbol"`
	Quantity       Quantity           `json:"quantity"`
	Price          Money              `json:"price"`
	SaleDate       date.Date          `json:"saleDate"`
	AvailableLots  []LotView          `json:"availableLots"`
	Comparisons    []MethodComparison `json:"comparisons"`
	Recommendation Recommendation     `json:"recommendation"`
	// Selected is the comparison of the requested method.
	Selected MethodComparison `json:"selected"`
	WashSale WashSaleAnalysis `json:"washSaleAnalysis"`
	// NeedsCostBasis lists the open lots without a known cost basis.
	NeedsCostBasis []string `json:"needsCostBasis,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Comparison returns the comparison of method.
func (p SalePreview) Comparison(method CostBasisMethod) (MethodComparison, bool) {
	for _, c := range p.Comparisons {
		if c.Method == method {
			return c, true
		}
	}
	return MethodComparison{}, false
}

// PreviewSale computes req with FIFO, LIFO and HIFO, plus the requested
// method when it names specific lots, and recommends the one with the lowest
// net tax. Ties go to the first method in FIFO, LIFO, HIFO order.
//
// A method reaching a lot without a known cost basis is reported unavailable
// and the others are still compared. The preview fails only when no method
// can be computed.
//
// Nothing is committed. lots are the open lots of the account, history the
// trade history used for wash-sale checks.
func PreviewSale(lots []TaxLot, req SaleRequest, history []Transaction, profile TaxProfile, detector WashSaleDetector, estimator Estimator) (SalePreview, error) {
	req.Symbol = NormalizeSymbol(req.Symbol)
	if err := req.Validate(); err != nil {
		return SalePreview{}, err
	}
	open := openLots(lots, req.AccountID, req.Symbol)
	p := SalePreview{
		AccountID:     req.AccountID,
		Symbol:        req.Symbol,
		Quantity:      req.Quantity,
		Price:         req.Price,
		SaleDate:      req.SaleDate,
		AvailableLots: EnrichLotsWithMarketData(open, Quotes{req.Symbol: req.Price}, req.SaleDate),
	}

	for _, l := range open {
		if l.BasisUnknown {
			p.NeedsCostBasis = append(p.NeedsCostBasis, l.ID)
		}
	}

	methods := ComparedMethods
	if req.Method == SpecificLots {
		methods = append(methods[:len(methods):len(methods)], SpecificLots)
	}
	var unknown error
	for _, m := range methods {
		r := req
		r.Method = m
		res, err := CalculateSaleResult(open, r, history, detector)
		if errors.Is(err, ErrUnknownBasis) {
			unknown = err
			p.Comparisons = append(p.Comparisons, MethodComparison{Method: m, Unavailable: err.Error()})
			p.Warnings = append(p.Warnings, fmt.Sprintf("%s cannot be computed: %v", m, err))
			continue
		}
		if err != nil {
			return SalePreview{}, err
		}
		impact, err := estimator.SaleImpact(res, profile)
		if err != nil {
			return SalePreview{}, err
		}
		p.Comparisons = append(p.Comparisons, MethodComparison{
			Method:    m,
			Summary:   res.Summary(),
			TaxImpact: impact,
			LotsUsed:  res.Dispositions,
			Result:    res,
		})
	}

	var best, worst *MethodComparison
	for i := range p.Comparisons {
		c := &p.Comparisons[i]
		if c.Method == SpecificLots || !c.Available() {
			continue
		}
		if best == nil || c.TaxImpact.NetTaxImpact.LessThan(best.TaxImpact.NetTaxImpact) {
			best = c
		}
		if worst == nil || c.TaxImpact.NetTaxImpact.GreaterThan(worst.TaxImpact.NetTaxImpact) {
			worst = c
		}
	}
	switch {
	case best == nil && req.Method != SpecificLots:
		return SalePreview{}, unknown
	case best == nil:
		// only the requested lots avoid the unknown basis.
		c, _ := p.Comparison(SpecificLots)
		if !c.Available() {
			return SalePreview{}, unknown
		}
		p.Recommendation = Recommendation{
			Method:       SpecificLots,
			NetTaxImpact: c.TaxImpact.NetTaxImpact,
			Reason:       "every other method reaches a lot without a known cost basis",
		}
	default:
		p.Recommendation = Recommendation{
			Method:       best.Method,
			NetTaxImpact: best.TaxImpact.NetTaxImpact,
			Savings:      worst.TaxImpact.NetTaxImpact.Sub(best.TaxImpact.NetTaxImpact),
		}
		if p.Recommendation.Savings.IsPositive() {
			p.Recommendation.Reason = fmt.Sprintf("%s has the lowest tax impact, %s less than %s", best.Method, p.Recommendation.Savings, worst.Method)
		} else {
			p.Recommendation.Reason = fmt.Sprintf("all methods have the same tax impact, %s is used", best.Method)
		}
	}
	p.Selected, _ = p.Comparison(req.Method)

	var sold []string
	for _, d := range p.Selected.LotsUsed {
		sold = append(sold, d.LotID)
	}
	safe := detector.FindSafeToSellDate(req.Symbol, history, req.SaleDate, sold...)
	p.WashSale = WashSaleAnalysis{
		HasRisk:           !safe.Safe || p.Selected.Summary.WashSaleDisallowed.IsPositive(),
		SafeToSellDate:    safe.SafeDate,
		BlockedUntil:      safe.BlockedUntil,
		Reason:            safe.Reason,
		CurrentDisallowed: p.Selected.Summary.WashSaleDisallowed,
	}
	return p, nil
}
