package taxlot

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/etnz/taxlot/date"
)

// SaleRequest describes a sale of shares of one symbol from one account.
type SaleRequest struct {
	AccountID string          `json:"accountId"`
	Symbol    string          `json:"symbol"`
	Quantity  Quantity        `json:"quantity"`
	Price     Money           `json:"price"` // per share
	SaleDate  date.Date       `json:"saleDate"`
	Method    CostBasisMethod `json:"method"`
	// SpecificLotIDs lists the lots to sell, in order, when Method is SpecificLots.
	SpecificLotIDs []string `json:"specificLotIds,omitempty"`
}

// Validate checks the shape of the request.
func (r SaleRequest) Validate() error {
	if r.Symbol == "" {
		return invalid("symbol", "is required")
	}
	if !r.Quantity.IsPositive() {
		return invalid("quantity", "must be positive, got %s", r.Quantity)
	}
	if !r.Price.IsPositive() {
		return invalid("price", "must be positive, got %s", r.Price)
	}
	if r.SaleDate.IsZero() {
		return invalid("saleDate", "is required")
	}
	switch r.Method {
	case FIFO, LIFO, HIFO:
	case SpecificLots:
		if len(r.SpecificLotIDs) == 0 {
			return invalid("specificLotIds", "required with the %s method", r.Method)
		}
	default:
		return invalid("method", "unknown cost basis method %d", r.Method)
	}
	return nil
}

// Disposition is the part of a sale taken from a single lot.
type Disposition struct {
	LotID             string    `json:"lotId"`
	LotVersion        int64     `json:"lotVersion"`
	Quantity          Quantity  `json:"quantity"`
	ProceedsPerShare  Money     `json:"proceedsPerShare"`
	CostBasisPerShare Money     `json:"costBasisPerShare"`
	Proceeds          Money     `json:"proceeds"`
	CostBasis         Money     `json:"costBasis"`
	AcquisitionDate   date.Date `json:"acquisitionDate"`
	SaleDate          date.Date `json:"saleDate"`
	// GainLoss is Proceeds minus CostBasis, negative for a loss.
	GainLoss    Money `json:"gainLoss"`
	IsShortTerm bool  `json:"isShortTerm"`
	// WashSaleDisallowed is the part of the loss that cannot be claimed, a positive amount.
	WashSaleDisallowed Money    `json:"washSaleDisallowed"`
	WashSaleQuantity   Quantity `json:"washSaleQuantity"`
	ReplacementLotIDs  []string `json:"replacementLotIds,omitempty"`
}

// AdjustedGainLoss is the gain or loss that can be reported: a wash sale
// disallows part of a loss.
func (d Disposition) AdjustedGainLoss() Money { return d.GainLoss.Add(d.WashSaleDisallowed) }

// IsLoss reports whether the disposition realizes a loss.
func (d Disposition) IsLoss() bool { return d.GainLoss.IsNegative() }

// HoldingPeriod returns the classification of the disposed shares.
func (d Disposition) HoldingPeriod() HoldingPeriod {
	if d.IsShortTerm {
		return ShortTerm
	}
	return LongTerm
}

// BasisAdjustment moves a disallowed loss into the basis of a replacement lot.
// Only the basis changes, never the quantity.
type BasisAdjustment struct {
	LotID         string   `json:"lotId"`
	TransactionID string   `json:"transactionId"`
	Quantity      Quantity `json:"quantity"` // replacement shares used
	Amount        Money    `json:"amount"`
	SourceLotID   string   `json:"sourceLotId"` // lot sold at a loss
}

// SaleResult is the outcome of a sale, before or after it is committed.
type SaleResult struct {
	AccountID          string            `json:"accountId"`
	Symbol             string            `json:"symbol"`
	Method             CostBasisMethod   `json:"method"`
	SaleDate           date.Date         `json:"saleDate"`
	Quantity           Quantity          `json:"quantity"`
	Price              Money             `json:"price"`
	Dispositions       []Disposition     `json:"dispositions"`
	Adjustments        []BasisAdjustment `json:"adjustments,omitempty"`
	TotalProceeds      Money             `json:"totalProceeds"`
	TotalCostBasis     Money             `json:"totalCostBasis"`
	GrossGainLoss      Money             `json:"grossGainLoss"`
	ShortTermGainLoss  Money             `json:"shortTermGainLoss"`
	LongTermGainLoss   Money             `json:"longTermGainLoss"`
	WashSaleDisallowed Money             `json:"washSaleDisallowed"`
	NetGainLoss        Money             `json:"netGainLoss"`
}

// SortLots returns the lots in the order a sale with method consumes them.
//
// FIFO sorts by acquisition date, LIFO by acquisition date descending. HIFO
// sorts by per-share basis descending and, as a matter of policy, sells the
// oldest lot first among lots with the same basis. Remaining ties are broken
// on the lot id so that the order never depends on the input order.
//
// With SpecificLots only the lots named in ids are returned, in that order.
func SortLots(lots []TaxLot, method CostBasisMethod, ids []string) ([]TaxLot, error) {
	if method == SpecificLots {
		byID := make(map[string]TaxLot, len(lots))
		for _, l := range lots {
			byID[l.ID] = l
		}
		seen := make(map[string]bool, len(ids))
		res := make([]TaxLot, 0, len(ids))
		for _, id := range ids {
			if seen[id] {
				return nil, invalid("specificLotIds", "lot %q listed twice", id)
			}
			seen[id] = true
			l, ok := byID[id]
			if !ok || !l.IsOpen() {
				return nil, fmt.Errorf("%w: %q", ErrUnknownLot, id)
			}
			res = append(res, l)
		}
		return res, nil
	}

	res := slices.Clone(lots)
	byDate := func(a, b TaxLot) int {
		switch {
		case a.AcquisitionDate.Before(b.AcquisitionDate):
			return -1
		case a.AcquisitionDate.After(b.AcquisitionDate):
			return 1
		}
		return 0
	}
	var f func(a, b TaxLot) int
	switch method {
	case FIFO:
		f = func(a, b TaxLot) int { return cmp.Or(byDate(a, b), cmp.Compare(a.ID, b.ID)) }
	case LIFO:
		f = func(a, b TaxLot) int { return cmp.Or(byDate(b, a), cmp.Compare(a.ID, b.ID)) }
	case HIFO:
		f = func(a, b TaxLot) int {
			return cmp.Or(b.CostBasisPerShare.Decimal().Cmp(a.CostBasisPerShare.Decimal()), byDate(a, b), cmp.Compare(a.ID, b.ID))
		}
	default:
		return nil, invalid("method", "unknown cost basis method %d", method)
	}
	slices.SortFunc(res, f)
	return res, nil
}

// openLots returns the open lots of the account and symbol.
func openLots(lots []TaxLot, accountID, symbol string) []TaxLot {
	var res []TaxLot
	for _, l := range lots {
		if l.AccountID == accountID && l.Symbol == symbol && l.IsOpen() {
			res = append(res, l)
		}
	}
	return res
}

// CalculateSaleResult computes the dispositions of a sale over lots, checks
// them for wash sales against history and aggregates the result.
//
// It is a pure function: lots and history are not modified, and the same
// inputs always give the same result. Lots of other accounts or symbols are
// ignored. history should cover at least the 30 days on each side of the sale
// date, across every account of the taxpayer.
func CalculateSaleResult(lots []TaxLot, req SaleRequest, history []Transaction, detector WashSaleDetector) (SaleResult, error) {
	req.Symbol = NormalizeSymbol(req.Symbol)
	if err := req.Validate(); err != nil {
		return SaleResult{}, err
	}
	ordered, err := SortLots(openLots(lots, req.AccountID, req.Symbol), req.Method, req.SpecificLotIDs)
	if err != nil {
		return SaleResult{}, err
	}

	var available Quantity
	for _, l := range ordered {
		available = available.Add(l.RemainingQuantity)
	}
	if available.LessThan(req.Quantity) {
		return SaleResult{}, &InsufficientSharesError{
			AccountID: req.AccountID,
			Symbol:    req.Symbol,
			Available: available,
			Requested: req.Quantity,
		}
	}

	var dispositions []Disposition
	needed := req.Quantity
	for _, l := range ordered {
		if needed.IsZero() {
			break
		}
		if l.BasisUnknown {
			return SaleResult{}, &UnknownBasisError{LotID: l.ID}
		}
		q := MinQ(l.RemainingQuantity, needed)
		needed = needed.Sub(q)
		proceeds := req.Price.Mul(q)
		basis := l.costOf(q)
		dispositions = append(dispositions, Disposition{
			LotID:             l.ID,
			LotVersion:        l.Version,
			Quantity:          q,
			ProceedsPerShare:  req.Price,
			CostBasisPerShare: l.CostBasisPerShare,
			Proceeds:          proceeds,
			CostBasis:         basis,
			AcquisitionDate:   l.AcquisitionDate,
			SaleDate:          req.SaleDate,
			GainLoss:          proceeds.Sub(basis),
			IsShortTerm:       IsShortTerm(l.AcquisitionDate, req.SaleDate),
		})
	}

	dispositions, adjustments := detector.ApplyToDispositions(req.Symbol, dispositions, history)

	res := SaleResult{
		AccountID:    req.AccountID,
		Symbol:       req.Symbol,
		Method:       req.Method,
		SaleDate:     req.SaleDate,
		Quantity:     req.Quantity,
		Price:        req.Price,
		Dispositions: dispositions,
		Adjustments:  adjustments,
	}
	for _, d := range dispositions {
		res.TotalProceeds = res.TotalProceeds.Add(d.Proceeds)
		res.TotalCostBasis = res.TotalCostBasis.Add(d.CostBasis)
		res.WashSaleDisallowed = res.WashSaleDisallowed.Add(d.WashSaleDisallowed)
		if d.IsShortTerm {
			res.ShortTermGainLoss = res.ShortTermGainLoss.Add(d.AdjustedGainLoss())
		} else {
			res.LongTermGainLoss = res.LongTermGainLoss.Add(d.AdjustedGainLoss())
		}
	}
	res.GrossGainLoss = res.TotalProceeds.Sub(res.TotalCostBasis)
	res.NetGainLoss = res.ShortTermGainLoss.Add(res.LongTermGainLoss)
	return res, nil
}

// LotCandidate is a lot that can be sold to realize a loss.
type LotCandidate struct {
	Lot           TaxLot        `json:"lot"`
	Price         Money         `json:"price"`
	Loss          Money         `json:"loss"` // positive amount
	HoldingPeriod HoldingPeriod `json:"holdingPeriod"`
	DaysHeld      int           `json:"daysHeld"`
}

// FindLotLevelHarvestOpportunities returns the lots trading below their basis
// by at least minLoss, largest loss first. Lots without a quote or a known
// basis are left out.
func FindLotLevelHarvestOpportunities(lots []TaxLot, quotes Quotes, asOf date.Date, minLoss Money) []LotCandidate {
	var res []LotCandidate
	for _, l := range lots {
		price, ok := quotes[l.Symbol]
		if !ok || !l.IsOpen() || l.BasisUnknown {
			continue
		}
		loss := l.TotalCostBasis.Sub(price.Mul(l.RemainingQuantity))
		if !loss.IsPositive() || loss.LessThan(minLoss) {
			continue
		}
		hp, days := HoldingPeriodOf(l.AcquisitionDate, asOf)
		res = append(res, LotCandidate{Lot: l, Price: price, Loss: loss, HoldingPeriod: hp, DaysHeld: days})
	}
	slices.SortStableFunc(res, func(a, b LotCandidate) int {
		return cmp.Or(b.Loss.Decimal().Cmp(a.Loss.Decimal()), cmp.Compare(a.Lot.ID, b.Lot.ID))
	})
	return res
}

// SelectHarvestLots picks candidates until their losses reach target.
//
// Short-term losses are taken first, then larger losses. A zero target
// selects every candidate.
func SelectHarvestLots(candidates []LotCandidate, target Money) []LotCandidate {
	ordered := slices.Clone(candidates)
	slices.SortStableFunc(ordered, func(a, b LotCandidate) int {
		return cmp.Or(cmp.Compare(a.HoldingPeriod, b.HoldingPeriod), b.Loss.Decimal().Cmp(a.Loss.Decimal()))
	})
	if !target.IsPositive() {
		return ordered
	}
	var (
		res   []LotCandidate
		total Money
	)
	for _, c := range ordered {
		if total.GreaterThanOrEqual(target) {
			break
		}
		res = append(res, c)
		total = total.Add(c.Loss)
	}
	return res
}
