package taxlot

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/etnz/taxlot/date"
)

// AcquisitionType tells how the shares of a lot were acquired.
type AcquisitionType int

const (
	Purchase AcquisitionType = iota
	DividendReinvestment
	TransferIn
	// WashSaleReplacement lots were bought within 30 days after a loss sale and
	// carry the disallowed part of that loss in their basis.
	WashSaleReplacement
)

func (a AcquisitionType) String() string {
	switch a {
	case Purchase:
		return "purchase"
	case DividendReinvestment:
		return "dividend-reinvestment"
	case TransferIn:
		return "transfer-in"
	case WashSaleReplacement:
		return "wash-sale-replacement"
	default:
		return "unknown"
	}
}

// ParseAcquisitionType parses the string form of an AcquisitionType.
func ParseAcquisitionType(s string) (AcquisitionType, error) {
	switch strings.ToLower(s) {
	case "purchase", "buy":
		return Purchase, nil
	case "dividend-reinvestment", "reinvest", "drip":
		return DividendReinvestment, nil
	case "transfer-in", "transfer":
		return TransferIn, nil
	case "wash-sale-replacement":
		return WashSaleReplacement, nil
	default:
		return 0, fmt.Errorf("unknown acquisition type: %q", s)
	}
}

func (a AcquisitionType) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

func (a *AcquisitionType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseAcquisitionType(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// TaxLot is a block of shares of one symbol acquired in one account on one date at one basis.
//
// TotalCostBasis is the basis of the shares still held. At creation it is
// CostBasisPerShare times OriginalQuantity. Every disposition removes the
// basis of the shares sold, so that it stays CostBasisPerShare times
// RemainingQuantity, up to rounding. A wash-sale adjustment changes the basis,
// never the quantities.
type TaxLot struct {
	ID                string          `json:"id"`
	AccountID         string          `json:"accountId"`
	Symbol            string          `json:"symbol"`
	OriginalQuantity  Quantity        `json:"originalQuantity"`
	RemainingQuantity Quantity        `json:"remainingQuantity"`
	CostBasisPerShare Money           `json:"costBasisPerShare"`
	TotalCostBasis    Money           `json:"totalCostBasis"`
	AcquisitionDate   date.Date       `json:"acquisitionDate"`
	AcquisitionType   AcquisitionType `json:"acquisitionType"`
	IsCovered         bool            `json:"isCovered"`
	BasisUnknown      bool            `json:"basisUnknown,omitempty"`
	// WashSaleAdjustment is the disallowed loss added to this lot's basis so far.
	WashSaleAdjustment Money `json:"washSaleAdjustment"`
	Version            int64 `json:"version"`
}

// IsOpen reports whether the lot still holds shares.
func (l TaxLot) IsOpen() bool { return l.RemainingQuantity.IsPositive() }

// costOf returns the basis of q shares out of the remaining ones.
//
// Selling every remaining share returns the whole remaining basis, so that no
// rounding residue is left on a closed lot.
func (l TaxLot) costOf(q Quantity) Money {
	if q.Equal(l.RemainingQuantity) {
		return l.TotalCostBasis
	}
	return l.TotalCostBasis.Mul(q).Div(l.RemainingQuantity)
}

// Reduce returns the lot after q shares were disposed of.
func (l TaxLot) Reduce(q Quantity) TaxLot {
	l.TotalCostBasis = l.TotalCostBasis.Sub(l.costOf(q))
	l.RemainingQuantity = l.RemainingQuantity.Sub(q)
	return l
}

// AdjustBasis returns the lot with amount added to its basis. The quantity is unchanged.
func (l TaxLot) AdjustBasis(amount Money) TaxLot {
	l.TotalCostBasis = l.TotalCostBasis.Add(amount)
	l.WashSaleAdjustment = l.WashSaleAdjustment.Add(amount)
	if l.RemainingQuantity.IsPositive() {
		l.CostBasisPerShare = l.TotalCostBasis.Div(l.RemainingQuantity)
	}
	return l
}

// HoldingPeriod classifies how long shares were held before being sold.
type HoldingPeriod int

const (
	ShortTerm HoldingPeriod = iota
	LongTerm
	// Mixed is only used for summaries spanning both short and long term lots.
	Mixed
)

func (h HoldingPeriod) String() string {
	switch h {
	case ShortTerm:
		return "short-term"
	case LongTerm:
		return "long-term"
	case Mixed:
		return "mixed"
	default:
		return "unknown"
	}
}

func (h HoldingPeriod) MarshalJSON() ([]byte, error) { return json.Marshal(h.String()) }

// IsShortTerm reports whether shares acquired on acquired and sold on sold
// were held one year or less.
//
// The year is a calendar year: shares bought on 2023-01-15 are short-term
// when sold on 2024-01-15 and long-term from 2024-01-16.
func IsShortTerm(acquired, sold date.Date) bool {
	return !sold.After(acquired.AddYears(1))
}

// HoldingPeriodOf returns the classification of shares acquired on acquired
// if they were sold on asOf, and the number of days they have been held.
func HoldingPeriodOf(acquired, asOf date.Date) (HoldingPeriod, int) {
	days := asOf.DaysSince(acquired)
	if IsShortTerm(acquired, asOf) {
		return ShortTerm, days
	}
	return LongTerm, days
}

// NewLot describes shares entering an account.
type NewLot struct {
	AccountID     string          `json:"accountId"`
	Symbol        string          `json:"symbol"`
	Quantity      Quantity        `json:"quantity"`
	PricePerShare Money           `json:"pricePerShare"`
	Fees          Money           `json:"fees"`
	Date          date.Date       `json:"date"`
	Type          AcquisitionType `json:"type"`
	IsCovered     bool            `json:"isCovered"`
	BasisUnknown  bool            `json:"basisUnknown,omitempty"`
}

// Validate checks the lot can be recorded.
func (n NewLot) Validate() error {
	if n.AccountID == "" {
		return invalid("accountId", "is required")
	}
	if n.Symbol == "" {
		return invalid("symbol", "is required")
	}
	if !n.Quantity.IsPositive() {
		return invalid("quantity", "must be positive, got %s", n.Quantity)
	}
	if n.Date.IsZero() {
		return invalid("date", "is required")
	}
	if n.BasisUnknown {
		return nil
	}
	if n.PricePerShare.IsNegative() {
		return invalid("pricePerShare", "must not be negative, got %s", n.PricePerShare)
	}
	if n.Fees.IsNegative() {
		return invalid("fees", "must not be negative, got %s", n.Fees)
	}
	return nil
}

// Lot returns the TaxLot created by n, with the given id.
func (n NewLot) Lot(id string) TaxLot {
	total := n.PricePerShare.Mul(n.Quantity).Add(n.Fees)
	perShare := n.PricePerShare
	if !n.Fees.IsZero() {
		perShare = total.Div(n.Quantity)
	}
	if n.BasisUnknown {
		total, perShare = Money{}, Money{}
	}
	return TaxLot{
		ID:                id,
		AccountID:         n.AccountID,
		Symbol:            NormalizeSymbol(n.Symbol),
		OriginalQuantity:  n.Quantity,
		RemainingQuantity: n.Quantity,
		CostBasisPerShare: perShare,
		TotalCostBasis:    total,
		AcquisitionDate:   n.Date,
		AcquisitionType:   n.Type,
		IsCovered:         n.IsCovered,
		BasisUnknown:      n.BasisUnknown,
	}
}

// Transaction returns the history record of n.
func (n NewLot) Transaction(id, lotID string) Transaction {
	t := BuyTx
	switch n.Type {
	case DividendReinvestment:
		t = ReinvestTx
	case TransferIn:
		t = TransferInTx
	}
	return Transaction{
		ID:        id,
		AccountID: n.AccountID,
		Symbol:    NormalizeSymbol(n.Symbol),
		Type:      t,
		Date:      n.Date,
		Quantity:  n.Quantity,
		Price:     n.PricePerShare,
		LotID:     lotID,
	}
}

// NormalizeSymbol returns the canonical form of a ticker.
func NormalizeSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// LotView is a TaxLot valued at a market price.
type LotView struct {
	TaxLot
	CurrentPrice              Money         `json:"currentPrice"`
	CurrentValue              Money         `json:"currentValue"`
	UnrealizedGainLoss        Money         `json:"unrealizedGainLoss"`
	UnrealizedGainLossPercent Rate          `json:"unrealizedGainLossPercent"`
	DaysHeld                  int           `json:"daysHeld"`
	HoldingPeriod             HoldingPeriod `json:"holdingPeriod"`
	PriceAvailable            bool          `json:"priceAvailable"`
}

// EnrichLotsWithMarketData values every lot at the price found in quotes.
//
// A lot without a quote is valued at its basis with PriceAvailable false, so
// that a missing price never hides a lot.
func EnrichLotsWithMarketData(lots []TaxLot, quotes Quotes, asOf date.Date) []LotView {
	views := make([]LotView, 0, len(lots))
	for _, l := range lots {
		v := LotView{TaxLot: l}
		v.HoldingPeriod, v.DaysHeld = HoldingPeriodOf(l.AcquisitionDate, asOf)
		price, ok := quotes[l.Symbol]
		switch {
		case ok:
			v.PriceAvailable = true
			v.CurrentPrice = price
			v.CurrentValue = price.Mul(l.RemainingQuantity)
			if !l.BasisUnknown {
				v.UnrealizedGainLoss = v.CurrentValue.Sub(l.TotalCostBasis)
				v.UnrealizedGainLossPercent = v.UnrealizedGainLoss.DivMoney(l.TotalCostBasis)
			}
		default:
			v.CurrentPrice = l.CostBasisPerShare
			v.CurrentValue = l.TotalCostBasis
		}
		views = append(views, v)
	}
	return views
}

// PositionSummary aggregates the open lots of one symbol in one account.
type PositionSummary struct {
	AccountID      string    `json:"accountId"`
	Symbol         string    `json:"symbol"`
	Lots           int       `json:"lots"`
	TotalQuantity  Quantity  `json:"totalQuantity"`
	TotalCostBasis Money     `json:"totalCostBasis"`
	AverageCost    Money     `json:"averageCost"`
	OldestLot      date.Date `json:"oldestLot"`
	NewestLot      date.Date `json:"newestLot"`
	BasisUnknown   bool      `json:"basisUnknown,omitempty"`
}

// GroupBySymbol summarizes open lots per account and symbol, sorted by account then symbol.
func GroupBySymbol(lots []TaxLot) []PositionSummary {
	type key struct{ account, symbol string }
	index := make(map[key]int)
	var res []PositionSummary
	for _, l := range lots {
		if !l.IsOpen() {
			continue
		}
		k := key{l.AccountID, l.Symbol}
		i, ok := index[k]
		if !ok {
			i = len(res)
			index[k] = i
			res = append(res, PositionSummary{AccountID: l.AccountID, Symbol: l.Symbol, OldestLot: l.AcquisitionDate, NewestLot: l.AcquisitionDate})
		}
		p := &res[i]
		p.Lots++
		p.TotalQuantity = p.TotalQuantity.Add(l.RemainingQuantity)
		p.TotalCostBasis = p.TotalCostBasis.Add(l.TotalCostBasis)
		p.OldestLot = date.Min(p.OldestLot, l.AcquisitionDate)
		p.NewestLot = date.Max(p.NewestLot, l.AcquisitionDate)
		p.BasisUnknown = p.BasisUnknown || l.BasisUnknown
	}
	for i := range res {
		if res[i].TotalQuantity.IsPositive() {
			res[i].AverageCost = res[i].TotalCostBasis.Div(res[i].TotalQuantity)
		}
	}
	slices.SortFunc(res, func(a, b PositionSummary) int {
		return cmp.Or(cmp.Compare(a.AccountID, b.AccountID), cmp.Compare(a.Symbol, b.Symbol))
	})
	return res
}
