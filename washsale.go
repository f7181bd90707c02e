package taxlot

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/etnz/taxlot/date"
)

// WashSaleWindowDays is the number of days on each side of a loss sale
// during which an acquisition replaces the sold shares.
const WashSaleWindowDays = 30

// WashSaleWindow returns the days during which a purchase makes a loss sale
// on saleDate a wash sale, both ends included.
func WashSaleWindow(saleDate date.Date) date.Range {
	return date.Around(saleDate, WashSaleWindowDays)
}

// SubstituteClassifier tells which symbols are substantially identical to another.
//
// What counts as substantially identical is a legal judgement, so it is left
// to the caller.
type SubstituteClassifier interface {
	// Equivalents returns the symbols substantially identical to symbol, symbol excluded.
	Equivalents(symbol string) []string
}

// StaticSubstitutes is a SubstituteClassifier made of groups of symbols that
// are all substantially identical to each other.
type StaticSubstitutes struct {
	groups map[string][]string
}

// NewStaticSubstitutes returns a classifier for the given groups. A symbol
// appearing in several groups is equivalent to the members of all of them.
func NewStaticSubstitutes(groups ...[]string) *StaticSubstitutes {
	s := &StaticSubstitutes{groups: make(map[string][]string)}
	for _, g := range groups {
		for _, a := range g {
			a = NormalizeSymbol(a)
			for _, b := range g {
				b = NormalizeSymbol(b)
				if a != b && !slices.Contains(s.groups[a], b) {
					s.groups[a] = append(s.groups[a], b)
				}
			}
		}
	}
	for k := range s.groups {
		slices.Sort(s.groups[k])
	}
	return s
}

func (s *StaticSubstitutes) Equivalents(symbol string) []string {
	if s == nil {
		return nil
	}
	return s.groups[NormalizeSymbol(symbol)]
}

// WashSaleDetector applies the wash-sale rule. Its zero value only considers
// the sold symbol itself as substantially identical.
type WashSaleDetector struct {
	Substitutes SubstituteClassifier
}

// Equivalent reports whether shares of other replace shares of symbol.
func (d WashSaleDetector) Equivalent(symbol, other string) bool {
	symbol, other = NormalizeSymbol(symbol), NormalizeSymbol(other)
	if symbol == other {
		return true
	}
	if d.Substitutes == nil {
		return false
	}
	return slices.Contains(d.Substitutes.Equivalents(symbol), other)
}

// ReplacementMatch is the part of an acquisition used to replace shares sold at a loss.
type ReplacementMatch struct {
	TransactionID string    `json:"transactionId"`
	LotID         string    `json:"lotId"`
	Date          date.Date `json:"date"`
	Quantity      Quantity  `json:"quantity"`
	Amount        Money     `json:"amount"`
}

// WashSaleImpact is the effect of the wash-sale rule on one loss.
type WashSaleImpact struct {
	DisallowedQuantity Quantity           `json:"disallowedQuantity"`
	DisallowedAmount   Money              `json:"disallowedAmount"`
	ReplacementLotIDs  []string           `json:"replacementLotIds,omitempty"`
	Matches            []ReplacementMatch `json:"matches,omitempty"`
}

// candidates returns the acquisitions of symbol or its equivalents within
// the window, oldest first, that still have replaceable shares. Acquisitions
// of an excluded lot are skipped.
func (d WashSaleDetector) candidates(symbol string, window date.Range, history []Transaction, available map[string]Quantity, exclude map[string]bool) []Transaction {
	var res []Transaction
	for _, tx := range history {
		if !tx.Type.IsAcquisition() || !window.Contains(tx.Date) || !d.Equivalent(symbol, tx.Symbol) {
			continue
		}
		if tx.LotID != "" && exclude[tx.LotID] {
			continue
		}
		q, ok := available[tx.ID]
		if !ok {
			q = tx.Replaceable()
		}
		if !q.IsPositive() {
			continue
		}
		res = append(res, tx)
	}
	SortTransactions(res)
	return res
}

// match disallows up to quantity shares of a loss against the candidates,
// consuming their unmatched shares from available.
//
// loss is the positive loss realized on quantity shares. The disallowed
// amount is spread on the replacement shares pro rata, and never exceeds loss.
func match(quantity Quantity, loss Money, candidates []Transaction, available map[string]Quantity) WashSaleImpact {
	var impact WashSaleImpact
	needed := quantity
	for _, tx := range candidates {
		if needed.IsZero() {
			break
		}
		avail, ok := available[tx.ID]
		if !ok {
			avail = tx.Replaceable()
		}
		q := MinQ(avail, needed)
		if !q.IsPositive() {
			continue
		}
		available[tx.ID] = avail.Sub(q)
		needed = needed.Sub(q)
		impact.DisallowedQuantity = impact.DisallowedQuantity.Add(q)
		impact.Matches = append(impact.Matches, ReplacementMatch{TransactionID: tx.ID, LotID: tx.LotID, Date: tx.Date, Quantity: q})
		if tx.LotID != "" && !slices.Contains(impact.ReplacementLotIDs, tx.LotID) {
			impact.ReplacementLotIDs = append(impact.ReplacementLotIDs, tx.LotID)
		}
	}
	if impact.DisallowedQuantity.IsZero() {
		return WashSaleImpact{}
	}

	if impact.DisallowedQuantity.Equal(quantity) {
		impact.DisallowedAmount = loss
	} else {
		impact.DisallowedAmount = loss.Mul(impact.DisallowedQuantity).Div(quantity)
	}
	// the last match takes the remainder so that the parts add up exactly.
	rest := impact.DisallowedAmount
	for i := range impact.Matches {
		m := &impact.Matches[i]
		if i == len(impact.Matches)-1 {
			m.Amount = rest
			break
		}
		m.Amount = impact.DisallowedAmount.Mul(m.Quantity).Div(impact.DisallowedQuantity)
		rest = rest.Sub(m.Amount)
	}
	return impact
}

// PreviewWashSaleImpact computes how much of a loss of lossPerShare on
// quantity shares of symbol sold on saleDate would be disallowed.
//
// Only acquisitions count, and only within 30 days before or after the sale.
// A gain, or no loss, is never a wash sale. The acquisition of any lot listed
// in excludeLots, typically the lot being sold, is not a replacement.
func (d WashSaleDetector) PreviewWashSaleImpact(symbol string, saleDate date.Date, quantity Quantity, lossPerShare Money, history []Transaction, excludeLots ...string) WashSaleImpact {
	if !lossPerShare.IsPositive() || !quantity.IsPositive() {
		return WashSaleImpact{}
	}
	exclude := make(map[string]bool, len(excludeLots))
	for _, id := range excludeLots {
		exclude[id] = true
	}
	available := make(map[string]Quantity)
	c := d.candidates(symbol, WashSaleWindow(saleDate), history, available, exclude)
	return match(quantity, lossPerShare.Mul(quantity), c, available)
}

// ApplyToDispositions checks every loss disposition of a sale of symbol for
// a wash sale, and returns the dispositions with their disallowed part set
// and the basis adjustments of the replacement lots.
//
// Each disposition is checked on its own, with its own per-share loss, in
// the order of the sale. A replacement share is used by one disposition only,
// so the earliest replacement acquisitions absorb the first losses. Lots sold
// in the same sale are never replacements.
func (d WashSaleDetector) ApplyToDispositions(symbol string, dispositions []Disposition, history []Transaction) ([]Disposition, []BasisAdjustment) {
	res := slices.Clone(dispositions)
	exclude := make(map[string]bool, len(res))
	for _, disp := range res {
		exclude[disp.LotID] = true
	}
	available := make(map[string]Quantity)
	var adjustments []BasisAdjustment
	for i := range res {
		disp := &res[i]
		if !disp.IsLoss() {
			continue
		}
		c := d.candidates(symbol, WashSaleWindow(disp.SaleDate), history, available, exclude)
		impact := match(disp.Quantity, disp.GainLoss.Neg(), c, available)
		if impact.DisallowedQuantity.IsZero() {
			continue
		}
		disp.WashSaleDisallowed = impact.DisallowedAmount
		disp.WashSaleQuantity = impact.DisallowedQuantity
		disp.ReplacementLotIDs = impact.ReplacementLotIDs
		for _, m := range impact.Matches {
			adjustments = append(adjustments, BasisAdjustment{
				LotID:         m.LotID,
				TransactionID: m.TransactionID,
				Quantity:      m.Quantity,
				Amount:        m.Amount,
				SourceLotID:   disp.LotID,
			})
		}
	}
	return res, adjustments
}

// SafeToSell tells when a position can be sold at a loss without a wash sale.
type SafeToSell struct {
	Symbol   string    `json:"symbol"`
	Safe     bool      `json:"safe"`
	SafeDate date.Date `json:"safeDate"`
	// BlockedUntil is the last day of the wash-sale window of the most recent
	// purchase, zero when not blocked.
	BlockedUntil date.Date `json:"blockedUntil"`
	LastPurchase date.Date `json:"lastPurchase"`
	Reason       string    `json:"reason"`
}

// FindSafeToSellDate returns the first day a loss sale of symbol is not
// a wash sale because of a past acquisition.
//
// If the most recent acquisition P of symbol or an equivalent is within the
// last 30 days, selling is blocked until P+30 and safe from P+31. Future
// purchases are not known and not considered. Acquisitions of excludeLots
// are ignored.
func (d WashSaleDetector) FindSafeToSellDate(symbol string, history []Transaction, today date.Date, excludeLots ...string) SafeToSell {
	symbol = NormalizeSymbol(symbol)
	var last *Transaction
	for i, tx := range history {
		if !tx.Type.IsAcquisition() || tx.Date.After(today) || !d.Equivalent(symbol, tx.Symbol) {
			continue
		}
		if tx.LotID != "" && slices.Contains(excludeLots, tx.LotID) {
			continue
		}
		if last == nil || tx.Date.After(last.Date) {
			last = &history[i]
		}
	}
	res := SafeToSell{Symbol: symbol, Safe: true, SafeDate: today}
	if last == nil {
		res.Reason = fmt.Sprintf("no purchase of %s in the last %d days", symbol, WashSaleWindowDays)
		return res
	}
	res.LastPurchase = last.Date
	blockedUntil := last.Date.Add(WashSaleWindowDays)
	if today.After(blockedUntil) {
		res.Reason = fmt.Sprintf("last purchase of %s on %s is more than %d days ago", symbol, last.Date, WashSaleWindowDays)
		return res
	}
	res.Safe = false
	res.BlockedUntil = blockedUntil
	res.SafeDate = blockedUntil.Add(1)
	what := symbol
	if last.Symbol != symbol {
		what = fmt.Sprintf("%s (substantially identical to %s)", last.Symbol, symbol)
	}
	res.Reason = fmt.Sprintf("%s was bought on %s, a loss sale before %s would be a wash sale", what, last.Date, res.SafeDate)
	return res
}

// RecordedDisposition is a Disposition committed to the ledger.
type RecordedDisposition struct {
	ID        string `json:"id"`
	SaleID    string `json:"saleId"`
	AccountID string `json:"accountId"`
	Symbol    string `json:"symbol"`
	Disposition
}

// UnmatchedLoss returns the shares of a loss not yet disallowed.
func (r RecordedDisposition) UnmatchedLoss() Quantity {
	if !r.IsLoss() {
		return Quantity{}
	}
	q := r.Quantity.Sub(r.WashSaleQuantity)
	if q.IsNegative() {
		return Quantity{}
	}
	return q
}

// DispositionAdjustment increases the disallowed part of a recorded disposition.
type DispositionAdjustment struct {
	DispositionID string   `json:"dispositionId"`
	Quantity      Quantity `json:"quantity"`
	Amount        Money    `json:"amount"`
}

// PurchaseMatch is the effect of an acquisition on earlier loss sales.
type PurchaseMatch struct {
	Adjustments []DispositionAdjustment `json:"adjustments,omitempty"`
	Quantity    Quantity                `json:"quantity"` // replacement shares used
	Amount      Money                   `json:"amount"`   // basis added to the new lot
}

// IsWashSale reports whether the acquisition replaces shares sold at a loss.
func (p PurchaseMatch) IsWashSale() bool { return p.Quantity.IsPositive() }

// MatchPurchase checks whether an acquisition replaces shares sold at a loss
// within 30 days of it, typically a purchase recorded after the loss sale.
//
// Losses are matched oldest sale first, up to the acquired quantity, and only
// for their shares not already disallowed.
func (d WashSaleDetector) MatchPurchase(purchase Transaction, losses []RecordedDisposition) PurchaseMatch {
	var res PurchaseMatch
	if !purchase.Type.IsAcquisition() {
		return res
	}
	window := WashSaleWindow(purchase.Date)
	candidates := slices.Clone(losses)
	slices.SortStableFunc(candidates, func(a, b RecordedDisposition) int {
		if a.SaleDate != b.SaleDate {
			if a.SaleDate.Before(b.SaleDate) {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})
	available := purchase.Unmatched()
	for _, r := range candidates {
		if !available.IsPositive() {
			break
		}
		if !window.Contains(r.SaleDate) || !d.Equivalent(r.Symbol, purchase.Symbol) {
			continue
		}
		open := r.UnmatchedLoss()
		q := MinQ(open, available)
		if !q.IsPositive() {
			continue
		}
		// the per-share loss of the disposition applies to the matched shares.
		amount := r.GainLoss.Neg().Mul(q).Div(r.Quantity)
		if q.Equal(open) {
			amount = r.GainLoss.Neg().Sub(r.WashSaleDisallowed)
		}
		available = available.Sub(q)
		res.Quantity = res.Quantity.Add(q)
		res.Amount = res.Amount.Add(amount)
		res.Adjustments = append(res.Adjustments, DispositionAdjustment{DispositionID: r.ID, Quantity: q, Amount: amount})
	}
	return res
}
