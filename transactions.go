package taxlot

import (
	"cmp"
	"slices"

	"github.com/etnz/taxlot/date"
)

// TxType is a typed string for identifying transactions in the history.
type TxType string

const (
	BuyTx        TxType = "buy"
	SellTx       TxType = "sell"
	ReinvestTx   TxType = "reinvest"
	TransferInTx TxType = "transfer-in"
)

// IsAcquisition reports whether shares acquired by this kind of transaction
// can replace shares sold at a loss. Transfers in do not acquire anything.
func (t TxType) IsAcquisition() bool { return t == BuyTx || t == ReinvestTx }

// Transaction is a record of the trade history used by wash-sale checks.
type Transaction struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId,omitempty"`
	Symbol    string    `json:"symbol"`
	Type      TxType    `json:"type"`
	Date      date.Date `json:"date"`
	Quantity  Quantity  `json:"quantity"`
	Price     Money     `json:"price"`
	// LotID is the lot created by an acquisition.
	LotID string `json:"lotId,omitempty"`
	// MatchedQuantity counts the shares of an acquisition already used to
	// replace shares sold at a loss. A share replaces at most one sold share.
	MatchedQuantity Quantity `json:"matchedQuantity,omitzero"`
	// Sold counts the shares of the acquired lot disposed of since. Ledger
	// histories fill it in.
	Sold Quantity `json:"sold,omitzero"`
}

// Unmatched returns the shares of an acquisition still available as replacement shares.
func (t Transaction) Unmatched() Quantity {
	q := t.Quantity.Sub(t.MatchedQuantity)
	if q.IsNegative() {
		return Quantity{}
	}
	return q
}

// Replaceable returns the shares of an acquisition that can still replace
// shares sold at a loss: unmatched, and still held.
func (t Transaction) Replaceable() Quantity {
	held := t.Quantity.Sub(t.Sold)
	if held.IsNegative() {
		return Quantity{}
	}
	return MinQ(t.Unmatched(), held)
}

// SortTransactions sorts transactions by date, then id.
func SortTransactions(txs []Transaction) {
	slices.SortStableFunc(txs, func(a, b Transaction) int {
		if a.Date != b.Date {
			if a.Date.Before(b.Date) {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
