package taxlot

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/etnz/taxlot/date"
	"github.com/google/uuid"
)

// Ledger owns the lots of every account and the trade history.
//
// Calculators work on snapshots returned by the Ledger. Every mutation of a
// sale or of a wash-sale replacement is applied atomically, and fails with an
// error matching ErrConflict when the lots changed since the snapshot was
// taken.
type Ledger interface {
	// CreateAccount registers an account.
	CreateAccount(ctx context.Context, acc Account) error
	// Accounts returns every account with its open lots.
	Accounts(ctx context.Context) ([]Account, error)
	// ListOpenLots returns the open lots of symbol in the account, oldest first.
	ListOpenLots(ctx context.Context, accountID, symbol string) ([]TaxLot, error)
	// CreateLot records an acquisition and returns its lot.
	CreateLot(ctx context.Context, n NewLot) (TaxLot, error)
	// CreateReplacementLot records an acquisition that replaces shares
	// sold at a loss: the lot basis is increased by the matched loss and
	// the matched dispositions are marked as wash sales.
	CreateReplacementLot(ctx context.Context, n NewLot, m PurchaseMatch) (TaxLot, error)
	// CommitDispositions applies a sale: lot decrements, replacement basis
	// increases, and the sale history, all or nothing.
	CommitDispositions(ctx context.Context, saleID string, res SaleResult) error
	// History returns the transactions dated within [from, to]. Acquisitions
	// report in Sold the shares of their lot disposed of since.
	History(ctx context.Context, from, to date.Date) ([]Transaction, error)
	// LossDispositions returns the recorded loss dispositions sold within [from, to].
	LossDispositions(ctx context.Context, from, to date.Date) ([]RecordedDisposition, error)
}

// FindingStore persists harvest findings.
type FindingStore interface {
	Findings(ctx context.Context) ([]Finding, error)
	SaveFindings(ctx context.Context, plan FindingPlan) error
}

// DispositionID returns the id of the i-th disposition of a sale.
func DispositionID(saleID string, i int) string { return fmt.Sprintf("%s-%d", saleID, i+1) }

// MemoryLedger is a Ledger and FindingStore kept in memory. It is safe for
// concurrent use; mutations are serialized.
type MemoryLedger struct {
	newID func() string

	mu           sync.Mutex
	accounts     []Account
	lots         map[string]TaxLot
	lotOrder     []string
	txs          []Transaction
	dispositions []RecordedDisposition
	sales        map[string]bool
	findings     []Finding
}

// NewMemoryLedger returns an empty ledger generating random ids.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		newID: uuid.NewString,
		lots:  make(map[string]TaxLot),
		sales: make(map[string]bool),
	}
}

// WithIDs replaces the id generator, to get predictable ids.
func (m *MemoryLedger) WithIDs(newID func() string) *MemoryLedger {
	m.newID = newID
	return m
}

func (m *MemoryLedger) CreateAccount(_ context.Context, acc Account) error {
	if acc.ID == "" {
		return invalid("id", "is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.ContainsFunc(m.accounts, func(a Account) bool { return a.ID == acc.ID }) {
		return invalid("id", "account %q already exists", acc.ID)
	}
	acc.Lots = nil
	m.accounts = append(m.accounts, acc)
	return nil
}

func (m *MemoryLedger) hasAccount(id string) bool {
	return slices.ContainsFunc(m.accounts, func(a Account) bool { return a.ID == id })
}

func (m *MemoryLedger) Accounts(_ context.Context) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := slices.Clone(m.accounts)
	for i := range res {
		for _, id := range m.lotOrder {
			if l := m.lots[id]; l.AccountID == res[i].ID && l.IsOpen() {
				res[i].Lots = append(res[i].Lots, l)
			}
		}
		sortByAcquisition(res[i].Lots)
	}
	return res, nil
}

func (m *MemoryLedger) ListOpenLots(_ context.Context, accountID, symbol string) ([]TaxLot, error) {
	symbol = NormalizeSymbol(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []TaxLot
	for _, id := range m.lotOrder {
		if l := m.lots[id]; l.AccountID == accountID && l.Symbol == symbol && l.IsOpen() {
			res = append(res, l)
		}
	}
	sortByAcquisition(res)
	return res, nil
}

// Lot returns a lot, open or not.
func (m *MemoryLedger) Lot(id string) (TaxLot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lots[id]
	return l, ok
}

func (m *MemoryLedger) CreateLot(ctx context.Context, n NewLot) (TaxLot, error) {
	return m.CreateReplacementLot(ctx, n, PurchaseMatch{})
}

func (m *MemoryLedger) CreateReplacementLot(_ context.Context, n NewLot, match PurchaseMatch) (TaxLot, error) {
	if err := n.Validate(); err != nil {
		return TaxLot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasAccount(n.AccountID) {
		return TaxLot{}, fmt.Errorf("%w: %q", ErrUnknownAccount, n.AccountID)
	}

	lot := n.Lot(m.newID())
	tx := n.Transaction(m.newID(), lot.ID)
	dispositions := slices.Clone(m.dispositions)
	if match.IsWashSale() {
		for _, a := range match.Adjustments {
			i := slices.IndexFunc(dispositions, func(r RecordedDisposition) bool { return r.ID == a.DispositionID })
			if i < 0 {
				return TaxLot{}, fmt.Errorf("unknown disposition %q", a.DispositionID)
			}
			r := &dispositions[i]
			if r.UnmatchedLoss().LessThan(a.Quantity) {
				return TaxLot{}, &ConflictError{LotID: r.LotID}
			}
			r.WashSaleQuantity = r.WashSaleQuantity.Add(a.Quantity)
			r.WashSaleDisallowed = r.WashSaleDisallowed.Add(a.Amount)
			r.ReplacementLotIDs = append(slices.Clone(r.ReplacementLotIDs), lot.ID)
		}
		lot.AcquisitionType = WashSaleReplacement
		lot = lot.AdjustBasis(match.Amount)
		tx.MatchedQuantity = match.Quantity
	}

	m.lots[lot.ID] = lot
	m.lotOrder = append(m.lotOrder, lot.ID)
	m.txs = append(m.txs, tx)
	m.dispositions = dispositions
	return lot, nil
}

func (m *MemoryLedger) CommitDispositions(_ context.Context, saleID string, res SaleResult) error {
	if saleID == "" {
		return invalid("saleId", "is required")
	}
	if len(res.Dispositions) == 0 {
		return invalid("dispositions", "a sale needs at least one disposition")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sales[saleID] {
		return fmt.Errorf("sale %q already committed: %w", saleID, ErrConflict)
	}

	// work on copies, swapped in once everything checked out.
	lots := make(map[string]TaxLot)
	get := func(id string) (TaxLot, bool) {
		if l, ok := lots[id]; ok {
			return l, true
		}
		l, ok := m.lots[id]
		return l, ok
	}
	for _, d := range res.Dispositions {
		l, ok := m.lots[d.LotID]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownLot, d.LotID)
		}
		if l.Version != d.LotVersion || l.RemainingQuantity.LessThan(d.Quantity) {
			return &ConflictError{LotID: d.LotID}
		}
		if _, dup := lots[d.LotID]; dup {
			return invalid("dispositions", "lot %q disposed twice", d.LotID)
		}
		l = l.Reduce(d.Quantity)
		l.Version++
		lots[d.LotID] = l
	}
	txs := slices.Clone(m.txs)
	for _, a := range res.Adjustments {
		i := slices.IndexFunc(txs, func(t Transaction) bool { return t.ID == a.TransactionID })
		if i < 0 {
			return fmt.Errorf("unknown transaction %q", a.TransactionID)
		}
		if txs[i].Unmatched().LessThan(a.Quantity) {
			return &ConflictError{LotID: a.LotID}
		}
		txs[i].MatchedQuantity = txs[i].MatchedQuantity.Add(a.Quantity)
		if a.LotID == "" {
			continue
		}
		l, ok := get(a.LotID)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownLot, a.LotID)
		}
		// the disallowed loss must land on shares still held.
		if l.RemainingQuantity.LessThan(a.Quantity) {
			return &ConflictError{LotID: a.LotID}
		}
		l = l.AdjustBasis(a.Amount)
		l.AcquisitionType = WashSaleReplacement
		l.Version++
		lots[a.LotID] = l
	}

	txs = append(txs, Transaction{
		ID:        saleID,
		AccountID: res.AccountID,
		Symbol:    res.Symbol,
		Type:      SellTx,
		Date:      res.SaleDate,
		Quantity:  res.Quantity,
		Price:     res.Price,
	})
	for id, l := range lots {
		m.lots[id] = l
	}
	m.txs = txs
	for i, d := range res.Dispositions {
		m.dispositions = append(m.dispositions, RecordedDisposition{
			ID:          DispositionID(saleID, i),
			SaleID:      saleID,
			AccountID:   res.AccountID,
			Symbol:      res.Symbol,
			Disposition: d,
		})
	}
	m.sales[saleID] = true
	return nil
}

func (m *MemoryLedger) History(_ context.Context, from, to date.Date) ([]Transaction, error) {
	r := date.Range{From: from, To: to}
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Transaction
	for _, t := range m.txs {
		if !r.Contains(t.Date) {
			continue
		}
		if l, ok := m.lots[t.LotID]; ok {
			t.Sold = l.OriginalQuantity.Sub(l.RemainingQuantity)
		}
		res = append(res, t)
	}
	SortTransactions(res)
	return res, nil
}

func (m *MemoryLedger) LossDispositions(_ context.Context, from, to date.Date) ([]RecordedDisposition, error) {
	r := date.Range{From: from, To: to}
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []RecordedDisposition
	for _, d := range m.dispositions {
		if d.IsLoss() && r.Contains(d.SaleDate) {
			res = append(res, d)
		}
	}
	return res, nil
}

func (m *MemoryLedger) Findings(_ context.Context) ([]Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.findings), nil
}

func (m *MemoryLedger) SaveFindings(_ context.Context, plan FindingPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	findings := slices.Clone(m.findings)
	for _, f := range append(slices.Clone(plan.Refresh), plan.Expire...) {
		i := slices.IndexFunc(findings, func(g Finding) bool { return g.ID == f.ID })
		if i < 0 {
			return fmt.Errorf("unknown finding %q", f.ID)
		}
		findings[i] = f
	}
	m.findings = append(findings, plan.Create...)
	return nil
}

// sortByAcquisition sorts lots oldest first, then by id.
func sortByAcquisition(lots []TaxLot) {
	slices.SortStableFunc(lots, func(a, b TaxLot) int {
		switch {
		case a.AcquisitionDate.Before(b.AcquisitionDate):
			return -1
		case a.AcquisitionDate.After(b.AcquisitionDate):
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
