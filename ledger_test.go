package taxlot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/etnz/taxlot/date"
)

func newTestLedger(t *testing.T) *MemoryLedger {
	t.Helper()
	l := NewMemoryLedger().WithIDs(sequence("id"))
	if err := l.CreateAccount(context.Background(), Account{ID: "acc", Name: "Brokerage", Type: "taxable"}); err != nil {
		t.Fatal(err)
	}
	return l
}

func mustCreateLot(t *testing.T, l Ledger, n NewLot) TaxLot {
	t.Helper()
	lot, err := l.CreateLot(context.Background(), n)
	if err != nil {
		t.Fatalf("CreateLot() unexpected error: %v", err)
	}
	return lot
}

func purchase(account, symbol, on string, qty, price float64) NewLot {
	return NewLot{AccountID: account, Symbol: symbol, Quantity: Q(qty), PricePerShare: USD(price), Date: day(on), Type: Purchase, IsCovered: true}
}

func TestMemoryLedger_Accounts(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	if err := l.CreateAccount(ctx, Account{ID: "acc"}); !errors.Is(err, ErrValidation) {
		t.Errorf("duplicate account: got %v, want a validation error", err)
	}
	if _, err := l.CreateLot(ctx, purchase("nope", "XYZ", "2024-01-01", 1, 1)); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("unknown account: got %v, want ErrUnknownAccount", err)
	}
	if _, err := l.CreateLot(ctx, purchase("acc", "XYZ", "2024-01-01", 0, 1)); !errors.Is(err, ErrValidation) {
		t.Errorf("zero quantity: got %v, want a validation error", err)
	}
	mustCreateLot(t, l, purchase("acc", "xyz", "2024-02-01", 1, 1))
	mustCreateLot(t, l, purchase("acc", "XYZ", "2024-01-01", 1, 1))

	accounts, err := l.Accounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || len(accounts[0].Lots) != 2 || accounts[0].Lots[0].AcquisitionDate != day("2024-01-01") {
		t.Errorf("Accounts() = %+v", accounts)
	}
	lots, _ := l.ListOpenLots(ctx, "acc", "Xyz")
	if len(lots) != 2 || lots[0].Symbol != "XYZ" {
		t.Errorf("ListOpenLots() = %+v", lots)
	}
}

func TestMemoryLedger_Conservation(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	mustCreateLot(t, l, purchase("acc", "XYZ", "2020-01-01", 10, 10))
	mustCreateLot(t, l, purchase("acc", "XYZ", "2021-01-01", 10, 20))

	sold := Q(0)
	for i, q := range []float64{3, 8, 4} {
		lots, _ := l.ListOpenLots(ctx, "acc", "XYZ")
		req := SaleRequest{AccountID: "acc", Symbol: "XYZ", Quantity: Q(q), Price: USD(15), SaleDate: day("2024-06-01").Add(i)}
		res, err := CalculateSaleResult(lots, req, nil, WashSaleDetector{})
		if err != nil {
			t.Fatal(err)
		}
		if err := l.CommitDispositions(ctx, fmt.Sprintf("sale-%d", i), res); err != nil {
			t.Fatalf("CommitDispositions() unexpected error: %v", err)
		}
		sold = sold.Add(Q(q))
	}
	lots, _ := l.ListOpenLots(ctx, "acc", "XYZ")
	remaining := Q(0)
	for _, lot := range lots {
		remaining = remaining.Add(lot.RemainingQuantity)
	}
	if !remaining.Add(sold).Equal(Q(20)) || !remaining.Equal(Q(5)) {
		t.Errorf("remaining %s + sold %s, want 20", remaining, sold)
	}
	if len(lots) != 1 || !lots[0].TotalCostBasis.Equal(USD(100)) {
		t.Errorf("open lots = %+v", lots)
	}
	history, _ := l.History(ctx, day("2020-01-01"), day("2024-12-31"))
	if len(history) != 5 {
		t.Errorf("got %d transactions, want 5", len(history))
	}
}

func TestMemoryLedger_StaleVersion(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	lot := mustCreateLot(t, l, purchase("acc", "XYZ", "2020-01-01", 10, 10))

	lots, _ := l.ListOpenLots(ctx, "acc", "XYZ")
	req := SaleRequest{AccountID: "acc", Symbol: "XYZ", Quantity: Q(4), Price: USD(15), SaleDate: day("2024-06-01")}
	first, _ := CalculateSaleResult(lots, req, nil, WashSaleDetector{})
	stale, _ := CalculateSaleResult(lots, req, nil, WashSaleDetector{})

	if err := l.CommitDispositions(ctx, "s1", first); err != nil {
		t.Fatal(err)
	}
	err := l.CommitDispositions(ctx, "s2", stale)
	var ce *ConflictError
	if !errors.As(err, &ce) || !errors.Is(err, ErrConflict) || ce.LotID != lot.ID {
		t.Fatalf("stale commit: got %v, want a conflict on %s", err, lot.ID)
	}
	got, _ := l.Lot(lot.ID)
	if !got.RemainingQuantity.Equal(Q(6)) || got.Version != 1 {
		t.Errorf("lot = %+v, want 6 shares at version 1", got)
	}

	if err := l.CommitDispositions(ctx, "s1", first); !errors.Is(err, ErrConflict) {
		t.Errorf("same sale twice: got %v, want ErrConflict", err)
	}
}

func TestMemoryLedger_AtomicCommit(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	a := mustCreateLot(t, l, purchase("acc", "XYZ", "2020-01-01", 10, 10))
	b := mustCreateLot(t, l, purchase("acc", "XYZ", "2021-01-01", 10, 10))

	lots, _ := l.ListOpenLots(ctx, "acc", "XYZ")
	req := SaleRequest{AccountID: "acc", Symbol: "XYZ", Quantity: Q(15), Price: USD(15), SaleDate: day("2024-06-01")}
	res, _ := CalculateSaleResult(lots, req, nil, WashSaleDetector{})
	res.Dispositions[1].LotVersion = 7

	if err := l.CommitDispositions(ctx, "s1", res); !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	for _, id := range []string{a.ID, b.ID} {
		got, _ := l.Lot(id)
		if !got.RemainingQuantity.Equal(Q(10)) || got.Version != 0 {
			t.Errorf("lot %s was modified: %+v", id, got)
		}
	}
	history, _ := l.History(ctx, day("2024-06-01"), day("2024-06-01"))
	losses, _ := l.LossDispositions(ctx, day("2024-01-01"), day("2024-12-31"))
	if len(history) != 0 || len(losses) != 0 {
		t.Errorf("a failed sale left %d transactions and %d dispositions", len(history), len(losses))
	}
}

func TestMemoryLedger_ConcurrentSales(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	if err := l.CreateAccount(ctx, Account{ID: "acc"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.CreateLot(ctx, purchase("acc", "XYZ", "2020-01-01", 100, 10)); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(l, Quotes{}, testRates, nolog, WithClock(func() date.Date { return day("2024-06-01") }))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.Sell(ctx, SaleRequest{AccountID: "acc", Symbol: "XYZ", Quantity: Q(10), Price: USD(12)})
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case errors.Is(err, ErrConflict), errors.Is(err, ErrInsufficientShares):
			default:
				t.Errorf("Sell() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	lots, _ := l.ListOpenLots(ctx, "acc", "XYZ")
	remaining := Q(0)
	for _, lot := range lots {
		remaining = remaining.Add(lot.RemainingQuantity)
	}
	if remaining.IsNegative() || !remaining.Add(Q(10*succeeded)).Equal(Q(100)) {
		t.Errorf("%d sales of 10 succeeded, %s shares remain", succeeded, remaining)
	}
}

func TestMemoryLedger_SaveFindings(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	if err := l.SaveFindings(ctx, FindingPlan{Refresh: []Finding{{ID: "nope"}}}); err == nil {
		t.Error("refreshing an unknown finding should fail")
	}
	f := Finding{ID: "f1", Symbol: "XYZ", Status: FindingPotential}
	if err := l.SaveFindings(ctx, FindingPlan{Create: []Finding{f}}); err != nil {
		t.Fatal(err)
	}
	f.Status = FindingExpired
	if err := l.SaveFindings(ctx, FindingPlan{Expire: []Finding{f}}); err != nil {
		t.Fatal(err)
	}
	got, _ := l.Findings(ctx)
	if len(got) != 1 || got[0].Status != FindingExpired {
		t.Errorf("Findings() = %+v", got)
	}
}

func TestMemoryLedger_AdjustClosedLot(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	old := mustCreateLot(t, l, purchase("acc", "XYZ", "2023-01-01", 100, 15))
	recent := mustCreateLot(t, l, purchase("acc", "XYZ", "2024-05-20", 100, 10))
	history, _ := l.History(ctx, day("2024-05-01"), day("2024-06-30"))

	lots, _ := l.ListOpenLots(ctx, "acc", "XYZ")
	gain, _ := CalculateSaleResult(lots, SaleRequest{AccountID: "acc", Symbol: "XYZ", Quantity: Q(100), Price: USD(12), SaleDate: day("2024-05-25"), Method: SpecificLots, SpecificLotIDs: []string{recent.ID}}, nil, WashSaleDetector{})
	if err := l.CommitDispositions(ctx, "s1", gain); err != nil {
		t.Fatal(err)
	}

	fresh, _ := l.History(ctx, day("2024-05-01"), day("2024-06-30"))
	for _, tx := range fresh {
		if tx.LotID == recent.ID && !tx.Sold.Equal(Q(100)) {
			t.Errorf("history reports %s sold, want 100", tx.Sold)
		}
	}

	// a loss computed on the history read before the first sale.
	lots, _ = l.ListOpenLots(ctx, "acc", "XYZ")
	loss, _ := CalculateSaleResult(lots, SaleRequest{AccountID: "acc", Symbol: "XYZ", Quantity: Q(100), Price: USD(10), SaleDate: day("2024-06-01"), Method: SpecificLots, SpecificLotIDs: []string{old.ID}}, history, WashSaleDetector{})
	if len(loss.Adjustments) != 1 || loss.Adjustments[0].LotID != recent.ID {
		t.Fatalf("adjustments = %+v", loss.Adjustments)
	}
	var ce *ConflictError
	if err := l.CommitDispositions(ctx, "s2", loss); !errors.As(err, &ce) || ce.LotID != recent.ID {
		t.Fatalf("got %v, want a conflict on %s", err, recent.ID)
	}
	if got, _ := l.Lot(old.ID); !got.RemainingQuantity.Equal(Q(100)) {
		t.Errorf("refused sale reduced the lot: %+v", got)
	}
}
