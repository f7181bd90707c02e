package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/etnz/taxlot"
	"github.com/etnz/taxlot/date"
	"github.com/etnz/taxlot/rates"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nolog = zerolog.New(nil).Level(zerolog.Disabled)

func day(s string) date.Date { return date.MustParse(s) }

func sequence(prefix string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		i++
		return fmt.Sprintf("%s-%d", prefix, i)
	}
}

// setupTestStore opens a fresh database with a taxable and a retirement account.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"), nolog)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	s.WithIDs(sequence("id"))

	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, taxlot.Account{ID: "acc", Name: "Brokerage", Type: "taxable"}))
	require.NoError(t, s.CreateAccount(ctx, taxlot.Account{ID: "ira", Name: "IRA", Type: "Roth IRA"}))
	return s
}

func purchase(account, symbol, on string, qty, price float64) taxlot.NewLot {
	return taxlot.NewLot{AccountID: account, Symbol: symbol, Quantity: taxlot.Q(qty), PricePerShare: taxlot.USD(price), Date: day(on), IsCovered: true}
}

func newEngine(s *Store, today string) *taxlot.Engine {
	return taxlot.NewEngine(s, taxlot.Quotes{}, rates.Table2024{}, nolog,
		taxlot.WithClock(func() date.Date { return day(today) }),
		taxlot.WithIDs(sequence("sale")),
	)
}

func TestStore_Accounts(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	err := s.CreateAccount(ctx, taxlot.Account{ID: "acc"})
	assert.ErrorIs(t, err, taxlot.ErrValidation)

	_, err = s.CreateLot(ctx, purchase("nope", "XYZ", "2024-01-01", 1, 1))
	assert.ErrorIs(t, err, taxlot.ErrUnknownAccount)

	_, err = s.CreateLot(ctx, purchase("acc", "xyz", "2024-02-01", 2, 10))
	require.NoError(t, err)
	_, err = s.CreateLot(ctx, purchase("acc", "XYZ", "2024-01-01", 1, 10))
	require.NoError(t, err)

	accounts, err := s.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "acc", accounts[0].ID)
	assert.Equal(t, taxlot.AccountType("Roth IRA"), accounts[1].Type)
	require.Len(t, accounts[0].Lots, 2)
	assert.Equal(t, day("2024-01-01"), accounts[0].Lots[0].AcquisitionDate)
	assert.Empty(t, accounts[1].Lots)

	lots, err := s.ListOpenLots(ctx, "acc", " Xyz")
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, "XYZ", lots[1].Symbol)
	assert.True(t, lots[1].TotalCostBasis.Equal(taxlot.USD(20)), "basis %s", lots[1].TotalCostBasis)
	assert.True(t, lots[1].IsCovered)
}

func TestStore_SaleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	e := newEngine(s, "2024-06-15")

	sold, _, err := e.RecordPurchase(ctx, purchase("acc", "XYZ", "2023-01-01", 100, 15))
	require.NoError(t, err)
	repl, _, err := e.RecordPurchase(ctx, purchase("acc", "XYZ", "2024-06-11", 100, 10))
	require.NoError(t, err)

	saleID, res, err := e.Sell(ctx, taxlot.SaleRequest{
		AccountID: "acc", Symbol: "XYZ", Quantity: taxlot.Q(100), Price: taxlot.USD(10),
		SaleDate: day("2024-06-01"), Method: taxlot.SpecificLots, SpecificLotIDs: []string{sold.ID},
	})
	require.NoError(t, err)
	assert.True(t, res.WashSaleDisallowed.Equal(taxlot.USD(500)), "disallowed %s", res.WashSaleDisallowed)

	closed, err := s.Lot(ctx, sold.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())
	assert.Equal(t, int64(1), closed.Version)

	got, err := s.Lot(ctx, repl.ID)
	require.NoError(t, err)
	assert.Equal(t, taxlot.WashSaleReplacement, got.AcquisitionType)
	assert.True(t, got.TotalCostBasis.Equal(taxlot.USD(1500)), "basis %s", got.TotalCostBasis)
	assert.True(t, got.WashSaleAdjustment.Equal(taxlot.USD(500)))
	assert.True(t, got.RemainingQuantity.Equal(taxlot.Q(100)))

	lots, err := s.ListOpenLots(ctx, "acc", "XYZ")
	require.NoError(t, err)
	require.Len(t, lots, 1, "the sold lot is closed")

	history, err := s.History(ctx, day("2024-06-01"), day("2024-06-30"))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, saleID, history[0].ID)
	assert.Equal(t, taxlot.SellTx, history[0].Type)
	assert.True(t, history[1].MatchedQuantity.Equal(taxlot.Q(100)), "replacement shares are used")

	losses, err := s.LossDispositions(ctx, day("2024-01-01"), day("2024-12-31"))
	require.NoError(t, err)
	require.Len(t, losses, 1)
	assert.Equal(t, taxlot.DispositionID(saleID, 0), losses[0].ID)
	assert.Equal(t, []string{repl.ID}, losses[0].ReplacementLotIDs)
	assert.True(t, losses[0].GainLoss.Equal(taxlot.USD(-500)))
	assert.False(t, losses[0].IsShortTerm)

	// committing the same sale id twice is refused.
	err = s.CommitDispositions(ctx, saleID, res)
	assert.ErrorIs(t, err, taxlot.ErrConflict)
}

func TestStore_RecordPurchaseAfterLoss(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	e := newEngine(s, "2024-06-15")

	_, _, err := e.RecordPurchase(ctx, purchase("acc", "XYZ", "2023-01-01", 100, 15))
	require.NoError(t, err)
	_, _, err = e.Sell(ctx, taxlot.SaleRequest{AccountID: "acc", Symbol: "XYZ", Quantity: taxlot.Q(100), Price: taxlot.USD(10), SaleDate: day("2024-06-01")})
	require.NoError(t, err)

	lot, match, err := e.RecordPurchase(ctx, purchase("ira", "XYZ", "2024-06-11", 60, 10))
	require.NoError(t, err)
	assert.True(t, match.Amount.Equal(taxlot.USD(300)), "matched %s", match.Amount)
	assert.True(t, lot.TotalCostBasis.Equal(taxlot.USD(900)))

	stored, err := s.Lot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, taxlot.WashSaleReplacement, stored.AcquisitionType)
	assert.True(t, stored.CostBasisPerShare.Equal(taxlot.USD(15)))

	_, match, err = e.RecordPurchase(ctx, purchase("acc", "XYZ", "2024-06-12", 100, 10))
	require.NoError(t, err)
	assert.True(t, match.Quantity.Equal(taxlot.Q(40)), "second match %s", match.Quantity)

	losses, err := s.LossDispositions(ctx, day("2024-06-01"), day("2024-06-01"))
	require.NoError(t, err)
	require.Len(t, losses, 1)
	assert.True(t, losses[0].WashSaleDisallowed.Equal(taxlot.USD(500)))
	assert.True(t, losses[0].UnmatchedLoss().IsZero())
	assert.Len(t, losses[0].ReplacementLotIDs, 2)
}

func TestStore_ReplacementAlreadySold(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	e := newEngine(s, "2024-06-15")

	old, _, err := e.RecordPurchase(ctx, purchase("acc", "XYZ", "2023-01-01", 100, 15))
	require.NoError(t, err)
	recent, _, err := e.RecordPurchase(ctx, purchase("acc", "XYZ", "2024-05-20", 100, 10))
	require.NoError(t, err)
	stale, err := s.History(ctx, day("2024-05-01"), day("2024-06-30"))
	require.NoError(t, err)

	_, _, err = e.Sell(ctx, taxlot.SaleRequest{
		AccountID: "acc", Symbol: "XYZ", Quantity: taxlot.Q(100), Price: taxlot.USD(12),
		SaleDate: day("2024-05-25"), Method: taxlot.SpecificLots, SpecificLotIDs: []string{recent.ID},
	})
	require.NoError(t, err)

	history, err := s.History(ctx, day("2024-05-20"), day("2024-05-20"))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Sold.Equal(taxlot.Q(100)), "sold %s", history[0].Sold)
	assert.True(t, history[0].Replaceable().IsZero())

	// a sale computed on the history read before the lot was sold is refused.
	lots, err := s.ListOpenLots(ctx, "acc", "XYZ")
	require.NoError(t, err)
	req := taxlot.SaleRequest{
		AccountID: "acc", Symbol: "XYZ", Quantity: taxlot.Q(100), Price: taxlot.USD(10),
		SaleDate: day("2024-06-01"), Method: taxlot.SpecificLots, SpecificLotIDs: []string{old.ID},
	}
	res, err := taxlot.CalculateSaleResult(lots, req, stale, taxlot.WashSaleDetector{})
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 1)
	err = s.CommitDispositions(ctx, "s-stale", res)
	var ce *taxlot.ConflictError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, recent.ID, ce.LotID)

	_, res, err = e.Sell(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.WashSaleDisallowed.IsZero(), "disallowed %s", res.WashSaleDisallowed)
	assert.True(t, res.NetGainLoss.Equal(taxlot.USD(-500)))

	got, err := s.Lot(ctx, recent.ID)
	require.NoError(t, err)
	assert.True(t, got.WashSaleAdjustment.IsZero())
	assert.True(t, got.TotalCostBasis.IsZero())
}

func TestStore_StaleVersion(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	lot, err := s.CreateLot(ctx, purchase("acc", "XYZ", "2020-01-01", 10, 10))
	require.NoError(t, err)

	lots, err := s.ListOpenLots(ctx, "acc", "XYZ")
	require.NoError(t, err)
	req := taxlot.SaleRequest{AccountID: "acc", Symbol: "XYZ", Quantity: taxlot.Q(4), Price: taxlot.USD(15), SaleDate: day("2024-06-01")}
	first, err := taxlot.CalculateSaleResult(lots, req, nil, taxlot.WashSaleDetector{})
	require.NoError(t, err)
	stale, err := taxlot.CalculateSaleResult(lots, req, nil, taxlot.WashSaleDetector{})
	require.NoError(t, err)

	require.NoError(t, s.CommitDispositions(ctx, "s1", first))
	err = s.CommitDispositions(ctx, "s2", stale)
	var ce *taxlot.ConflictError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, lot.ID, ce.LotID)

	got, err := s.Lot(ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingQuantity.Equal(taxlot.Q(6)))
	assert.True(t, got.TotalCostBasis.Equal(taxlot.USD(60)))
	assert.Equal(t, int64(1), got.Version)

	history, err := s.History(ctx, day("2024-06-01"), day("2024-06-01"))
	require.NoError(t, err)
	assert.Len(t, history, 1, "the stale sale left no trace")
}

func TestStore_ConcurrentSales(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	_, err := s.CreateLot(ctx, purchase("acc", "XYZ", "2020-01-01", 100, 10))
	require.NoError(t, err)
	e := newEngine(s, "2024-06-01")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.Sell(ctx, taxlot.SaleRequest{AccountID: "acc", Symbol: "XYZ", Quantity: taxlot.Q(15), Price: taxlot.USD(12)})
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case errors.Is(err, taxlot.ErrConflict), errors.Is(err, taxlot.ErrInsufficientShares):
			default:
				t.Errorf("Sell() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	lots, err := s.ListOpenLots(ctx, "acc", "XYZ")
	require.NoError(t, err)
	remaining := taxlot.Q(0)
	for _, l := range lots {
		remaining = remaining.Add(l.RemainingQuantity)
	}
	assert.False(t, remaining.IsNegative())
	assert.True(t, remaining.Add(taxlot.Q(15*succeeded)).Equal(taxlot.Q(100)), "%d sales, %s remaining", succeeded, remaining)
}

func TestStore_Findings(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	err := s.SaveFindings(ctx, taxlot.FindingPlan{Refresh: []taxlot.Finding{{ID: "nope", UpdatedAt: day("2024-06-01"), ExpiresAt: day("2024-12-31")}}})
	assert.Error(t, err)

	f := taxlot.Finding{
		ID: "f1", Symbol: "AAPL", Status: taxlot.FindingPotential,
		Loss: taxlot.USD(3000), TaxSavings: taxlot.USD(622.5), Accounts: []string{"Brokerage"},
		CreatedAt: day("2024-06-01"), UpdatedAt: day("2024-06-01"), ExpiresAt: day("2024-12-31"),
	}
	require.NoError(t, s.SaveFindings(ctx, taxlot.FindingPlan{Create: []taxlot.Finding{f}}))

	f.Status = taxlot.FindingExpired
	f.UpdatedAt = day("2024-07-01")
	require.NoError(t, s.SaveFindings(ctx, taxlot.FindingPlan{Expire: []taxlot.Finding{f}}))

	got, err := s.Findings(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, taxlot.FindingExpired, got[0].Status)
	assert.Equal(t, []string{"Brokerage"}, got[0].Accounts)
	assert.True(t, got[0].TaxSavings.Equal(taxlot.USD(622.5)))
	assert.Equal(t, day("2024-07-01"), got[0].UpdatedAt)
	assert.Equal(t, day("2024-06-01"), got[0].CreatedAt)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path, nolog)
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(ctx, taxlot.Account{ID: "acc"}))
	_, err = s.CreateLot(ctx, purchase("acc", "XYZ", "2020-01-01", 10, 10))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, nolog)
	require.NoError(t, err)
	defer s.Close()
	lots, err := s.ListOpenLots(ctx, "acc", "XYZ")
	require.NoError(t, err)
	assert.Len(t, lots, 1)
}

func TestWithTransaction_RollbackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	testErr := errors.New("test error")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO accounts").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	err = WithTransaction(context.Background(), db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO accounts (id) VALUES (?)", "a"); err != nil {
			return err
		}
		return testErr
	})
	assert.ErrorIs(t, err, testErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_RollbackOnPanic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	err = WithTransaction(context.Background(), db, func(tx *sql.Tx) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.Contains(t, err.Error(), "boom")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_CommitFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	err = WithTransaction(context.Background(), db, func(tx *sql.Tx) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CommitDispositions_ConflictRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db, nolog)

	lotRow := sqlmock.NewRows([]string{"id", "account_id", "symbol", "original_quantity", "remaining_quantity",
		"cost_basis_per_share", "total_cost_basis", "acquisition_date", "acquisition_type",
		"is_covered", "basis_unknown", "wash_sale_adjustment", "version"}).
		AddRow("l1", "acc", "XYZ", "10", "10", "10", "100", "2020-01-01", "purchase", 1, 0, "0", 3)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM transactions").WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectQuery("FROM lots WHERE id").WithArgs("l1").WillReturnRows(lotRow)
	mock.ExpectRollback()

	res := taxlot.SaleResult{
		AccountID: "acc", Symbol: "XYZ", SaleDate: day("2024-06-01"), Quantity: taxlot.Q(4), Price: taxlot.USD(15),
		Dispositions: []taxlot.Disposition{{LotID: "l1", LotVersion: 2, Quantity: taxlot.Q(4)}},
	}
	err = s.CommitDispositions(context.Background(), "s1", res)
	var ce *taxlot.ConflictError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, "l1", ce.LotID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CommitDispositions_LostUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := New(db, nolog)

	lotRow := sqlmock.NewRows([]string{"id", "account_id", "symbol", "original_quantity", "remaining_quantity",
		"cost_basis_per_share", "total_cost_basis", "acquisition_date", "acquisition_type",
		"is_covered", "basis_unknown", "wash_sale_adjustment", "version"}).
		AddRow("l1", "acc", "XYZ", "10", "10", "10", "100", "2020-01-01", "purchase", 1, 0, "0", 2)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM transactions").WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectQuery("FROM lots WHERE id").WithArgs("l1").WillReturnRows(lotRow)
	// another writer bumped the version between the read and the write.
	mock.ExpectExec("UPDATE lots").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	res := taxlot.SaleResult{
		AccountID: "acc", Symbol: "XYZ", SaleDate: day("2024-06-01"), Quantity: taxlot.Q(4), Price: taxlot.USD(15),
		Dispositions: []taxlot.Disposition{{LotID: "l1", LotVersion: 2, Quantity: taxlot.Q(4)}},
	}
	err = s.CommitDispositions(context.Background(), "s1", res)
	assert.ErrorIs(t, err, taxlot.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
