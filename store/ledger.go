package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/etnz/taxlot"
	"github.com/etnz/taxlot/date"
)

var (
	_ taxlot.Ledger       = (*Store)(nil)
	_ taxlot.FindingStore = (*Store)(nil)
)

func (s *Store) CreateAccount(ctx context.Context, acc taxlot.Account) error {
	if acc.ID == "" {
		return &taxlot.ValidationError{Field: "id", Reason: "is required"}
	}
	return WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE id = ?`, acc.ID).Scan(&n); err != nil {
			return fmt.Errorf("failed to look up account: %w", err)
		}
		if n > 0 {
			return &taxlot.ValidationError{Field: "id", Reason: fmt.Sprintf("account %q already exists", acc.ID)}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO accounts (id, name, type) VALUES (?, ?, ?)`, acc.ID, acc.Name, string(acc.Type))
		if err != nil {
			return fmt.Errorf("failed to insert account: %w", err)
		}
		return nil
	})
}

func (s *Store) Accounts(ctx context.Context) ([]taxlot.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, type FROM accounts ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	var accounts []taxlot.Account
	for rows.Next() {
		var a taxlot.Account
		var typ string
		if err := rows.Scan(&a.ID, &a.Name, &typ); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Type = taxlot.AccountType(typ)
		accounts = append(accounts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	lots, err := s.queryLots(ctx, `SELECT `+lotColumns+` FROM lots WHERE closed = 0 ORDER BY acquisition_date, id`)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		for _, l := range lots {
			if l.AccountID == accounts[i].ID {
				accounts[i].Lots = append(accounts[i].Lots, l)
			}
		}
	}
	return accounts, nil
}

func (s *Store) ListOpenLots(ctx context.Context, accountID, symbol string) ([]taxlot.TaxLot, error) {
	return s.queryLots(ctx, `SELECT `+lotColumns+` FROM lots
		WHERE account_id = ? AND symbol = ? AND closed = 0
		ORDER BY acquisition_date, id`, accountID, taxlot.NormalizeSymbol(symbol))
}

// Lot returns a lot, open or not.
func (s *Store) Lot(ctx context.Context, id string) (taxlot.TaxLot, error) {
	l, err := scanLot(s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return taxlot.TaxLot{}, fmt.Errorf("%w: %q", taxlot.ErrUnknownLot, id)
	}
	if err != nil {
		return taxlot.TaxLot{}, fmt.Errorf("failed to read lot %q: %w", id, err)
	}
	return l, nil
}

func (s *Store) queryLots(ctx context.Context, query string, args ...any) ([]taxlot.TaxLot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []taxlot.TaxLot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}
	return lots, nil
}

func (s *Store) CreateLot(ctx context.Context, n taxlot.NewLot) (taxlot.TaxLot, error) {
	return s.CreateReplacementLot(ctx, n, taxlot.PurchaseMatch{})
}

func (s *Store) CreateReplacementLot(ctx context.Context, n taxlot.NewLot, m taxlot.PurchaseMatch) (taxlot.TaxLot, error) {
	if err := n.Validate(); err != nil {
		return taxlot.TaxLot{}, err
	}
	lot := n.Lot(s.newID())
	t := n.Transaction(s.newID(), lot.ID)

	err := WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE id = ?`, n.AccountID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to look up account: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %q", taxlot.ErrUnknownAccount, n.AccountID)
		}

		if m.IsWashSale() {
			for _, a := range m.Adjustments {
				r, err := scanDisposition(tx.QueryRowContext(ctx, `SELECT `+dispositionColumns+` FROM dispositions WHERE id = ?`, a.DispositionID))
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("unknown disposition %q", a.DispositionID)
				}
				if err != nil {
					return fmt.Errorf("failed to read disposition: %w", err)
				}
				if r.UnmatchedLoss().LessThan(a.Quantity) {
					return &taxlot.ConflictError{LotID: r.LotID}
				}
				_, err = tx.ExecContext(ctx, `UPDATE dispositions
					SET wash_sale_quantity = ?, wash_sale_disallowed = ?, replacement_lot_ids = ?
					WHERE id = ?`,
					dec(r.WashSaleQuantity.Add(a.Quantity)),
					dec(r.WashSaleDisallowed.Add(a.Amount)),
					jsonList(append(r.ReplacementLotIDs, lot.ID)),
					r.ID)
				if err != nil {
					return fmt.Errorf("failed to update disposition: %w", err)
				}
			}
			lot.AcquisitionType = taxlot.WashSaleReplacement
			lot = lot.AdjustBasis(m.Amount)
			t.MatchedQuantity = m.Quantity
		}

		if err := insertLot(ctx, tx, lot); err != nil {
			return err
		}
		return insertTransaction(ctx, tx, t)
	})
	if err != nil {
		return taxlot.TaxLot{}, err
	}
	s.log.Debug().Str("lot", lot.ID).Str("symbol", lot.Symbol).Bool("replacement", m.IsWashSale()).Msg("lot inserted")
	return lot, nil
}

func insertLot(ctx context.Context, tx *sql.Tx, l taxlot.TaxLot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO lots (`+lotColumns+`, closed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.AccountID, l.Symbol, dec(l.OriginalQuantity), dec(l.RemainingQuantity),
		dec(l.CostBasisPerShare), dec(l.TotalCostBasis), l.AcquisitionDate.String(), l.AcquisitionType.String(),
		boolInt(l.IsCovered), boolInt(l.BasisUnknown), dec(l.WashSaleAdjustment), l.Version,
		boolInt(!l.IsOpen()))
	if err != nil {
		return fmt.Errorf("failed to insert lot: %w", err)
	}
	return nil
}

// updateLot writes l if the stored lot is still at version from.
func updateLot(ctx context.Context, tx *sql.Tx, l taxlot.TaxLot, from int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE lots
		SET remaining_quantity = ?, cost_basis_per_share = ?, total_cost_basis = ?,
			acquisition_type = ?, wash_sale_adjustment = ?, closed = ?, version = ?
		WHERE id = ? AND version = ?`,
		dec(l.RemainingQuantity), dec(l.CostBasisPerShare), dec(l.TotalCostBasis),
		l.AcquisitionType.String(), dec(l.WashSaleAdjustment), boolInt(!l.IsOpen()), l.Version,
		l.ID, from)
	if err != nil {
		return fmt.Errorf("failed to update lot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update lot: %w", err)
	}
	if n != 1 {
		return &taxlot.ConflictError{LotID: l.ID}
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t taxlot.Transaction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.Symbol, string(t.Type), t.Date.String(),
		dec(t.Quantity), dec(t.Price), t.LotID, dec(t.MatchedQuantity))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Store) CommitDispositions(ctx context.Context, saleID string, res taxlot.SaleResult) error {
	if saleID == "" {
		return &taxlot.ValidationError{Field: "saleId", Reason: "is required"}
	}
	if len(res.Dispositions) == 0 {
		return &taxlot.ValidationError{Field: "dispositions", Reason: "a sale needs at least one disposition"}
	}

	err := WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE id = ?`, saleID).Scan(&n); err != nil {
			return fmt.Errorf("failed to look up sale: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("sale %q already committed: %w", saleID, taxlot.ErrConflict)
		}

		lots := make(map[string]taxlot.TaxLot)
		versions := make(map[string]int64)
		var order []string
		get := func(id string) (taxlot.TaxLot, error) {
			if l, ok := lots[id]; ok {
				return l, nil
			}
			l, err := scanLot(tx.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = ?`, id))
			if errors.Is(err, sql.ErrNoRows) {
				return taxlot.TaxLot{}, fmt.Errorf("%w: %q", taxlot.ErrUnknownLot, id)
			}
			if err != nil {
				return taxlot.TaxLot{}, fmt.Errorf("failed to read lot %q: %w", id, err)
			}
			versions[id] = l.Version
			order = append(order, id)
			return l, nil
		}

		for _, d := range res.Dispositions {
			if _, dup := lots[d.LotID]; dup {
				return &taxlot.ValidationError{Field: "dispositions", Reason: fmt.Sprintf("lot %q disposed twice", d.LotID)}
			}
			l, err := get(d.LotID)
			if err != nil {
				return err
			}
			if l.Version != d.LotVersion || l.RemainingQuantity.LessThan(d.Quantity) {
				return &taxlot.ConflictError{LotID: d.LotID}
			}
			l = l.Reduce(d.Quantity)
			l.Version++
			lots[d.LotID] = l
		}

		for _, a := range res.Adjustments {
			t, err := scanTransaction(tx.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, a.TransactionID))
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("unknown transaction %q", a.TransactionID)
			}
			if err != nil {
				return fmt.Errorf("failed to read transaction: %w", err)
			}
			if t.Unmatched().LessThan(a.Quantity) {
				return &taxlot.ConflictError{LotID: a.LotID}
			}
			if _, err := tx.ExecContext(ctx, `UPDATE transactions SET matched_quantity = ? WHERE id = ?`,
				dec(t.MatchedQuantity.Add(a.Quantity)), t.ID); err != nil {
				return fmt.Errorf("failed to update transaction: %w", err)
			}
			if a.LotID == "" {
				continue
			}
			l, err := get(a.LotID)
			if err != nil {
				return err
			}
			if l.RemainingQuantity.LessThan(a.Quantity) {
				return &taxlot.ConflictError{LotID: a.LotID}
			}
			l = l.AdjustBasis(a.Amount)
			l.AcquisitionType = taxlot.WashSaleReplacement
			l.Version++
			lots[a.LotID] = l
		}

		for _, id := range order {
			if err := updateLot(ctx, tx, lots[id], versions[id]); err != nil {
				return err
			}
		}
		err := insertTransaction(ctx, tx, taxlot.Transaction{
			ID:        saleID,
			AccountID: res.AccountID,
			Symbol:    res.Symbol,
			Type:      taxlot.SellTx,
			Date:      res.SaleDate,
			Quantity:  res.Quantity,
			Price:     res.Price,
		})
		if err != nil {
			return err
		}
		for i, d := range res.Dispositions {
			if err := insertDisposition(ctx, tx, taxlot.RecordedDisposition{
				ID:          taxlot.DispositionID(saleID, i),
				SaleID:      saleID,
				AccountID:   res.AccountID,
				Symbol:      res.Symbol,
				Disposition: d,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Debug().Str("sale", saleID).Int("dispositions", len(res.Dispositions)).Int("adjustments", len(res.Adjustments)).Msg("sale stored")
	return nil
}

func insertDisposition(ctx context.Context, tx *sql.Tx, r taxlot.RecordedDisposition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO dispositions (`+dispositionColumns+`, is_loss)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SaleID, r.AccountID, r.Symbol, r.LotID, r.LotVersion, dec(r.Quantity),
		dec(r.ProceedsPerShare), dec(r.CostBasisPerShare), dec(r.Proceeds), dec(r.CostBasis),
		r.AcquisitionDate.String(), r.SaleDate.String(), dec(r.GainLoss), boolInt(r.IsShortTerm),
		dec(r.WashSaleDisallowed), dec(r.WashSaleQuantity), jsonList(r.ReplacementLotIDs),
		boolInt(r.IsLoss()))
	if err != nil {
		return fmt.Errorf("failed to insert disposition: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, from, to date.Date) ([]taxlot.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+historyColumns+` FROM transactions t
		LEFT JOIN lots l ON l.id = t.lot_id
		WHERE t.date >= ? AND t.date <= ?`, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []taxlot.Transaction
	for rows.Next() {
		t, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	taxlot.SortTransactions(txs)
	return txs, nil
}

func (s *Store) LossDispositions(ctx context.Context, from, to date.Date) ([]taxlot.RecordedDisposition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+dispositionColumns+` FROM dispositions
		WHERE is_loss = 1 AND sale_date >= ? AND sale_date <= ?
		ORDER BY rowid`, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query dispositions: %w", err)
	}
	defer rows.Close()

	var res []taxlot.RecordedDisposition
	for rows.Next() {
		r, err := scanDisposition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan disposition: %w", err)
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispositions: %w", err)
	}
	return res, nil
}

func (s *Store) Findings(ctx context.Context) ([]taxlot.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+findingColumns+` FROM findings ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var res []taxlot.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		res = append(res, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}
	return res, nil
}

func (s *Store) SaveFindings(ctx context.Context, plan taxlot.FindingPlan) error {
	return WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		for _, f := range slices.Concat(plan.Refresh, plan.Expire) {
			res, err := tx.ExecContext(ctx, `UPDATE findings
				SET status = ?, loss = ?, tax_savings = ?, accounts = ?, updated_at = ?, expires_at = ?
				WHERE id = ?`,
				string(f.Status), dec(f.Loss), dec(f.TaxSavings), jsonList(f.Accounts),
				f.UpdatedAt.String(), f.ExpiresAt.String(), f.ID)
			if err != nil {
				return fmt.Errorf("failed to update finding: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil || n == 0 {
				return fmt.Errorf("unknown finding %q", f.ID)
			}
		}
		for _, f := range plan.Create {
			_, err := tx.ExecContext(ctx, `INSERT INTO findings (`+findingColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				f.ID, f.Symbol, string(f.Status), dec(f.Loss), dec(f.TaxSavings), jsonList(f.Accounts),
				f.CreatedAt.String(), f.UpdatedAt.String(), f.ExpiresAt.String())
			if err != nil {
				return fmt.Errorf("failed to insert finding: %w", err)
			}
		}
		return nil
	})
}
