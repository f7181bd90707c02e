package store

import (
	"encoding/json"

	"github.com/etnz/taxlot"
	"github.com/etnz/taxlot/date"
	"github.com/shopspring/decimal"
)

// amounts and quantities are stored as decimal text, dates as yyyy-mm-dd.

type decimaler interface{ Decimal() decimal.Decimal }

func dec(v decimaler) string { return v.Decimal().String() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func jsonList(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// decoder converts columns, keeping the first error.
type decoder struct{ err error }

func (d *decoder) money(s string) taxlot.Money {
	if d.err != nil {
		return taxlot.Money{}
	}
	m, err := taxlot.ParseMoney(s)
	d.err = err
	return m
}

func (d *decoder) quantity(s string) taxlot.Quantity {
	if d.err != nil {
		return taxlot.Quantity{}
	}
	q, err := taxlot.ParseQuantity(s)
	d.err = err
	return q
}

func (d *decoder) date(s string) date.Date {
	if d.err != nil {
		return date.Date{}
	}
	v, err := date.Parse(s)
	d.err = err
	return v
}

func (d *decoder) acquisition(s string) taxlot.AcquisitionType {
	if d.err != nil {
		return 0
	}
	a, err := taxlot.ParseAcquisitionType(s)
	d.err = err
	return a
}

func (d *decoder) list(s string) []string {
	if d.err != nil {
		return nil
	}
	var ids []string
	d.err = json.Unmarshal([]byte(s), &ids)
	if len(ids) == 0 {
		return nil
	}
	return ids
}

const lotColumns = `id, account_id, symbol, original_quantity, remaining_quantity,
	cost_basis_per_share, total_cost_basis, acquisition_date, acquisition_type,
	is_covered, basis_unknown, wash_sale_adjustment, version`

func scanLot(row scanner) (taxlot.TaxLot, error) {
	var l taxlot.TaxLot
	var original, remaining, perShare, total, acquired, acqType, adjustment string
	err := row.Scan(&l.ID, &l.AccountID, &l.Symbol, &original, &remaining,
		&perShare, &total, &acquired, &acqType,
		&l.IsCovered, &l.BasisUnknown, &adjustment, &l.Version)
	if err != nil {
		return taxlot.TaxLot{}, err
	}
	var d decoder
	l.OriginalQuantity = d.quantity(original)
	l.RemainingQuantity = d.quantity(remaining)
	l.CostBasisPerShare = d.money(perShare)
	l.TotalCostBasis = d.money(total)
	l.AcquisitionDate = d.date(acquired)
	l.AcquisitionType = d.acquisition(acqType)
	l.WashSaleAdjustment = d.money(adjustment)
	return l, d.err
}

const transactionColumns = `id, account_id, symbol, type, date, quantity, price, lot_id, matched_quantity`

func scanTransaction(row scanner) (taxlot.Transaction, error) {
	var t taxlot.Transaction
	var typ, on, qty, price, mat string
	if err := row.Scan(&t.ID, &t.AccountID, &t.Symbol, &typ, &on, &qty, &price, &t.LotID, &mat); err != nil {
		return taxlot.Transaction{}, err
	}
	var d decoder
	t.Type = taxlot.TxType(typ)
	t.Date = d.date(on)
	t.Quantity = d.quantity(qty)
	t.Price = d.money(price)
	t.MatchedQuantity = d.quantity(mat)
	return t, d.err
}

// historyColumns are the transaction columns followed by the quantities of
// the acquired lot, from transactions t left joined on lots l.
const historyColumns = `t.id, t.account_id, t.symbol, t.type, t.date, t.quantity, t.price, t.lot_id, t.matched_quantity,
	COALESCE(l.original_quantity, '0'), COALESCE(l.remaining_quantity, '0')`

func scanHistory(row scanner) (taxlot.Transaction, error) {
	var t taxlot.Transaction
	var typ, on, qty, price, mat, original, remaining string
	if err := row.Scan(&t.ID, &t.AccountID, &t.Symbol, &typ, &on, &qty, &price, &t.LotID, &mat, &original, &remaining); err != nil {
		return taxlot.Transaction{}, err
	}
	var d decoder
	t.Type = taxlot.TxType(typ)
	t.Date = d.date(on)
	t.Quantity = d.quantity(qty)
	t.Price = d.money(price)
	t.MatchedQuantity = d.quantity(mat)
	t.Sold = d.quantity(original).Sub(d.quantity(remaining))
	return t, d.err
}

const dispositionColumns = `id, sale_id, account_id, symbol, lot_id, lot_version, quantity,
	proceeds_per_share, cost_basis_per_share, proceeds, cost_basis,
	acquisition_date, sale_date, gain_loss, is_short_term,
	wash_sale_disallowed, wash_sale_quantity, replacement_lot_ids`

func scanDisposition(row scanner) (taxlot.RecordedDisposition, error) {
	var r taxlot.RecordedDisposition
	var qty, proceedsPS, basisPS, proceeds, basis string
	var acquired, sold, gain, disallowed, washQty, replacements string
	err := row.Scan(&r.ID, &r.SaleID, &r.AccountID, &r.Symbol, &r.LotID, &r.LotVersion, &qty,
		&proceedsPS, &basisPS, &proceeds, &basis,
		&acquired, &sold, &gain, &r.IsShortTerm,
		&disallowed, &washQty, &replacements)
	if err != nil {
		return taxlot.RecordedDisposition{}, err
	}
	var d decoder
	r.Quantity = d.quantity(qty)
	r.ProceedsPerShare = d.money(proceedsPS)
	r.CostBasisPerShare = d.money(basisPS)
	r.Proceeds = d.money(proceeds)
	r.CostBasis = d.money(basis)
	r.AcquisitionDate = d.date(acquired)
	r.SaleDate = d.date(sold)
	r.GainLoss = d.money(gain)
	r.WashSaleDisallowed = d.money(disallowed)
	r.WashSaleQuantity = d.quantity(washQty)
	r.ReplacementLotIDs = d.list(replacements)
	return r, d.err
}

const findingColumns = `id, symbol, status, loss, tax_savings, accounts, created_at, updated_at, expires_at`

func scanFinding(row scanner) (taxlot.Finding, error) {
	var f taxlot.Finding
	var status, loss, savings, accounts, created, updated, expires string
	if err := row.Scan(&f.ID, &f.Symbol, &status, &loss, &savings, &accounts, &created, &updated, &expires); err != nil {
		return taxlot.Finding{}, err
	}
	var d decoder
	f.Status = taxlot.FindingStatus(status)
	f.Loss = d.money(loss)
	f.TaxSavings = d.money(savings)
	f.Accounts = d.list(accounts)
	f.CreatedAt = d.date(created)
	f.UpdatedAt = d.date(updated)
	f.ExpiresAt = d.date(expires)
	return f, d.err
}
