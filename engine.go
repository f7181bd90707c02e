package taxlot

import (
	"context"
	"fmt"

	"github.com/etnz/taxlot/date"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine runs the calculators over the content of a Ledger.
type Engine struct {
	ledger       Ledger
	prices       PriceLookup
	estimator    Estimator
	detector     WashSaleDetector
	scanOptions  ScanOptions
	alternatives StaticAlternatives
	today        func() date.Date
	newID        func() string
	log          zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSubstitutes sets the classifier of substantially identical securities.
func WithSubstitutes(c SubstituteClassifier) EngineOption {
	return func(e *Engine) { e.detector.Substitutes = c }
}

// WithClock sets the function returning the current day.
func WithClock(today func() date.Date) EngineOption {
	return func(e *Engine) { e.today = today }
}

// WithScanOptions sets the harvest scan thresholds.
func WithScanOptions(o ScanOptions) EngineOption {
	return func(e *Engine) { e.scanOptions = o }
}

// WithAlternatives sets the securities suggested as replacements after a harvest.
func WithAlternatives(a StaticAlternatives) EngineOption {
	return func(e *Engine) { e.alternatives = a }
}

// WithIDs sets the generator of sale and finding ids.
func WithIDs(newID func() string) EngineOption {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine returns an Engine over ledger, valuing lots with prices and
// estimating taxes with rates.
func NewEngine(ledger Ledger, prices PriceLookup, rates RateTable, log zerolog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		ledger:      ledger,
		prices:      prices,
		estimator:   Estimator{Rates: rates},
		scanOptions: DefaultScanOptions(),
		today:       date.Today,
		newID:       uuid.NewString,
		log:         log.With().Str("component", "engine").Logger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Estimator returns the tax estimator of the engine.
func (e *Engine) Estimator() Estimator { return e.estimator }

// Today returns the current day of the engine's clock.
func (e *Engine) Today() date.Date { return e.today() }

// saleHistory returns the transactions that can replace shares sold on day.
func (e *Engine) saleHistory(ctx context.Context, day date.Date) ([]Transaction, error) {
	w := WashSaleWindow(day)
	h, err := e.ledger.History(ctx, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("cannot read history: %w", err)
	}
	return h, nil
}

func (e *Engine) saleRequest(req SaleRequest) SaleRequest {
	req.Symbol = NormalizeSymbol(req.Symbol)
	if req.SaleDate.IsZero() {
		req.SaleDate = e.today()
	}
	return req
}

// PreviewSale compares the cost basis methods for a sale, without committing anything.
func (e *Engine) PreviewSale(ctx context.Context, req SaleRequest, profile TaxProfile) (SalePreview, error) {
	req = e.saleRequest(req)
	lots, err := e.ledger.ListOpenLots(ctx, req.AccountID, req.Symbol)
	if err != nil {
		return SalePreview{}, fmt.Errorf("cannot list lots: %w", err)
	}
	history, err := e.saleHistory(ctx, req.SaleDate)
	if err != nil {
		return SalePreview{}, err
	}
	return PreviewSale(lots, req, history, profile, e.detector, e.estimator)
}

// Sell computes a sale and commits it to the ledger, returning the sale id.
//
// A sale racing with another one on the same lots fails with an error
// matching ErrConflict, and can be retried.
func (e *Engine) Sell(ctx context.Context, req SaleRequest) (string, SaleResult, error) {
	req = e.saleRequest(req)
	lots, err := e.ledger.ListOpenLots(ctx, req.AccountID, req.Symbol)
	if err != nil {
		return "", SaleResult{}, fmt.Errorf("cannot list lots: %w", err)
	}
	history, err := e.saleHistory(ctx, req.SaleDate)
	if err != nil {
		return "", SaleResult{}, err
	}
	res, err := CalculateSaleResult(lots, req, history, e.detector)
	if err != nil {
		return "", SaleResult{}, err
	}
	saleID := e.newID()
	if err := e.ledger.CommitDispositions(ctx, saleID, res); err != nil {
		e.log.Warn().Err(err).Str("account", req.AccountID).Str("symbol", req.Symbol).Msg("sale not committed")
		return "", SaleResult{}, fmt.Errorf("cannot commit sale: %w", err)
	}
	ev := e.log.Info().
		Str("sale", saleID).
		Str("account", req.AccountID).
		Str("symbol", req.Symbol).
		Str("quantity", req.Quantity.String()).
		Str("method", req.Method.String()).
		Str("net", res.NetGainLoss.String())
	if res.WashSaleDisallowed.IsPositive() {
		ev = ev.Str("disallowed", res.WashSaleDisallowed.String()).Int("adjustments", len(res.Adjustments))
	}
	ev.Msg("sale committed")
	return saleID, res, nil
}

// RecordPurchase records an acquisition. When it replaces shares sold at a
// loss within 30 days, the lot is created as a wash-sale replacement with
// the disallowed loss added to its basis.
func (e *Engine) RecordPurchase(ctx context.Context, n NewLot) (TaxLot, PurchaseMatch, error) {
	n.Symbol = NormalizeSymbol(n.Symbol)
	if err := n.Validate(); err != nil {
		return TaxLot{}, PurchaseMatch{}, err
	}
	var match PurchaseMatch
	tx := n.Transaction("", "")
	if tx.Type.IsAcquisition() && !n.BasisUnknown {
		w := WashSaleWindow(n.Date)
		losses, err := e.ledger.LossDispositions(ctx, w.From, w.To)
		if err != nil {
			return TaxLot{}, PurchaseMatch{}, fmt.Errorf("cannot read loss sales: %w", err)
		}
		match = e.detector.MatchPurchase(tx, losses)
	}

	var (
		lot TaxLot
		err error
	)
	if match.IsWashSale() {
		lot, err = e.ledger.CreateReplacementLot(ctx, n, match)
	} else {
		lot, err = e.ledger.CreateLot(ctx, n)
	}
	if err != nil {
		return TaxLot{}, PurchaseMatch{}, fmt.Errorf("cannot record %s: %w", n.Type, err)
	}
	ev := e.log.Info().Str("lot", lot.ID).Str("account", lot.AccountID).Str("symbol", lot.Symbol).Str("quantity", lot.OriginalQuantity.String())
	if match.IsWashSale() {
		ev = ev.Str("replaces", match.Quantity.String()).Str("basisAdded", match.Amount.String())
	}
	ev.Msg("lot created")
	return lot, match, nil
}

// SafeToSell tells when symbol can be sold at a loss without a wash sale.
func (e *Engine) SafeToSell(ctx context.Context, symbol string) (SafeToSell, error) {
	today := e.today()
	h, err := e.ledger.History(ctx, today.Add(-WashSaleWindowDays), today)
	if err != nil {
		return SafeToSell{}, fmt.Errorf("cannot read history: %w", err)
	}
	return e.detector.FindSafeToSellDate(symbol, h, today), nil
}

// quotes returns the prices of the symbols held in accounts. Prices that
// cannot be fetched are logged and left out.
func (e *Engine) quotes(ctx context.Context, accounts []Account) Quotes {
	var symbols []string
	for _, a := range accounts {
		for _, s := range symbolsOf(a.Lots) {
			symbols = appendUnique(symbols, s)
		}
	}
	q := make(Quotes)
	for _, s := range symbols {
		p, err := e.prices.Price(ctx, s)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", s).Msg("no price")
			continue
		}
		q[s] = p
	}
	return q
}

// Scan looks for harvestable losses in every account of the ledger.
func (e *Engine) Scan(ctx context.Context, profile TaxProfile) (ScanResult, error) {
	accounts, err := e.ledger.Accounts(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("cannot list accounts: %w", err)
	}
	today := e.today()
	history, err := e.ledger.History(ctx, today.Add(-WashSaleWindowDays), today)
	if err != nil {
		return ScanResult{}, fmt.Errorf("cannot read history: %w", err)
	}
	scanner := HarvestScanner{
		Detector:     e.detector,
		Estimator:    e.estimator,
		Options:      e.scanOptions,
		Alternatives: e.alternatives,
	}
	res, err := scanner.Scan(accounts, e.quotes(ctx, accounts), profile, history, today)
	if err != nil {
		return ScanResult{}, err
	}
	e.log.Debug().
		Int("actionable", res.Summary.ActionableCount).
		Int("blocked", res.Summary.BlockedCount).
		Str("harvestable", res.Summary.TotalHarvestable.String()).
		Msg("scan done")
	return res, nil
}

// SaveFindings reconciles the persisted findings with a scan.
func (e *Engine) SaveFindings(ctx context.Context, store FindingStore, res ScanResult) (FindingPlan, error) {
	existing, err := store.Findings(ctx)
	if err != nil {
		return FindingPlan{}, fmt.Errorf("cannot read findings: %w", err)
	}
	plan := ReconcileFindings(existing, res, res.AsOf, e.newID)
	if err := store.SaveFindings(ctx, plan); err != nil {
		return FindingPlan{}, fmt.Errorf("cannot save findings: %w", err)
	}
	e.log.Info().Int("created", len(plan.Create)).Int("refreshed", len(plan.Refresh)).Int("expired", len(plan.Expire)).Msg("findings saved")
	return plan, nil
}

// EnrichedLots returns the open lots of an account valued at current prices,
// and their per-symbol summary. Lots without a price are valued at their basis.
func (e *Engine) EnrichedLots(ctx context.Context, accountID string) ([]LotView, []PositionSummary, error) {
	accounts, err := e.ledger.Accounts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot list accounts: %w", err)
	}
	for _, a := range accounts {
		if a.ID != accountID {
			continue
		}
		views := EnrichLotsWithMarketData(a.Lots, e.quotes(ctx, []Account{a}), e.today())
		return views, GroupBySymbol(a.Lots), nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownAccount, accountID)
}
