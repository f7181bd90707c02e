package taxlot

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/etnz/taxlot/date"
)

// AccountType is the free-form kind of an account, as named by the custodian.
type AccountType string

// account kinds whose gains and losses are not taxed, as lowercase words.
var taxAdvantaged = map[string]bool{
	"401k": true, "403b": true, "457": true, "ira": true, "roth": true, "hsa": true,
	"529": true, "pension": true, "retirement": true,
	"rothira": true, "sepira": true, "simpleira": true, "traditionalira": true,
}

// IsTaxable reports whether gains and losses in the account are taxed.
//
// A type naming a retirement or tax-advantaged kind as a word ("Roth IRA",
// "401(k)", "sep_ira") is not taxable, unless negated as in "non-retirement".
// Anything else, including an unknown type, is.
func (t AccountType) IsTaxable() bool {
	words := strings.FieldsFunc(strings.ToLower(string(t)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	prev := ""
	for i := 0; i < len(words); i++ {
		w := words[i]
		// "401(k)" and "403 b" are one word.
		if (w == "401" || w == "403") && i+1 < len(words) && len(words[i+1]) == 1 {
			w += words[i+1]
			i++
		}
		if taxAdvantaged[w] && prev != "non" {
			return false
		}
		prev = w
	}
	return true
}

// Account is a brokerage or retirement account and its open lots.
type Account struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Type AccountType `json:"type"`
	Lots []TaxLot    `json:"lots,omitempty"`
}

// Label returns the name of the account, or its id.
func (a Account) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// Alternative is a security that can be bought after a harvest to keep a
// similar exposure without being substantially identical.
type Alternative struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// StaticAlternatives lists alternatives per symbol.
type StaticAlternatives map[string][]Alternative

// WashSaleRisk grades how a harvest interacts with the wash-sale rule.
type WashSaleRisk string

const (
	// NoWashSaleRisk: nothing substantially identical is held or was bought recently.
	NoWashSaleRisk WashSaleRisk = "none"
	// WouldTrigger: substantially identical shares are held elsewhere, buying
	// more of them within 30 days of the sale would disallow the loss.
	WouldTrigger WashSaleRisk = "would-trigger"
	// CurrentlyBlocked: a recent purchase already makes a loss sale a wash sale.
	CurrentlyBlocked WashSaleRisk = "currently-blocked"
)

// HeldElsewhere is a substantially identical position in another account.
type HeldElsewhere struct {
	Symbol      string      `json:"symbol"`
	AccountName string      `json:"accountName"`
	AccountType AccountType `json:"accountType"`
	Taxable     bool        `json:"taxable"`
}

// HarvestOpportunity is an unrealized loss on one symbol in one account.
type HarvestOpportunity struct {
	AccountID            string          `json:"accountId"`
	AccountName          string          `json:"accountName"`
	AccountType          AccountType     `json:"accountType"`
	Symbol               string          `json:"symbol"`
	Shares               Quantity        `json:"shares"`
	CurrentValue         Money           `json:"currentValue"`
	CostBasis            Money           `json:"costBasis"`
	UnrealizedLoss       Money           `json:"unrealizedLoss"` // positive amount
	HoldingPeriod        HoldingPeriod   `json:"holdingPeriod"`
	TaxSavings           Money           `json:"taxSavings"`
	EffectiveRate        Rate            `json:"effectiveRate"`
	CalculationBreakdown string          `json:"calculationBreakdown"`
	WashSaleRisk         WashSaleRisk    `json:"washSaleRisk"`
	WashSaleNote         string          `json:"washSaleNote,omitempty"`
	IdenticalHoldings    []HeldElsewhere `json:"identicalHoldings,omitempty"`
	SafeToSellDate       date.Date       `json:"safeToSellDate"`
	Substitutes          []Alternative   `json:"substitutes,omitempty"`
	IsActionable         bool            `json:"isActionable"`
	Blockers             []string        `json:"blockers"`
	Lots                 []LotCandidate  `json:"lots"`
}

// ScanSummary totals the actionable opportunities of a scan.
type ScanSummary struct {
	TotalHarvestable Money    `json:"totalHarvestable"`
	TotalTaxSavings  Money    `json:"totalTaxSavings"`
	ActionableCount  int      `json:"actionableCount"`
	BlockedCount     int      `json:"blockedCount"`
	NeedsCostBasis   []string `json:"needsCostBasis"`
}

// ScanResult is the outcome of a harvest scan.
type ScanResult struct {
	AsOf          date.Date            `json:"asOf"`
	Opportunities []HarvestOpportunity `json:"opportunities"`
	Summary       ScanSummary          `json:"summary"`
	Warnings      []string             `json:"warnings"`
}

// Actionable returns the opportunities without blockers.
func (r ScanResult) Actionable() []HarvestOpportunity {
	var res []HarvestOpportunity
	for _, o := range r.Opportunities {
		if o.IsActionable {
			res = append(res, o)
		}
	}
	return res
}

// ScanOptions tune a harvest scan.
type ScanOptions struct {
	// MinLoss is the smallest unrealized loss reported.
	MinLoss Money
	// MinTaxSavings is the smallest tax saving reported.
	MinTaxSavings Money
	// IncludeNonTaxable reports losses in tax-advantaged accounts, as blocked.
	IncludeNonTaxable bool
}

// DefaultScanOptions reports losses of $100 or more saving at least $25 of tax.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{MinLoss: USD(100), MinTaxSavings: USD(25)}
}

// HarvestScanner looks for unrealized losses worth realizing.
type HarvestScanner struct {
	Detector     WashSaleDetector
	Estimator    Estimator
	Options      ScanOptions
	Alternatives StaticAlternatives
}

// Scan reports the harvestable losses of every account, valued at quotes on today.
//
// history is the trade history of every account, used to tell whether a
// recent purchase blocks a loss sale. Lots without a known basis are listed
// in the summary's NeedsCostBasis, lots without a quote are reported in the
// warnings. Neither is silently dropped.
func (s HarvestScanner) Scan(accounts []Account, quotes Quotes, profile TaxProfile, history []Transaction, today date.Date) (ScanResult, error) {
	res := ScanResult{AsOf: today, Summary: ScanSummary{NeedsCostBasis: []string{}}}
	var missing []string

	for _, acc := range accounts {
		taxable := acc.Type.IsTaxable()
		if !taxable && !s.Options.IncludeNonTaxable {
			continue
		}
		for _, symbol := range symbolsOf(acc.Lots) {
			var (
				lots       []TaxLot
				unknown    bool
				everClosed bool
			)
			for _, l := range acc.Lots {
				if l.Symbol != symbol {
					continue
				}
				switch {
				case !l.IsOpen():
					everClosed = true
				case l.BasisUnknown:
					unknown = true
				default:
					lots = append(lots, l)
				}
			}
			if unknown {
				res.Summary.NeedsCostBasis = appendUnique(res.Summary.NeedsCostBasis, fmt.Sprintf("%s in %s", symbol, acc.Label()))
			}
			if len(lots) == 0 {
				if everClosed && !unknown {
					res.Opportunities = append(res.Opportunities, HarvestOpportunity{
						AccountID: acc.ID, AccountName: acc.Label(), AccountType: acc.Type, Symbol: symbol,
						WashSaleRisk: NoWashSaleRisk, Blockers: []string{"position fully consumed"},
					})
				}
				continue
			}
			if _, ok := quotes[symbol]; !ok {
				missing = appendUnique(missing, symbol)
				continue
			}
			opp, ok, err := s.opportunity(acc, symbol, lots, accounts, quotes, profile, history, today, taxable)
			if err != nil {
				return ScanResult{}, err
			}
			if ok {
				res.Opportunities = append(res.Opportunities, opp)
			}
		}
	}

	slices.SortStableFunc(res.Opportunities, func(a, b HarvestOpportunity) int {
		return cmp.Or(
			b.TaxSavings.Decimal().Cmp(a.TaxSavings.Decimal()),
			cmp.Compare(a.Symbol, b.Symbol),
			cmp.Compare(a.AccountID, b.AccountID),
		)
	})
	for _, o := range res.Opportunities {
		if !o.IsActionable {
			res.Summary.BlockedCount++
			continue
		}
		res.Summary.ActionableCount++
		res.Summary.TotalHarvestable = res.Summary.TotalHarvestable.Add(o.UnrealizedLoss)
		res.Summary.TotalTaxSavings = res.Summary.TotalTaxSavings.Add(o.TaxSavings)
	}

	for _, m := range missing {
		res.Warnings = append(res.Warnings, fmt.Sprintf("no price for %s, its lots were not scanned", m))
	}
	if n := len(res.Summary.NeedsCostBasis); n > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("missing cost basis for %d position(s), add it to see the potential tax savings", n))
	}
	if n := res.Summary.BlockedCount; n > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d opportunity(s) are blocked", n))
	}
	return res, nil
}

// opportunity builds the opportunity of a position, ok is false when it is
// under the thresholds.
func (s HarvestScanner) opportunity(acc Account, symbol string, lots []TaxLot, accounts []Account, quotes Quotes, profile TaxProfile, history []Transaction, today date.Date, taxable bool) (HarvestOpportunity, bool, error) {
	candidates := FindLotLevelHarvestOpportunities(lots, quotes, today, Money{})
	if len(candidates) == 0 {
		return HarvestOpportunity{}, false, nil
	}
	opp := HarvestOpportunity{
		AccountID:   acc.ID,
		AccountName: acc.Label(),
		AccountType: acc.Type,
		Symbol:      symbol,
		Lots:        candidates,
		Blockers:    []string{},
	}
	var (
		byPeriod [2]Money
		lotIDs   []string
	)
	for _, c := range candidates {
		opp.Shares = opp.Shares.Add(c.Lot.RemainingQuantity)
		opp.CostBasis = opp.CostBasis.Add(c.Lot.TotalCostBasis)
		opp.CurrentValue = opp.CurrentValue.Add(c.Price.Mul(c.Lot.RemainingQuantity))
		opp.UnrealizedLoss = opp.UnrealizedLoss.Add(c.Loss)
		byPeriod[c.HoldingPeriod] = byPeriod[c.HoldingPeriod].Add(c.Loss)
		lotIDs = append(lotIDs, c.Lot.ID)
	}
	switch {
	case byPeriod[ShortTerm].IsZero():
		opp.HoldingPeriod = LongTerm
	case byPeriod[LongTerm].IsZero():
		opp.HoldingPeriod = ShortTerm
	default:
		opp.HoldingPeriod = Mixed
	}
	if opp.UnrealizedLoss.LessThan(s.Options.MinLoss) {
		return HarvestOpportunity{}, false, nil
	}

	if taxable {
		var breakdown []string
		for _, p := range []HoldingPeriod{ShortTerm, LongTerm} {
			if byPeriod[p].IsZero() {
				continue
			}
			est, err := s.Estimator.Estimate(byPeriod[p].Neg(), p, profile)
			if err != nil {
				return HarvestOpportunity{}, false, err
			}
			opp.TaxSavings = opp.TaxSavings.Add(est.TaxSavedFromLoss)
			breakdown = append(breakdown, est.Breakdown)
		}
		opp.CalculationBreakdown = strings.Join(breakdown, "; ")
		opp.EffectiveRate = opp.TaxSavings.DivMoney(opp.UnrealizedLoss)
		if opp.TaxSavings.LessThan(s.Options.MinTaxSavings) {
			return HarvestOpportunity{}, false, nil
		}
	} else {
		opp.Blockers = append(opp.Blockers, "tax-advantaged account")
	}

	safe := s.Detector.FindSafeToSellDate(symbol, history, today, lotIDs...)
	opp.SafeToSellDate = safe.SafeDate
	opp.IdenticalHoldings = s.heldElsewhere(acc, symbol, accounts)
	switch {
	case !safe.Safe:
		opp.WashSaleRisk = CurrentlyBlocked
		opp.WashSaleNote = safe.Reason
		opp.Blockers = append(opp.Blockers, fmt.Sprintf("wash-sale block until %s, safe to sell from %s", safe.BlockedUntil, safe.SafeDate))
	case len(opp.IdenticalHoldings) > 0:
		opp.WashSaleRisk = WouldTrigger
		retirement := slices.ContainsFunc(opp.IdenticalHoldings, func(h HeldElsewhere) bool { return !h.Taxable })
		if retirement {
			opp.WashSaleNote = fmt.Sprintf("%s (or an identical security) is held in a tax-advantaged account, any purchase or reinvestment there within %d days of the sale disallows the loss", symbol, WashSaleWindowDays)
		} else {
			opp.WashSaleNote = fmt.Sprintf("%s (or an identical security) is held in another account, do not buy it within %d days of the sale", symbol, WashSaleWindowDays)
		}
	default:
		opp.WashSaleRisk = NoWashSaleRisk
	}

	for _, a := range s.Alternatives[symbol] {
		if !s.Detector.Equivalent(symbol, a.Symbol) {
			opp.Substitutes = append(opp.Substitutes, a)
		}
	}
	opp.IsActionable = len(opp.Blockers) == 0
	return opp, true, nil
}

// heldElsewhere lists the open positions substantially identical to symbol
// outside of acc, and in acc under another symbol.
func (s HarvestScanner) heldElsewhere(acc Account, symbol string, accounts []Account) []HeldElsewhere {
	var res []HeldElsewhere
	for _, other := range accounts {
		for _, sym := range symbolsOf(other.Lots) {
			if other.ID == acc.ID && sym == symbol {
				continue
			}
			if !s.Detector.Equivalent(symbol, sym) || !hasOpen(other.Lots, sym) {
				continue
			}
			res = append(res, HeldElsewhere{Symbol: sym, AccountName: other.Label(), AccountType: other.Type, Taxable: other.Type.IsTaxable()})
		}
	}
	return res
}

// symbolsOf returns the distinct symbols of lots, in order of appearance.
func symbolsOf(lots []TaxLot) []string {
	var res []string
	for _, l := range lots {
		res = appendUnique(res, l.Symbol)
	}
	return res
}

func hasOpen(lots []TaxLot, symbol string) bool {
	return slices.ContainsFunc(lots, func(l TaxLot) bool { return l.Symbol == symbol && l.IsOpen() })
}

func appendUnique(s []string, v string) []string {
	if slices.Contains(s, v) {
		return s
	}
	return append(s, v)
}
