package taxlot

import (
	"cmp"
	"maps"
	"slices"

	"github.com/etnz/taxlot/date"
)

// FindingStatus is the lifecycle state of a persisted harvest finding.
type FindingStatus string

const (
	FindingPotential FindingStatus = "potential"
	// FindingBlocked is a symbol still at a loss that cannot be harvested
	// right now, typically because of a recent purchase.
	FindingBlocked   FindingStatus = "blocked"
	FindingExpired   FindingStatus = "expired"
	FindingHarvested FindingStatus = "harvested"
)

// Finding is a harvest opportunity remembered between scans, one per symbol.
type Finding struct {
	ID         string        `json:"id"`
	Symbol     string        `json:"symbol"`
	Status     FindingStatus `json:"status"`
	Loss       Money         `json:"loss"`
	TaxSavings Money         `json:"taxSavings"`
	Accounts   []string      `json:"accounts"`
	CreatedAt  date.Date     `json:"createdAt"`
	UpdatedAt  date.Date     `json:"updatedAt"`
	ExpiresAt  date.Date     `json:"expiresAt"`
}

// IsOpen reports whether scans still track the finding.
func (f Finding) IsOpen() bool { return f.Status == FindingPotential || f.Status == FindingBlocked }

// FindingPlan lists the changes bringing persisted findings in line with a scan.
type FindingPlan struct {
	Create  []Finding `json:"create"`
	Refresh []Finding `json:"refresh"`
	Expire  []Finding `json:"expire"`
}

// IsEmpty reports whether the plan changes nothing.
func (p FindingPlan) IsEmpty() bool {
	return len(p.Create) == 0 && len(p.Refresh) == 0 && len(p.Expire) == 0
}

// ReconcileFindings compares the open findings already persisted with the
// opportunities of a new scan.
//
// A symbol already flagged is refreshed, never flagged twice. It stays
// potential while one of its opportunities is actionable, and turns blocked
// while it is still at a loss without any actionable opportunity. A flagged
// symbol that is no longer at a loss, or whose finding is past its
// expiration, is expired. Only actionable symbols are flagged, and new
// findings expire at the end of the tax year. Applying the plan and
// reconciling again with the same scan yields an empty plan, except for the
// refresh of unchanged findings.
func ReconcileFindings(existing []Finding, result ScanResult, today date.Date, newID func() string) FindingPlan {
	type agg struct {
		loss, savings Money
		accounts      []string
	}
	add := func(m map[string]*agg, o HarvestOpportunity) {
		a, ok := m[o.Symbol]
		if !ok {
			a = &agg{}
			m[o.Symbol] = a
		}
		a.loss = a.loss.Add(o.UnrealizedLoss)
		a.savings = a.savings.Add(o.TaxSavings)
		a.accounts = appendUnique(a.accounts, o.AccountName)
	}
	current := make(map[string]*agg)
	for _, o := range result.Actionable() {
		add(current, o)
	}
	blocked := make(map[string]*agg)
	for _, o := range result.Opportunities {
		if _, ok := current[o.Symbol]; !ok {
			add(blocked, o)
		}
	}
	symbols := slices.Sorted(maps.Keys(current))

	var plan FindingPlan
	flagged := make(map[string]bool)
	for _, f := range existing {
		if !f.IsOpen() {
			continue
		}
		status := FindingPotential
		a, ok := current[f.Symbol]
		if !ok {
			status = FindingBlocked
			a, ok = blocked[f.Symbol]
		}
		if !ok || flagged[f.Symbol] || today.After(f.ExpiresAt) {
			f.Status = FindingExpired
			f.UpdatedAt = today
			plan.Expire = append(plan.Expire, f)
			continue
		}
		flagged[f.Symbol] = true
		f.Status = status
		f.Loss, f.TaxSavings, f.Accounts, f.UpdatedAt = a.loss, a.savings, a.accounts, today
		plan.Refresh = append(plan.Refresh, f)
	}
	for _, s := range symbols {
		if flagged[s] {
			continue
		}
		a := current[s]
		plan.Create = append(plan.Create, Finding{
			ID:         newID(),
			Symbol:     s,
			Status:     FindingPotential,
			Loss:       a.loss,
			TaxSavings: a.savings,
			Accounts:   a.accounts,
			CreatedAt:  today,
			UpdatedAt:  today,
			ExpiresAt:  today.EndOfYear(),
		})
	}
	byID := func(a, b Finding) int { return cmp.Compare(a.Symbol+a.ID, b.Symbol+b.ID) }
	slices.SortFunc(plan.Refresh, byID)
	slices.SortFunc(plan.Expire, byID)
	return plan
}
