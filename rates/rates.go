// Package rates holds the 2024 federal and state tax rate tables.
package rates

import (
	"fmt"
	"strings"

	"github.com/etnz/taxlot"
	"github.com/shopspring/decimal"
)

// bracket applies rate to incomes from min (included) up to the next bracket's min.
type bracket struct {
	min  int64
	rate string
}

var ordinary2024 = map[taxlot.FilingStatus][]bracket{
	taxlot.Single: {
		{0, "0.10"}, {11600, "0.12"}, {47150, "0.22"}, {100525, "0.24"},
		{191950, "0.32"}, {243725, "0.35"}, {609350, "0.37"},
	},
	taxlot.MarriedFilingJointly: {
		{0, "0.10"}, {23200, "0.12"}, {94300, "0.22"}, {201050, "0.24"},
		{383900, "0.32"}, {487450, "0.35"}, {731200, "0.37"},
	},
	taxlot.MarriedFilingSeparately: {
		{0, "0.10"}, {11600, "0.12"}, {47150, "0.22"}, {100525, "0.24"},
		{191950, "0.32"}, {243725, "0.35"}, {365600, "0.37"},
	},
	taxlot.HeadOfHousehold: {
		{0, "0.10"}, {16550, "0.12"}, {63100, "0.22"}, {100500, "0.24"},
		{191950, "0.32"}, {243700, "0.35"}, {609350, "0.37"},
	},
}

var longTerm2024 = map[taxlot.FilingStatus][]bracket{
	taxlot.Single:                  {{0, "0"}, {47025, "0.15"}, {518900, "0.20"}},
	taxlot.MarriedFilingJointly:    {{0, "0"}, {94050, "0.15"}, {583750, "0.20"}},
	taxlot.MarriedFilingSeparately: {{0, "0"}, {47025, "0.15"}, {291850, "0.20"}},
	taxlot.HeadOfHousehold:         {{0, "0"}, {63000, "0.15"}, {551350, "0.20"}},
}

// NIIT applies above these modified adjusted gross incomes.
var niitThresholds = map[taxlot.FilingStatus]int64{
	taxlot.Single:                  200000,
	taxlot.MarriedFilingJointly:    250000,
	taxlot.MarriedFilingSeparately: 125000,
	taxlot.HeadOfHousehold:         200000,
}

const niitRate = "0.038"

// stateRate is a state's top marginal rate on ordinary income and on long-term gains.
type stateRate struct{ ordinary, longTerm string }

var states = map[string]stateRate{
	"AL": {"0.05", "0.05"},
	"AK": {"0", "0"},
	"AZ": {"0.025", "0.025"},
	"AR": {"0.047", "0.047"},
	"CA": {"0.133", "0.133"},
	"CO": {"0.044", "0.044"},
	"CT": {"0.0699", "0.0699"},
	"DE": {"0.066", "0.066"},
	"FL": {"0", "0"},
	"GA": {"0.0549", "0.0549"},
	"HI": {"0.11", "0.0725"},
	"ID": {"0.058", "0.058"},
	"IL": {"0.0495", "0.0495"},
	"IN": {"0.0305", "0.0305"},
	"IA": {"0.057", "0.057"},
	"KS": {"0.057", "0.057"},
	"KY": {"0.04", "0.04"},
	"LA": {"0.0425", "0.0425"},
	"ME": {"0.0715", "0.0715"},
	"MD": {"0.0575", "0.0575"},
	"MA": {"0.09", "0.09"},
	"MI": {"0.0425", "0.0425"},
	"MN": {"0.0985", "0.0985"},
	"MS": {"0.05", "0.05"},
	"MO": {"0.048", "0.048"},
	"MT": {"0.059", "0.059"},
	"NE": {"0.0584", "0.0584"},
	"NV": {"0", "0"},
	"NH": {"0", "0.05"},
	"NJ": {"0.1075", "0.1075"},
	"NM": {"0.059", "0.059"},
	"NY": {"0.109", "0.109"},
	"NC": {"0.0475", "0.0475"},
	"ND": {"0.025", "0.025"},
	"OH": {"0.0357", "0.0357"},
	"OK": {"0.0475", "0.0475"},
	"OR": {"0.099", "0.099"},
	"PA": {"0.0307", "0.0307"},
	"RI": {"0.0599", "0.0599"},
	"SC": {"0.064", "0.064"},
	"SD": {"0", "0"},
	"TN": {"0", "0"},
	"TX": {"0", "0"},
	"UT": {"0.0465", "0.0465"},
	"VT": {"0.0875", "0.0875"},
	"VA": {"0.0575", "0.0575"},
	"WA": {"0", "0.07"},
	"WV": {"0.055", "0.055"},
	"WI": {"0.0765", "0.0765"},
	"WY": {"0", "0"},
	"DC": {"0.1075", "0.1075"},
}

// Table2024 is the taxlot.RateTable of tax year 2024.
type Table2024 struct{}

// Default is the rate table used when none is configured.
var Default taxlot.RateTable = Table2024{}

func (Table2024) Rates(p taxlot.TaxProfile) (taxlot.Rates, error) {
	ord, ok := ordinary2024[p.FilingStatus]
	if !ok {
		return taxlot.Rates{}, fmt.Errorf("no brackets for filing status %s", p.FilingStatus)
	}
	income := p.Income.Decimal()
	r := taxlot.Rates{
		Ordinary: marginal(ord, income),
		LongTerm: marginal(longTerm2024[p.FilingStatus], income),
	}
	if income.GreaterThan(decimal.NewFromInt(niitThresholds[p.FilingStatus])) {
		r.NIIT = rate(niitRate)
	}
	// an unknown state has no state tax.
	if s, ok := states[strings.ToUpper(strings.TrimSpace(p.State))]; ok {
		r.StateOrdinary, r.StateLongTerm = rate(s.ordinary), rate(s.longTerm)
	}
	return r, nil
}

// KnownState reports whether the table has rates for a state code.
func KnownState(code string) bool {
	_, ok := states[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// marginal returns the rate of the highest bracket income reaches.
func marginal(brackets []bracket, income decimal.Decimal) taxlot.Rate {
	res := brackets[0].rate
	for _, b := range brackets {
		if income.GreaterThanOrEqual(decimal.NewFromInt(b.min)) {
			res = b.rate
		}
	}
	return rate(res)
}

func rate(s string) taxlot.Rate { return taxlot.R(decimal.RequireFromString(s)) }
