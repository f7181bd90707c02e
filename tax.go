package taxlot

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FilingStatus is the federal filing status of the taxpayer.
type FilingStatus int

const (
	Single FilingStatus = iota
	MarriedFilingJointly
	MarriedFilingSeparately
	HeadOfHousehold
)

func (f FilingStatus) String() string {
	switch f {
	case Single:
		return "single"
	case MarriedFilingJointly:
		return "married_filing_jointly"
	case MarriedFilingSeparately:
		return "married_filing_separately"
	case HeadOfHousehold:
		return "head_of_household"
	default:
		return "unknown"
	}
}

// ParseFilingStatus parses a filing status, dashes and underscores are interchangeable.
func ParseFilingStatus(s string) (FilingStatus, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "single":
		return Single, nil
	case "married_filing_jointly", "mfj", "married":
		return MarriedFilingJointly, nil
	case "married_filing_separately", "mfs":
		return MarriedFilingSeparately, nil
	case "head_of_household", "hoh":
		return HeadOfHousehold, nil
	default:
		return 0, fmt.Errorf("unknown filing status: %q", s)
	}
}

func (f FilingStatus) MarshalJSON() ([]byte, error) { return json.Marshal(f.String()) }

func (f *FilingStatus) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseFilingStatus(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// TaxProfile is what the estimator needs to know about the taxpayer.
type TaxProfile struct {
	Income       Money        `json:"income"`
	FilingStatus FilingStatus `json:"filingStatus"`
	State        string       `json:"state"` // two-letter code
}

// DefaultTaxProfile is used when nothing is known about the taxpayer.
func DefaultTaxProfile() TaxProfile {
	return TaxProfile{Income: USD(150000), FilingStatus: MarriedFilingJointly, State: "VA"}
}

// Rates are the marginal rates applying to a taxpayer.
type Rates struct {
	Ordinary      Rate `json:"ordinary"`      // federal, short-term gains
	LongTerm      Rate `json:"longTerm"`      // federal, long-term gains
	NIIT          Rate `json:"niit"`          // net investment income tax, zero below the threshold
	StateOrdinary Rate `json:"stateOrdinary"` // state, short-term gains
	StateLongTerm Rate `json:"stateLongTerm"` // state, long-term gains
}

// RateTable looks up the marginal rates of a profile.
type RateTable interface {
	Rates(profile TaxProfile) (Rates, error)
}

// TaxEstimate is the tax effect of a gain or a loss.
//
// Exactly one of TaxOwedOnGain and TaxSavedFromLoss can be non zero.
type TaxEstimate struct {
	Amount           Money         `json:"amount"` // negative for a loss
	HoldingPeriod    HoldingPeriod `json:"holdingPeriod"`
	FederalRate      Rate          `json:"federalRate"`
	StateRate        Rate          `json:"stateRate"`
	NIITRate         Rate          `json:"niitRate"`
	CombinedRate     Rate          `json:"combinedRate"`
	TaxOwedOnGain    Money         `json:"taxOwedOnGain"`
	TaxSavedFromLoss Money         `json:"taxSavedFromLoss"`
	Breakdown        string        `json:"breakdown"`
}

// Tax returns the signed tax effect: positive when owed, negative when saved.
func (e TaxEstimate) Tax() Money { return e.TaxOwedOnGain.Sub(e.TaxSavedFromLoss) }

// Estimator converts gains and losses into tax.
type Estimator struct {
	Rates RateTable
}

// Estimate returns the tax owed on a gain (positive amount) or saved by a
// loss (negative amount) held for period.
//
// The combined rate is the plain sum of the federal, state and NIIT rates.
// State tax deductibility is ignored.
func (e Estimator) Estimate(amount Money, period HoldingPeriod, profile TaxProfile) (TaxEstimate, error) {
	if period != ShortTerm && period != LongTerm {
		return TaxEstimate{}, invalid("holdingPeriod", "must be short-term or long-term, got %s", period)
	}
	rates, err := e.Rates.Rates(profile)
	if err != nil {
		return TaxEstimate{}, fmt.Errorf("cannot get tax rates: %w", err)
	}
	est := TaxEstimate{Amount: amount, HoldingPeriod: period, NIITRate: rates.NIIT}
	if period == LongTerm {
		est.FederalRate, est.StateRate = rates.LongTerm, rates.StateLongTerm
	} else {
		est.FederalRate, est.StateRate = rates.Ordinary, rates.StateOrdinary
	}
	est.CombinedRate = est.FederalRate.Add(est.StateRate).Add(est.NIITRate)

	tax := amount.Abs().MulRate(est.CombinedRate)
	if amount.IsNegative() {
		est.TaxSavedFromLoss = tax
	} else {
		est.TaxOwedOnGain = tax
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s × (%s federal", amount.Abs(), est.FederalRate.Format(1))
	if est.StateRate.IsPositive() {
		fmt.Fprintf(&b, " + %s %s", est.StateRate.Format(2), strings.ToUpper(profile.State))
	}
	if est.NIITRate.IsPositive() {
		fmt.Fprintf(&b, " + %s NIIT", est.NIITRate.Format(1))
	}
	fmt.Fprintf(&b, ") = %s", tax)
	est.Breakdown = b.String()
	return est, nil
}

// TaxImpact is the tax effect of a whole sale.
type TaxImpact struct {
	TaxOnGains           Money `json:"taxOnGains"`
	TaxSavingsFromLosses Money `json:"taxSavingsFromLosses"`
	// NetTaxImpact is TaxOnGains minus TaxSavingsFromLosses, negative when the sale saves tax.
	NetTaxImpact Money `json:"netTaxImpact"`
}

// SaleImpact estimates the tax of a sale from its short and long-term totals,
// wash-sale disallowances already removed.
func (e Estimator) SaleImpact(res SaleResult, profile TaxProfile) (TaxImpact, error) {
	var impact TaxImpact
	for _, part := range []struct {
		amount Money
		period HoldingPeriod
	}{
		{res.ShortTermGainLoss, ShortTerm},
		{res.LongTermGainLoss, LongTerm},
	} {
		if part.amount.IsZero() {
			continue
		}
		est, err := e.Estimate(part.amount, part.period, profile)
		if err != nil {
			return TaxImpact{}, err
		}
		impact.TaxOnGains = impact.TaxOnGains.Add(est.TaxOwedOnGain)
		impact.TaxSavingsFromLosses = impact.TaxSavingsFromLosses.Add(est.TaxSavedFromLoss)
	}
	impact.NetTaxImpact = impact.TaxOnGains.Sub(impact.TaxSavingsFromLosses)
	return impact, nil
}

// DescribeTaxSituation summarizes the marginal rates of a profile in one line.
func (e Estimator) DescribeTaxSituation(profile TaxProfile) (string, error) {
	rates, err := e.Rates.Rates(profile)
	if err != nil {
		return "", fmt.Errorf("cannot get tax rates: %w", err)
	}
	parts := []string{fmt.Sprintf("%s federal bracket", rates.Ordinary.Format(0))}
	if rates.StateOrdinary.IsPositive() {
		parts = append(parts, fmt.Sprintf("%s %s state tax", rates.StateOrdinary.Format(1), strings.ToUpper(profile.State)))
	} else {
		parts = append(parts, fmt.Sprintf("no %s state income tax", strings.ToUpper(profile.State)))
	}
	if rates.NIIT.IsPositive() {
		parts = append(parts, fmt.Sprintf("%s NIIT", rates.NIIT.Format(1)))
	}
	parts = append(parts, fmt.Sprintf("%s long-term capital gains rate", rates.LongTerm.Format(0)))
	return strings.Join(parts, ", "), nil
}
