package taxlot

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Rate is a fraction, 0.24 for a 24% tax rate.
type Rate struct {
	value decimal.Decimal
}

// R returns a Rate from its fractional value.
func R[T float32 | float64 | int | int32 | int64 | uint | uint32 | uint64 | decimal.Decimal](value T) Rate {
	return Rate{value: newDecimal(value)}
}

func (r Rate) Add(s Rate) Rate             { return Rate{value: r.value.Add(s.value)} }
func (r Rate) Equal(s Rate) bool           { return r.value.Equal(s.value) }
func (r Rate) IsZero() bool                { return r.value.IsZero() }
func (r Rate) IsPositive() bool            { return r.value.IsPositive() }
func (r Rate) LessThan(s Rate) bool        { return r.value.LessThan(s.value) }
func (r Rate) Decimal() decimal.Decimal    { return r.value }
func (r Rate) InexactFloat64() float64     { return r.value.InexactFloat64() }
func (r Rate) Percent() decimal.Decimal    { return r.value.Shift(2) }
func (r Rate) String() string              { return r.Format(2) }
func (r Rate) MarshalJSON() ([]byte, error) { return []byte(r.value.String()), nil }

// UnmarshalJSON accepts both quoted and plain JSON numbers.
func (r *Rate) UnmarshalJSON(b []byte) error { return r.value.UnmarshalJSON(b) }

// Format prints the rate as a percentage with at most places decimals,
// trailing zeros dropped but keeping at least one: 22.0%, 5.75%, 3.8%.
func (r Rate) Format(places int32) string {
	s := r.Percent().StringFixed(places)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		if strings.HasSuffix(s, ".") {
			s += "0"
		}
	}
	return s + "%"
}
