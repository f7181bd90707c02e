package taxlot

import (
	"fmt"

	"github.com/etnz/taxlot/date"
	"github.com/rs/zerolog"
)

// day parses a date for tests.
func day(s string) date.Date { return date.MustParse(s) }

// openLot returns an open purchase lot of qty shares at basis per share.
func openLot(id, account, symbol, acquired string, qty, basis float64) TaxLot {
	return NewLot{
		AccountID:     account,
		Symbol:        symbol,
		Quantity:      Q(qty),
		PricePerShare: USD(basis),
		Date:          day(acquired),
		Type:          Purchase,
		IsCovered:     true,
	}.Lot(id)
}

// buy returns a buy transaction that created lot.
func buy(id, lot, symbol, on string, qty float64) Transaction {
	return Transaction{ID: id, LotID: lot, Symbol: symbol, Type: BuyTx, Date: day(on), Quantity: Q(qty), Price: USD(1)}
}

// fixedRates is a RateTable returning the same rates for every profile.
type fixedRates Rates

func (f fixedRates) Rates(TaxProfile) (Rates, error) { return Rates(f), nil }

// testRates are the rates of the default profile in 2024.
var testRates = fixedRates{
	Ordinary:      R(0.22),
	LongTerm:      R(0.15),
	StateOrdinary: R(0.0575),
	StateLongTerm: R(0.0575),
}

// sequence returns an id generator yielding prefix-1, prefix-2...
func sequence(prefix string) func() string {
	i := 0
	return func() string {
		i++
		return fmt.Sprintf("%s-%d", prefix, i)
	}
}

var nolog = zerolog.New(nil).Level(zerolog.Disabled)
