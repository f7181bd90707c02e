package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/etnz/taxlot"
)

// quotesFlag collects repeated -price SYMBOL=PRICE flags.
type quotesFlag taxlot.Quotes

func (q quotesFlag) quotes() taxlot.Quotes { return taxlot.Quotes(q) }

func (q quotesFlag) String() string {
	var s []string
	for sym, p := range q {
		s = append(s, sym+"="+p.Decimal().String())
	}
	sort.Strings(s)
	return strings.Join(s, ",")
}

func (q quotesFlag) Set(v string) error {
	sym, price, ok := strings.Cut(v, "=")
	sym = taxlot.NormalizeSymbol(sym)
	if !ok || sym == "" {
		return fmt.Errorf("invalid price %q, want SYMBOL=PRICE", v)
	}
	p, err := taxlot.ParseMoney(price)
	if err != nil {
		return fmt.Errorf("invalid price for %s: %w", sym, err)
	}
	if !p.IsPositive() {
		return fmt.Errorf("invalid price for %s: must be positive, got %s", sym, price)
	}
	q[sym] = p
	return nil
}
