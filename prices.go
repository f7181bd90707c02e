package taxlot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// PriceLookup returns the current market price of a symbol.
//
// Implementations return an error matching ErrPriceUnavailable when they
// have no price for the symbol.
type PriceLookup interface {
	Price(ctx context.Context, symbol string) (Money, error)
}

// Quotes is a fixed set of prices per symbol. It is a PriceLookup.
type Quotes map[string]Money

func (q Quotes) Price(_ context.Context, symbol string) (Money, error) {
	p, ok := q[NormalizeSymbol(symbol)]
	if !ok {
		return Money{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	return p, nil
}

// FetchQuotes looks up the price of every symbol.
//
// Symbols without a price are skipped and reported in missing, any other
// failure aborts.
func FetchQuotes(ctx context.Context, prices PriceLookup, symbols []string) (q Quotes, missing []string, err error) {
	q = make(Quotes, len(symbols))
	for _, s := range symbols {
		s = NormalizeSymbol(s)
		if _, done := q[s]; done {
			continue
		}
		p, err := prices.Price(ctx, s)
		switch {
		case errors.Is(err, ErrPriceUnavailable):
			missing = append(missing, s)
		case err != nil:
			return nil, nil, fmt.Errorf("cannot get price of %s: %w", s, err)
		default:
			q[s] = p
		}
	}
	return q, missing, nil
}

// Chain tries each PriceLookup in turn until one has a price.
type Chain []PriceLookup

func (c Chain) Price(ctx context.Context, symbol string) (Money, error) {
	for _, p := range c {
		m, err := p.Price(ctx, symbol)
		if errors.Is(err, ErrPriceUnavailable) {
			continue
		}
		return m, err
	}
	return Money{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
}

// PriceCache keeps the prices returned by another PriceLookup for a while.
// Only successful lookups are cached. It is safe for concurrent use.
type PriceCache struct {
	next PriceLookup
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cachedPrice
}

type cachedPrice struct {
	price   Money
	expires time.Time
}

// NewPriceCache returns a cache in front of next keeping prices for ttl.
func NewPriceCache(next PriceLookup, ttl time.Duration) *PriceCache {
	return &PriceCache{next: next, ttl: ttl, now: time.Now, entries: make(map[string]cachedPrice)}
}

// WithClock replaces the clock used to expire entries.
func (c *PriceCache) WithClock(now func() time.Time) *PriceCache {
	c.now = now
	return c
}

func (c *PriceCache) Price(ctx context.Context, symbol string) (Money, error) {
	symbol = NormalizeSymbol(symbol)
	c.mu.Lock()
	e, ok := c.entries[symbol]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return e.price, nil
	}

	p, err := c.next.Price(ctx, symbol)
	if err != nil {
		return Money{}, err
	}
	c.mu.Lock()
	c.entries[symbol] = cachedPrice{price: p, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return p, nil
}

// Invalidate drops the cached price of symbol.
func (c *PriceCache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.entries, NormalizeSymbol(symbol))
	c.mu.Unlock()
}
