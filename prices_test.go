package taxlot

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

// countingPrices counts the lookups made to a Quotes.
type countingPrices struct {
	quotes Quotes
	calls  int
	err    error
}

func (c *countingPrices) Price(ctx context.Context, symbol string) (Money, error) {
	c.calls++
	if c.err != nil {
		return Money{}, c.err
	}
	return c.quotes.Price(ctx, symbol)
}

func TestPriceCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	src := &countingPrices{quotes: Quotes{"XYZ": USD(12)}}
	cache := NewPriceCache(src, 5*time.Minute).WithClock(func() time.Time { return now })

	for range 3 {
		p, err := cache.Price(ctx, "xyz")
		if err != nil || !p.Equal(USD(12)) {
			t.Fatalf("Price() = %s, %v", p, err)
		}
	}
	if src.calls != 1 {
		t.Errorf("got %d lookups within the ttl, want 1", src.calls)
	}

	now = now.Add(5 * time.Minute)
	if _, err := cache.Price(ctx, "XYZ"); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Errorf("got %d lookups after the ttl, want 2", src.calls)
	}

	cache.Invalidate("XYZ")
	if _, err := cache.Price(ctx, "XYZ"); err != nil {
		t.Fatal(err)
	}
	if src.calls != 3 {
		t.Errorf("got %d lookups after Invalidate, want 3", src.calls)
	}
}

func TestPriceCache_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	src := &countingPrices{quotes: Quotes{}}
	cache := NewPriceCache(src, time.Hour)
	for range 2 {
		if _, err := cache.Price(ctx, "XYZ"); !errors.Is(err, ErrPriceUnavailable) {
			t.Fatalf("got %v, want ErrPriceUnavailable", err)
		}
	}
	if src.calls != 2 {
		t.Errorf("got %d lookups, want 2", src.calls)
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	c := Chain{Quotes{"AAA": USD(1)}, Quotes{"AAA": USD(2), "BBB": USD(3)}}
	testCases := []struct {
		symbol string
		want   Money
		err    error
	}{
		{"AAA", USD(1), nil},
		{"bbb", USD(3), nil},
		{"CCC", Money{}, ErrPriceUnavailable},
	}
	for _, tc := range testCases {
		got, err := c.Price(ctx, tc.symbol)
		if !errors.Is(err, tc.err) || !got.Equal(tc.want) {
			t.Errorf("Price(%q) = %s, %v, want %s, %v", tc.symbol, got, err, tc.want, tc.err)
		}
	}

	broken := errors.New("network down")
	if _, err := (Chain{&countingPrices{err: broken}, Quotes{"AAA": USD(1)}}).Price(ctx, "AAA"); !errors.Is(err, broken) {
		t.Errorf("got %v, want the first lookup failure", err)
	}
}

func TestFetchQuotes(t *testing.T) {
	ctx := context.Background()
	q, missing, err := FetchQuotes(ctx, Quotes{"AAA": USD(1)}, []string{"aaa", "BBB", "AAA"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(q, Quotes{"AAA": USD(1)}) || !reflect.DeepEqual(missing, []string{"BBB"}) {
		t.Errorf("FetchQuotes() = %v, %v", q, missing)
	}

	if _, _, err := FetchQuotes(ctx, &countingPrices{err: errors.New("boom")}, []string{"AAA"}); err == nil {
		t.Error("expected the lookup failure")
	}
}
