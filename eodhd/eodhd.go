// Package eodhd gets stock prices from the EODHD API (https://eodhd.com).
package eodhd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/etnz/taxlot"
	"github.com/etnz/taxlot/date"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultBaseURL is the address of the EODHD API.
const DefaultBaseURL = "https://eodhd.com"

// Client is a taxlot.PriceLookup returning the latest price of US listed symbols.
type Client struct {
	apiKey   string
	baseURL  string
	exchange string
	http     *http.Client
	log      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the address of the API, for tests.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithHTTPClient sets the http client used for requests.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithExchange sets the EODHD exchange code appended to symbols, "US" by default.
func WithExchange(code string) Option { return func(c *Client) { c.exchange = code } }

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log.With().Str("component", "eodhd").Logger() }
}

// WithDailyCache keeps the responses in dir until the end of the day, so
// that repeated runs query each symbol at most once a day.
func WithDailyCache(dir string) Option {
	return func(c *Client) {
		if dir == "" {
			dir = os.TempDir()
		}
		base := c.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		h := *c.http
		h.Transport = &diskCache{base: base, dir: dir, today: date.Today, log: c.log}
		c.http = &h
	}
}

// New returns a client authenticated with apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:   apiKey,
		baseURL:  DefaultBaseURL,
		exchange: "US",
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Price returns the last close of symbol.
//
// Unknown symbols and symbols without a quote return an error matching
// taxlot.ErrPriceUnavailable.
func (c *Client) Price(ctx context.Context, symbol string) (taxlot.Money, error) {
	symbol = taxlot.NormalizeSymbol(symbol)
	if c.apiKey == "" {
		return taxlot.Money{}, fmt.Errorf("%w: %s: no EODHD api key", taxlot.ErrPriceUnavailable, symbol)
	}
	// https://eodhd.com/api/real-time/AAPL.US?api_token=demo&fmt=json
	// {"code":"AAPL.US","timestamp":1718395200,"gmtoffset":0,"open":213.85,
	//  "high":215.17,"low":211.3,"close":212.49,"volume":70122748,
	//  "previousClose":214.24,"change":-1.75,"change_p":-0.8168}
	// close is "NA" when the exchange has no quote.
	addr := fmt.Sprintf("%s/api/real-time/%s.%s?%s", c.baseURL, url.PathEscape(symbol), c.exchange, url.Values{
		"api_token": {c.apiKey},
		"fmt":       {"json"},
	}.Encode())

	var jobj any
	err := jwget(ctx, c.http, addr, &jobj)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return taxlot.Money{}, fmt.Errorf("%w: %s: unknown symbol", taxlot.ErrPriceUnavailable, symbol)
	}
	if err != nil {
		return taxlot.Money{}, fmt.Errorf("cannot get price of %s: %w", symbol, err)
	}

	jval, err := jsonpath.Get("$.close", jobj)
	if err != nil {
		return taxlot.Money{}, fmt.Errorf("%w: %s: %v", taxlot.ErrPriceUnavailable, symbol, err)
	}
	// jsonpath may wrap a single answer in a list.
	if jlist, ok := jval.([]any); ok && len(jlist) > 0 {
		jval = jlist[0]
	}
	price, err := parsePrice(jval)
	if err != nil {
		return taxlot.Money{}, fmt.Errorf("%w: %s: %v", taxlot.ErrPriceUnavailable, symbol, err)
	}
	c.log.Debug().Str("symbol", symbol).Str("price", price.String()).Msg("price")
	return price, nil
}

func parsePrice(v any) (taxlot.Money, error) {
	var d decimal.Decimal
	switch v := v.(type) {
	case json.Number:
		var err error
		if d, err = decimal.NewFromString(v.String()); err != nil {
			return taxlot.Money{}, err
		}
	case float64:
		d = decimal.NewFromFloat(v)
	default:
		return taxlot.Money{}, fmt.Errorf("no close price, got %v", v)
	}
	if !d.IsPositive() {
		return taxlot.Money{}, fmt.Errorf("invalid close price %s", d)
	}
	return taxlot.USD(d), nil
}

type statusError struct {
	code   int
	status string
	path   string
}

func (e *statusError) Error() string { return fmt.Sprintf("cannot http GET %s: %s", e.path, e.status) }

// jwget performs an HTTP GET request to addr and decodes the JSON response
// into data. Numbers are decoded as json.Number to keep their precision.
func jwget(ctx context.Context, client *http.Client, addr string, data any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, status: resp.Status, path: req.URL.Host + req.URL.Path}
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return err
	}
	dec := json.NewDecoder(&buf)
	dec.UseNumber()
	return dec.Decode(data)
}
