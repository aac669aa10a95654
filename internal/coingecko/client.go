// Package coingecko fetches token market data from the CoinGecko simple
// price API.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/observability"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	DefaultTimeout = 10 * time.Second
)

// ErrNoData is returned when the response lacks the requested id.
var ErrNoData = errors.New("coingecko: no price data")

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("CoinGecko API error: %s", e.Status)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Client calls the price API.
type Client struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// Option configures Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type priceFields struct {
	USD          float64 `json:"usd"`
	MarketCapUSD float64 `json:"usd_market_cap"`
	Volume24hUSD float64 `json:"usd_24h_vol"`
	Change24hPct float64 `json:"usd_24h_change"`
}

// FetchPrice returns USD market data for the coin id.
func (c *Client) FetchPrice(ctx context.Context, id string) (domain.PriceData, error) {
	params := url.Values{
		"ids":                 {id},
		"vs_currencies":       {"usd"},
		"include_market_cap":  {"true"},
		"include_24hr_vol":    {"true"},
		"include_24hr_change": {"true"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+params.Encode(), nil)
	if err != nil {
		return domain.PriceData{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	data, err := c.do(req, id)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RecordUpstream("coingecko", "", outcome, time.Since(start).Seconds())
	return data, err
}

func (c *Client) do(req *http.Request, id string) (domain.PriceData, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return domain.PriceData{}, fmt.Errorf("coingecko network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.PriceData{}, fmt.Errorf("coingecko read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.PriceData{}, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var payload map[string]priceFields
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.PriceData{}, fmt.Errorf("coingecko unmarshal response: %w", err)
	}
	fields, ok := payload[id]
	if !ok {
		return domain.PriceData{}, fmt.Errorf("%w for %q", ErrNoData, id)
	}
	return domain.PriceData{
		USD:          fields.USD,
		MarketCapUSD: fields.MarketCapUSD,
		Volume24hUSD: fields.Volume24hUSD,
		Change24hPct: fields.Change24hPct,
		FetchedAt:    c.now().UTC(),
	}, nil
}
