// Package moralis reads holder counts from the Moralis holder-index API.
package moralis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jpyc-onchain-lab/internal/observability"
)

const (
	DefaultBaseURL = "https://deep-index.moralis.io/api/v2.2"
	DefaultTimeout = 10 * time.Second
)

// ErrNoAPIKey is returned when the client has no API key.
var ErrNoAPIKey = errors.New("moralis api key not configured")

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("moralis unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("moralis unexpected status %d - %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Summary is a chain's holder count and its 24h delta, each optional.
type Summary struct {
	Count  *int64
	Change *int64
}

// Client calls the holder endpoint.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
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

// New creates a Client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasKey reports whether the client can make requests.
func (c *Client) HasKey() bool {
	return c != nil && c.apiKey != ""
}

// HolderSummary fetches the holder count of contract on chainID.
func (c *Client) HolderSummary(ctx context.Context, chainID, contract string) (Summary, error) {
	if !c.HasKey() {
		return Summary{}, ErrNoAPIKey
	}

	params := url.Values{
		"chain":   {chainID},
		"limit":   {"1"},
		"include": {"total_change_24h"},
	}
	u := fmt.Sprintf("%s/erc20/%s/holders?%s", c.baseURL, contract, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	start := time.Now()
	doc, err := c.do(req)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RecordUpstream("moralis", chainID, outcome, time.Since(start).Seconds())
	if err != nil {
		return Summary{}, err
	}
	return Extract(doc), nil
}

func (c *Client) do(req *http.Request) (map[string]any, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("moralis network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("moralis read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var errBody struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &errBody) == nil {
			se.Message = errBody.Message
		}
		return nil, se
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("moralis unmarshal response: %w", err)
	}
	return doc, nil
}

// Field paths tried in order. The API has reported the same values under
// several names across versions.
var (
	TotalPaths = [][]string{
		{"total"},
		{"page_total"},
		{"pagination", "total"},
		{"summary", "total"},
		{"summary", "total_holders"},
	}
	ChangePaths = [][]string{
		{"total_change_24h"},
		{"summary", "total_change_24h"},
		{"summary", "total_holders_change_24h"},
	}
	PreviousTotalPaths = [][]string{
		{"total_24h"},
		{"summary", "total_24h"},
		{"summary", "total_holders_24h"},
	}
)

// Extract reads the holder count and 24h change from a decoded response.
// When no change field exists it is derived from the previous total.
func Extract(doc map[string]any) Summary {
	var s Summary
	total, hasTotal := FirstNumber(doc, TotalPaths)
	if hasTotal {
		s.Count = rounded(total)
	}
	if change, ok := FirstNumber(doc, ChangePaths); ok {
		s.Change = rounded(change)
	} else if prev, ok := FirstNumber(doc, PreviousTotalPaths); ok && hasTotal {
		s.Change = rounded(total - prev)
	}
	return s
}

// FirstNumber returns the first path that resolves to a finite number.
func FirstNumber(doc map[string]any, paths [][]string) (float64, bool) {
	for _, path := range paths {
		if v, ok := lookup(doc, path); ok {
			if n, ok := parseNumber(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func lookup(doc map[string]any, path []string) (any, bool) {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func parseNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func rounded(f float64) *int64 {
	n := int64(math.Round(f))
	return &n
}
