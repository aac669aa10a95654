// Package explorer is a client for Etherscan-compatible block explorer APIs.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/observability"
)

// DefaultTimeout bounds a single explorer request.
const DefaultTimeout = 10 * time.Second

// ErrNoAPIKey is returned when the client has no API key.
var ErrNoAPIKey = errors.New("explorer api key not configured")

// Config describes one chain's explorer endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	ChainID string // Etherscan v2 chainid parameter, empty for single-chain APIs
}

// DefaultConfigs returns explorer endpoints per chain with the given keys.
func DefaultConfigs(keys map[domain.Chain]string) map[domain.Chain]Config {
	return map[domain.Chain]Config{
		domain.ChainEthereum:  {BaseURL: "https://api.etherscan.io/v2/api", ChainID: "1", APIKey: keys[domain.ChainEthereum]},
		domain.ChainPolygon:   {BaseURL: "https://api.etherscan.io/v2/api", ChainID: "137", APIKey: keys[domain.ChainPolygon]},
		domain.ChainAvalanche: {BaseURL: "https://api.snowtrace.io/api", ChainID: "43114", APIKey: keys[domain.ChainAvalanche]},
	}
}

// APIError is a well-formed response with status other than "1".
type APIError struct {
	Message string
	Result  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("explorer api error: %s (%s)", e.Message, e.Result)
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("explorer unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Client talks to one chain's explorer.
type Client struct {
	chain  domain.Chain
	cfg    Config
	client *http.Client
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.client.Timeout = d
	}
}

// New creates a Client for chain.
func New(chain domain.Chain, cfg Config, opts ...Option) *Client {
	c := &Client{
		chain:  chain,
		cfg:    cfg,
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasKey reports whether the client can make requests.
func (c *Client) HasKey() bool {
	return c != nil && c.cfg.APIKey != ""
}

// Chain returns the chain this client serves.
func (c *Client) Chain() domain.Chain { return c.chain }

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) get(ctx context.Context, params url.Values) (string, error) {
	if !c.HasKey() {
		return "", fmt.Errorf("%s: %w", c.chain, ErrNoAPIKey)
	}

	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if c.cfg.ChainID != "" {
		q.Set("chainid", c.cfg.ChainID)
	}
	q.Set("apikey", c.cfg.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	result, err := c.do(req)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RecordUpstream("explorer", c.chain.String(), outcome, time.Since(start).Seconds())
	return result, err
}

func (c *Client) do(req *http.Request) (string, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s explorer network error: %w", c.chain, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%s explorer read response: %w", c.chain, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("%s explorer unmarshal response: %w", c.chain, err)
	}

	var result string
	if err := json.Unmarshal(env.Result, &result); err != nil {
		result = string(env.Result)
	}
	if env.Status != "1" {
		return "", &APIError{Message: env.Message, Result: result}
	}
	return result, nil
}

// TokenSupply returns the raw total supply of contract.
func (c *Client) TokenSupply(ctx context.Context, contract string) (*big.Int, error) {
	result, err := c.get(ctx, url.Values{
		"module":          {"stats"},
		"action":          {"tokensupply"},
		"contractaddress": {contract},
	})
	if err != nil {
		return nil, err
	}
	return parseAmount(result)
}

// TokenHolderCount returns the number of holders of contract.
func (c *Client) TokenHolderCount(ctx context.Context, contract string) (int64, error) {
	result, err := c.get(ctx, url.Values{
		"module":          {"token"},
		"action":          {"tokenholdercount"},
		"contractaddress": {contract},
	})
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse holder count %q: %w", result, err)
	}
	return n, nil
}

// TokenBalance returns the raw balance of address in contract.
func (c *Client) TokenBalance(ctx context.Context, contract, address string) (*big.Int, error) {
	result, err := c.get(ctx, url.Values{
		"module":          {"account"},
		"action":          {"tokenbalance"},
		"contractaddress": {contract},
		"address":         {address},
		"tag":             {"latest"},
	})
	if err != nil {
		return nil, err
	}
	return parseAmount(result)
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("parse amount %q", s)
	}
	return n, nil
}
