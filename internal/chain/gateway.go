// Package chain provides read-only ERC-20 contract calls over JSON-RPC
// eth_call, plus token amount formatting.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/observability"
	"jpyc-onchain-lab/internal/ratelimit"
)

// DefaultTimeout bounds a single eth_call.
const DefaultTimeout = 10 * time.Second

// Function selectors.
var (
	SelectorTotalSupply = Selector("totalSupply()")
	SelectorDecimals    = Selector("decimals()")
	SelectorBalanceOf   = Selector("balanceOf(address)")
)

// ErrChainNotConfigured is returned for a chain without an RPC endpoint.
var ErrChainNotConfigured = errors.New("rpc endpoint not configured")

// ErrInvalidAddress is returned when a holder address is not 20-byte hex.
var ErrInvalidAddress = errors.New("invalid address")

// Selector returns the 4-byte function selector of signature as 0x-hex.
func Selector(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return "0x" + hex.EncodeToString(h.Sum(nil)[:4])
}

// EncodeBalanceOf builds balanceOf calldata with address left-padded to 32 bytes.
func EncodeBalanceOf(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	addr := common.HexToAddress(address)
	return SelectorBalanceOf + hex.EncodeToString(common.LeftPadBytes(addr.Bytes(), 32)), nil
}

// Gateway performs eth_call against one endpoint per chain.
type Gateway struct {
	endpoints map[domain.Chain]string
	client    *http.Client
	limiter   *ratelimit.Limiter
	logger    *log.Logger
	requestID atomic.Uint64
}

// Option configures Gateway.
type Option func(*Gateway)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

// WithEndpoint sets or overrides the endpoint for chain.
func WithEndpoint(c domain.Chain, url string) Option {
	return func(g *Gateway) {
		g.endpoints[c] = url
	}
}

// WithLimiter makes every call wait for admission keyed by chain name.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(g *Gateway) {
		g.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// NewGateway creates a Gateway for the given endpoints.
func NewGateway(endpoints map[domain.Chain]string, opts ...Option) *Gateway {
	g := &Gateway{
		endpoints: make(map[domain.Chain]string, len(endpoints)),
		client:    &http.Client{Timeout: DefaultTimeout},
		logger:    log.Default(),
	}
	for c, url := range endpoints {
		if url != "" {
			g.endpoints[c] = url
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Configured reports whether chain has an endpoint.
func (g *Gateway) Configured(c domain.Chain) bool {
	_, ok := g.endpoints[c]
	return ok
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	Result *string   `json:"result"`
	Error  *RPCError `json:"error,omitempty"`
}

type callObject struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// Call performs eth_call of data against contract at the latest block and
// returns the 0x-prefixed result.
func (g *Gateway) Call(ctx context.Context, c domain.Chain, contract, data string) (string, error) {
	endpoint, ok := g.endpoints[c]
	if !ok {
		return "", fmt.Errorf("%s: %w", c, ErrChainNotConfigured)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, c.String()); err != nil {
			return "", err
		}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      g.requestID.Add(1),
		Method:  "eth_call",
		Params:  []interface{}{callObject{To: contract, Data: data}, "latest"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	result, err := g.post(ctx, c, endpoint, body)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RecordUpstream("rpc", c.String(), outcome, time.Since(start).Seconds())
	return result, err
}

func (g *Gateway) post(ctx context.Context, c domain.Chain, endpoint string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", &CallError{Chain: c, Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &CallError{Chain: c, Kind: KindNetwork, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &CallError{
			Chain:      c,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", http.StatusText(resp.StatusCode)),
		}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return "", &CallError{Chain: c, Kind: KindDecode, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if rpcResp.Error != nil {
		return "", &CallError{Chain: c, Kind: KindRPC, Err: rpcResp.Error}
	}

	if rpcResp.Result == nil {
		return "0x0", nil
	}
	return normalizeHex(*rpcResp.Result), nil
}

// TotalSupply returns the raw total supply of contract on chain.
func (g *Gateway) TotalSupply(ctx context.Context, c domain.Chain, contract string) (*big.Int, error) {
	raw, err := g.Call(ctx, c, contract, SelectorTotalSupply)
	if err != nil {
		return nil, err
	}
	return HexToBigInt(raw)
}

// Decimals returns the token decimals of contract on chain.
func (g *Gateway) Decimals(ctx context.Context, c domain.Chain, contract string) (uint8, error) {
	raw, err := g.Call(ctx, c, contract, SelectorDecimals)
	if err != nil {
		return 0, err
	}
	n, err := HexToBigInt(raw)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() || n.Uint64() > 255 {
		return 0, fmt.Errorf("%s: decimals out of range: %s", c, n)
	}
	return uint8(n.Uint64()), nil
}

// BalanceOf returns the raw balance of holder in contract on chain.
func (g *Gateway) BalanceOf(ctx context.Context, c domain.Chain, contract, holder string) (*big.Int, error) {
	data, err := EncodeBalanceOf(holder)
	if err != nil {
		return nil, err
	}
	raw, err := g.Call(ctx, c, contract, data)
	if err != nil {
		return nil, err
	}
	return HexToBigInt(raw)
}

func normalizeHex(s string) string {
	if s == "" {
		return "0x0"
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}

// HexToBigInt parses a hex quantity, with or without 0x prefix. Empty and
// "0x" decode to zero.
func HexToBigInt(s string) (*big.Int, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(normalizeHex(s), "0x"), "0X")
	if digits == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return n, nil
}
