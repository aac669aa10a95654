package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/ratelimit"
	"jpyc-onchain-lab/internal/retry"
)

const holder = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"

// rpcServer answers eth_call by calldata prefix.
func rpcServer(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "eth_call" {
			t.Errorf("expected method eth_call, got %s", req.Method)
		}
		var call callObject
		require.NoError(t, json.Unmarshal(req.Params[0], &call))
		var tag string
		require.NoError(t, json.Unmarshal(req.Params[1], &tag))
		assert.Equal(t, "latest", tag)

		result, ok := results[call.Data[:10]]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]any{"code": -32000, "message": "execution reverted"},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
}

func TestSelectors(t *testing.T) {
	assert.Equal(t, "0x18160ddd", SelectorTotalSupply)
	assert.Equal(t, "0x313ce567", SelectorDecimals)
	assert.Equal(t, "0x70a08231", SelectorBalanceOf)
}

func TestEncodeBalanceOf(t *testing.T) {
	data, err := EncodeBalanceOf(holder)
	require.NoError(t, err)
	assert.Len(t, data, 10+64)
	assert.Equal(t, "0x70a08231000000000000000000000000742d35cc6634c0532925a3b844bc454e4438f44e", data)

	_, err = EncodeBalanceOf("0x1234")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestGateway_Calls(t *testing.T) {
	supply := "0x" + strings.Repeat("0", 40) + "00000000000000000000d3c21bcecceda1000000"
	srv := rpcServer(t, map[string]string{
		SelectorTotalSupply: supply,
		SelectorDecimals:    "0x0000000000000000000000000000000000000000000000000000000000000012",
		SelectorBalanceOf:   "0x3e8",
	})
	defer srv.Close()

	g := NewGateway(map[domain.Chain]string{domain.ChainEthereum: srv.URL})
	ctx := context.Background()

	total, err := g.TotalSupply(ctx, domain.ChainEthereum, domain.JPYCAddress)
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("1000000000000000000000000", 10)
	assert.Equal(t, 0, want.Cmp(total), "got %s", total)

	decimals, err := g.Decimals(ctx, domain.ChainEthereum, domain.JPYCAddress)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), decimals)

	bal, err := g.BalanceOf(ctx, domain.ChainEthereum, domain.JPYCAddress, holder)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.Int64())
}

func TestGateway_UnconfiguredChain(t *testing.T) {
	g := NewGateway(map[domain.Chain]string{domain.ChainEthereum: "http://127.0.0.1:1"})

	_, err := g.TotalSupply(context.Background(), domain.ChainAvalanche, domain.JPYCAddress)
	require.ErrorIs(t, err, ErrChainNotConfigured)
	assert.False(t, retry.IsRetryable(err, retry.DefaultConfig()))
	assert.False(t, g.Configured(domain.ChainAvalanche))
}

func TestGateway_RPCErrorPayload(t *testing.T) {
	srv := rpcServer(t, map[string]string{})
	defer srv.Close()

	g := NewGateway(map[domain.Chain]string{domain.ChainPolygon: srv.URL})
	_, err := g.TotalSupply(context.Background(), domain.ChainPolygon, domain.JPYCAddress)

	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindRPC, ce.Kind)
	assert.Equal(t, domain.ChainPolygon, ce.Chain)
	var re *RPCError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "execution reverted", re.Message)
	assert.Contains(t, err.Error(), "Polygon")
	assert.False(t, retry.IsRetryable(err, retry.DefaultConfig()))
}

func TestGateway_StatusErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewGateway(map[domain.Chain]string{domain.ChainEthereum: srv.URL})
	_, err := g.Call(context.Background(), domain.ChainEthereum, domain.JPYCAddress, SelectorTotalSupply)

	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusServiceUnavailable, ce.HTTPStatus())
	assert.True(t, retry.IsRetryable(err, retry.DefaultConfig()))
}

func TestGateway_NetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	g := NewGateway(map[domain.Chain]string{domain.ChainEthereum: url}, WithTimeout(time.Second))
	_, err := g.Call(context.Background(), domain.ChainEthereum, domain.JPYCAddress, SelectorTotalSupply)

	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindNetwork, ce.Kind)
	assert.Contains(t, err.Error(), "Ethereum RPC network error")
	assert.True(t, retry.IsRetryable(err, retry.DefaultConfig()))
}

func TestGateway_EmptyResultIsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x"}`))
	}))
	defer srv.Close()

	g := NewGateway(map[domain.Chain]string{domain.ChainEthereum: srv.URL})
	bal, err := g.BalanceOf(context.Background(), domain.ChainEthereum, domain.JPYCAddress, holder)
	require.NoError(t, err)
	assert.Equal(t, 0, bal.Sign())
}

func TestGateway_LimiterKeyedByChain(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
	}))
	defer srv.Close()

	l := ratelimit.New(ratelimit.Config{MaxRequests: 1, Window: time.Hour})
	g := NewGateway(map[domain.Chain]string{
		domain.ChainEthereum: srv.URL,
		domain.ChainPolygon:  srv.URL,
	}, WithLimiter(l))

	_, err := g.TotalSupply(context.Background(), domain.ChainEthereum, domain.JPYCAddress)
	require.NoError(t, err)
	_, err = g.TotalSupply(context.Background(), domain.ChainPolygon, domain.JPYCAddress)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.TotalSupply(ctx, domain.ChainEthereum, domain.JPYCAddress)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHexToBigInt(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"0x", "0"},
		{"0x0", "0"},
		{"0x00000000000000000000000000000000000000000000000000000000000003e8", "1000"},
		{"ff", "255"},
	}
	for _, tt := range tests {
		n, err := HexToBigInt(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, n.String(), tt.in)
	}

	_, err := HexToBigInt("0xzz")
	assert.Error(t, err)
}
