package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/errclass"
	"jpyc-onchain-lab/internal/onchain"
	"jpyc-onchain-lab/internal/ratelimit"
	"jpyc-onchain-lab/internal/storage/memory"
)

type stubFetcher struct {
	mu    sync.Mutex
	total int64
	err   error
}

func (f *stubFetcher) set(total int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total, f.err = total, err
}

func (f *stubFetcher) Fetch(ctx context.Context) (*domain.OnChainState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	total := big.NewInt(f.total)
	return &domain.OnChainState{
		TotalSupplyRaw:    total,
		CirculatingSupply: total,
		BlacklistedSupply: new(big.Int),
		Decimals:          18,
		Holders: []domain.HolderSnapshot{
			{Address: "0x1", Chain: domain.ChainEthereum, BalanceRaw: big.NewInt(3), Rank: 1},
			{Address: "0x2", Chain: domain.ChainPolygon, BalanceRaw: big.NewInt(1), Rank: 2},
		},
		Distribution: []domain.ChainShare{{Chain: domain.ChainEthereum, SupplyRaw: total}},
		FetchedAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

type stubPrices struct {
	data domain.PriceData
	err  error
}

func (p stubPrices) Price(ctx context.Context) (domain.PriceData, error) { return p.data, p.err }

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestServer(t *testing.T, f *stubFetcher, opts Options) (*Server, *onchain.Service) {
	t.Helper()
	svc := onchain.NewService(onchain.Options{
		Fetcher:    f,
		Logger:     quiet(),
		Classifier: errclass.New(errclass.WithLogger(quiet())),
	})
	opts.Snapshots = svc
	opts.Logger = quiet()
	return New(opts), svc
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestOnchain_BigIntsAsStrings(t *testing.T) {
	f := &stubFetcher{}
	f.set(123456789012345678, nil)
	s, svc := newTestServer(t, f, Options{})
	require.NoError(t, svc.Start(context.Background()))

	rec := get(t, s.Handler(), "/api/onchain")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "fresh", body["state"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "123456789012345678", data["totalSupplyRaw"])
	assert.Equal(t, "#627EEA", data["distribution"].([]any)[0].(map[string]any)["color"])
	assert.Equal(t, float64(2), data["holdersCount"])
}

func TestRefresh_RateLimited(t *testing.T) {
	f := &stubFetcher{}
	f.set(1, nil)
	limiter := ratelimit.New(ratelimit.Config{MaxRequests: 1, Window: time.Hour})
	s, _ := newTestServer(t, f, Options{RefreshLimiter: limiter})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/onchain/refresh", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/onchain/refresh", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRefresh_FailureWithoutDataIsBadGateway(t *testing.T) {
	f := &stubFetcher{}
	f.set(0, errors.New("connection refused"))
	s, _ := newTestServer(t, f, Options{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/onchain/refresh", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"error"`)

	errs := get(t, s.Handler(), "/api/errors")
	assert.Equal(t, http.StatusOK, errs.Code)
	assert.Contains(t, errs.Body.String(), `"type":"SYSTEM_ERROR"`)
}

func TestRefresh_RejectsGet(t *testing.T) {
	s, _ := newTestServer(t, &stubFetcher{}, Options{})
	rec := get(t, s.Handler(), "/api/onchain/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCharts(t *testing.T) {
	f := &stubFetcher{}
	f.set(4, nil)
	s, svc := newTestServer(t, f, Options{})
	require.NoError(t, svc.Start(context.Background()))

	var body chartsJSON
	require.NoError(t, json.Unmarshal(get(t, s.Handler(), "/api/charts").Body.Bytes(), &body))
	require.Len(t, body.Supply, 2)
	assert.Equal(t, "Ethereum", body.Supply[0].Name)
	assert.Equal(t, 75, body.Supply[0].Percentage)
	assert.Equal(t, 50, body.Holders[0].Percentage)
}

func TestPrice(t *testing.T) {
	f := &stubFetcher{}

	s, _ := newTestServer(t, f, Options{})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/api/price").Code)

	s, _ = newTestServer(t, f, Options{Prices: stubPrices{data: domain.PriceData{USD: 0.0066, MarketCapUSD: 2.5e9, Volume24hUSD: 1.5e6, Change24hPct: 1.234}}})
	rec := get(t, s.Handler(), "/api/price")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"price":"$0.00660"`)
	assert.Contains(t, rec.Body.String(), `"change":"+1.23%"`)

	s, _ = newTestServer(t, f, Options{Prices: stubPrices{err: errors.New("network down")}})
	assert.Equal(t, http.StatusBadGateway, get(t, s.Handler(), "/api/price").Code)
}

func TestHistory(t *testing.T) {
	history := memory.NewSnapshotHistoryStore()
	ctx := context.Background()
	for _, ts := range []int64{1000, 2000, 3000} {
		require.NoError(t, history.Insert(ctx, &domain.SupplySnapshot{
			Timestamp:         ts,
			TotalSupply:       big.NewInt(ts),
			CirculatingSupply: big.NewInt(ts),
			BlacklistedSupply: new(big.Int),
		}))
	}

	now := time.UnixMilli(10_000)
	s, _ := newTestServer(t, &stubFetcher{}, Options{History: history, Now: func() time.Time { return now }})
	h := s.Handler()

	var body []historyJSON
	rec := get(t, h, "/api/history?from=1500&to=3000")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "2000", body[0].TotalSupply)

	rec = get(t, h, "/api/history")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body, 3)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/history?from=abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/history?from=5&to=1").Code)

	noHistory, _ := newTestServer(t, &stubFetcher{}, Options{})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, noHistory.Handler(), "/api/history").Code)
}

func TestStatus_CountsUniqueClients(t *testing.T) {
	upstream := ratelimit.New(ratelimit.DefaultConfig())
	upstream.TryAcquire("api.coingecko.com")
	s, _ := newTestServer(t, &stubFetcher{}, Options{Upstream: upstream, DurableEnabled: func() bool { return true }})
	h := s.Handler()

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.1"} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Forwarded-For", ip+", 172.16.0.1")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	var resp StatusResponse
	rec := get(t, h, "/status")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, "loading", resp.State)
	assert.True(t, resp.DurableEnabled)
	assert.Equal(t, uint64(3), resp.UniqueClients)
	assert.Equal(t, 1, resp.Upstreams["api.coingecko.com"].Current)
}

func TestStatus_ReflectsDurableTierChanges(t *testing.T) {
	var durable atomic.Bool
	durable.Store(true)
	s, _ := newTestServer(t, &stubFetcher{}, Options{DurableEnabled: durable.Load})
	h := s.Handler()

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(get(t, h, "/status").Body.Bytes(), &resp))
	assert.True(t, resp.DurableEnabled)

	durable.Store(false)
	require.NoError(t, json.Unmarshal(get(t, h, "/status").Body.Bytes(), &resp))
	assert.False(t, resp.DurableEnabled)

	unset, _ := newTestServer(t, &stubFetcher{}, Options{})
	require.NoError(t, json.Unmarshal(get(t, unset.Handler(), "/status").Body.Bytes(), &resp))
	assert.False(t, resp.DurableEnabled)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &stubFetcher{}, Options{})
	rec := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestWebSocket_PushesTransitions(t *testing.T) {
	f := &stubFetcher{}
	f.set(7, nil)
	s, svc := newTestServer(t, f, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub().Run(ctx)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var first viewJSON
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "loading", first.State)
	require.Eventually(t, func() bool { return s.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Start(context.Background()))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var v viewJSON
		require.NoError(t, conn.ReadJSON(&v))
		if v.State == "fresh" {
			assert.Equal(t, "7", v.Data.TotalSupplyRaw)
			break
		}
	}
}

func TestReport(t *testing.T) {
	f := &stubFetcher{}
	f.set(4, nil)
	s, svc := newTestServer(t, f, Options{History: memory.NewSnapshotHistoryStore()})
	h := s.Handler()

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/report").Code)

	require.NoError(t, svc.Start(context.Background()))

	rec := get(t, h, "/api/report")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rec.Body.String(), "## Tracked Holders")

	rec = get(t, h, "/api/report?format=holders-csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "rank,chain,label,address,quantity,percentage\n"))

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/report?format=pdf").Code)
}
