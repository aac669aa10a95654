// Package api exposes the on-chain snapshot, price and history over HTTP
// and pushes snapshot transitions to websocket clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/axiomhq/hyperloglog"

	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/errclass"
	"jpyc-onchain-lab/internal/observability"
	"jpyc-onchain-lab/internal/onchain"
	"jpyc-onchain-lab/internal/ratelimit"
	"jpyc-onchain-lab/internal/reporting"
	"jpyc-onchain-lab/internal/storage"
)

const (
	DefaultHistoryWindow = 24 * time.Hour
	shutdownTimeout      = 10 * time.Second
	refreshKey           = "refresh"
)

// Snapshots is the read/refresh surface of *onchain.Service.
type Snapshots interface {
	Snapshot() onchain.View
	Refresh(ctx context.Context) (onchain.View, error)
	Subscribe() (<-chan onchain.View, func())
	Errors() []*errclass.AppError
}

// Prices is implemented by *coingecko.Service.
type Prices interface {
	Price(ctx context.Context) (domain.PriceData, error)
}

var _ Snapshots = (*onchain.Service)(nil)

// Options for creating Server.
type Options struct {
	// Required
	Snapshots Snapshots

	// Optional
	Prices         Prices
	History        storage.SnapshotHistoryStore
	RefreshLimiter *ratelimit.Limiter
	Upstream       *ratelimit.Limiter
	Recorder       *observability.Recorder
	// DurableEnabled is polled on each /status request; the cache tier can
	// turn itself off at runtime.
	DurableEnabled func() bool
	Logger         *log.Logger
	Now            func() time.Time
}

// Server serves the HTTP API.
type Server struct {
	snapshots      Snapshots
	prices         Prices
	history        storage.SnapshotHistoryStore
	refreshLimiter *ratelimit.Limiter
	upstream       *ratelimit.Limiter
	recorder       *observability.Recorder
	durableEnabled func() bool
	logger         *log.Logger
	now            func() time.Time
	started        time.Time
	hub            *Hub

	mu       sync.Mutex
	visitors *hyperloglog.Sketch
}

// New creates a Server. Call Run, or mount Handler and run the Hub.
func New(opts Options) *Server {
	s := &Server{
		snapshots:      opts.Snapshots,
		prices:         opts.Prices,
		history:        opts.History,
		refreshLimiter: opts.RefreshLimiter,
		upstream:       opts.Upstream,
		recorder:       opts.Recorder,
		durableEnabled: opts.DurableEnabled,
		logger:         opts.Logger,
		now:            opts.Now,
		visitors:       hyperloglog.New14(),
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.started = s.now()
	s.hub = NewHub(opts.Snapshots, s.logger)
	return s
}

// Hub returns the websocket hub serving /ws.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("GET /api/onchain", s.handleOnchain)
	mux.HandleFunc("POST /api/onchain/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/charts", s.handleCharts)
	mux.HandleFunc("GET /api/price", s.handlePrice)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/errors", s.handleErrors)
	mux.HandleFunc("GET /api/report", s.handleReport)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)

	return s.countVisitors(mux)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Starting HTTP server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// countVisitors feeds every client address into the unique-client sketch.
func (s *Server) countVisitors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		s.mu.Lock()
		s.visitors.Insert([]byte(ip))
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// UniqueClients estimates the number of distinct client addresses seen.
func (s *Server) UniqueClients() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visitors.Estimate()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status         string                         `json:"status"`
	Uptime         string                         `json:"uptime"`
	Started        time.Time                      `json:"started"`
	State          string                         `json:"state"`
	LastSuccess    *time.Time                     `json:"lastSuccess,omitempty"`
	LastError      string                         `json:"lastError,omitempty"`
	DurableEnabled bool                           `json:"durableEnabled"`
	UniqueClients  uint64                         `json:"uniqueClients"`
	WSClients      int                            `json:"wsClients"`
	Upstreams      map[string]ratelimit.Stats     `json:"upstreams,omitempty"`
	Operations     []observability.OperationStats `json:"operations,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := s.snapshots.Snapshot()

	resp := StatusResponse{
		Status:         "running",
		Uptime:         s.now().Sub(s.started).Round(time.Second).String(),
		Started:        s.started,
		State:          string(view.State),
		LastSuccess:    timePtr(view.LastSuccess),
		LastError:      view.LastError,
		DurableEnabled: s.durableEnabled != nil && s.durableEnabled(),
		UniqueClients:  s.UniqueClients(),
		WSClients:      s.hub.ClientCount(),
	}
	if s.upstream != nil {
		resp.Upstreams = make(map[string]ratelimit.Stats)
		for _, key := range s.upstream.Keys() {
			resp.Upstreams[key] = s.upstream.Stats(key)
		}
	}
	if s.recorder != nil {
		resp.Operations = s.recorder.AllStats()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOnchain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toViewJSON(s.snapshots.Snapshot()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refreshLimiter != nil {
		if res := s.refreshLimiter.TryAcquire(refreshKey); !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "too many refresh requests")
			return
		}
	}

	view, err := s.snapshots.Refresh(r.Context())
	status := http.StatusOK
	if err != nil && view.State == onchain.StateError {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, toViewJSON(view))
}

func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toChartsJSON(s.snapshots.Snapshot().Data.Holders))
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeError(w, http.StatusServiceUnavailable, "price source not configured")
		return
	}
	p, err := s.prices.Price(r.Context())
	if err != nil {
		s.logger.Printf("price fetch failed: %v", err)
		writeError(w, http.StatusBadGateway, errclass.UserMessage(errclass.Categorize(err)))
		return
	}
	writeJSON(w, http.StatusOK, toPriceJSON(p))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}

	end := s.now().UnixMilli()
	start := end - DefaultHistoryWindow.Milliseconds()
	q := r.URL.Query()
	var err error
	if v := q.Get("to"); v != "" {
		if end, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to")
			return
		}
		if q.Get("from") == "" {
			start = end - DefaultHistoryWindow.Milliseconds()
		}
	}
	if v := q.Get("from"); v != "" {
		if start, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
	}
	if start > end {
		writeError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	snaps, err := s.history.GetByTimeRange(r.Context(), start, end)
	if err != nil {
		s.logger.Printf("history query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, toHistoryJSON(snaps))
}

// handleReport renders the current snapshot with the history trend.
// Market data is included when available.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	view := s.snapshots.Snapshot()

	var price *domain.PriceData
	if s.prices != nil {
		if p, err := s.prices.Price(r.Context()); err == nil {
			price = &p
		}
	}

	report, err := reporting.NewGenerator(s.history).WithClock(s.now).Generate(r.Context(), &view.Data, price)
	if errors.Is(err, reporting.ErrNoState) {
		writeError(w, http.StatusServiceUnavailable, "no data yet")
		return
	}
	if err != nil {
		s.logger.Printf("report generation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "report generation failed")
		return
	}

	var body, contentType string
	switch format := r.URL.Query().Get("format"); format {
	case "", "markdown":
		body, contentType = reporting.RenderMarkdown(report), "text/markdown; charset=utf-8"
	case "holders-csv":
		body, err = reporting.RenderHoldersCSV(report)
		contentType = "text/csv; charset=utf-8"
	case "distribution-csv":
		body, err = reporting.RenderDistributionCSV(report)
		contentType = "text/csv; charset=utf-8"
	default:
		writeError(w, http.StatusBadRequest, "unknown format")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "report rendering failed")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	entries := s.snapshots.Errors()
	if entries == nil {
		entries = []*errclass.AppError{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
