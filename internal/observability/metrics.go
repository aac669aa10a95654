// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Upstream metrics
	UpstreamRequests    *prometheus.CounterVec
	UpstreamLatency     *prometheus.HistogramVec
	RetryAttempts       *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec

	// Cache metrics
	CacheHits           *prometheus.CounterVec
	CacheMisses         prometheus.Counter
	CacheEvictions      prometheus.Counter
	CacheDurableEnabled prometheus.Gauge

	// Fetch cycle metrics
	FetchCycles     *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	ChainsDegraded  *prometheus.CounterVec
	ServiceState    *prometheus.GaugeVec
	ErrorsByType    *prometheus.CounterVec
	CoalescedWaits  prometheus.Counter
	HistoryFailures prometheus.Counter

	// Supply gauges (whole tokens)
	TotalSupply       prometheus.Gauge
	CirculatingSupply prometheus.Gauge
	BlacklistedSupply prometheus.Gauge
	HolderCount       prometheus.Gauge

	// Server metrics
	WSClients prometheus.Gauge

	// Health metrics
	LastSuccessfulFetch prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "jpyc_onchain"
	}

	return &Metrics{
		// Upstream metrics
		UpstreamRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of upstream requests by source, chain and outcome",
		}, []string{"source", "chain", "outcome"}),
		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_latency_seconds",
			Help:      "Upstream request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source", "chain"}),
		RetryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retry_attempts_total",
			Help:      "Total number of retried attempts by operation",
		}, []string{"operation"}),
		RateLimitRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total number of rate limiter rejections by key",
		}, []string{"key"}),

		// Cache metrics
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits by tier",
		}, []string{"tier"}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		}),
		CacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of LRU evictions",
		}),
		CacheDurableEnabled: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "durable_enabled",
			Help:      "1 if the durable cache tier is in use",
		}),

		// Fetch cycle metrics
		FetchCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "cycles_total",
			Help:      "Total number of aggregation cycles by status",
		}, []string{"status"}),
		FetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Aggregation cycle duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		ChainsDegraded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "chains_degraded_total",
			Help:      "Total number of per-chain degradations by stage",
		}, []string{"chain", "stage"}),
		ServiceState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "state",
			Help:      "1 for the current display state",
		}, []string{"state"}),
		ErrorsByType: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "errors_total",
			Help:      "Total number of classified errors by type",
		}, []string{"type"}),
		CoalescedWaits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "coalesced_fetches_total",
			Help:      "Total number of callers that shared an in-flight fetch",
		}),
		HistoryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "history_write_failures_total",
			Help:      "Total number of failed snapshot history writes",
		}),

		// Supply gauges
		TotalSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "total_tokens",
			Help:      "Total supply in whole tokens",
		}),
		CirculatingSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "circulating_tokens",
			Help:      "Circulating supply in whole tokens",
		}),
		BlacklistedSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "blacklisted_tokens",
			Help:      "Supply held by blacklisted addresses in whole tokens",
		}),
		HolderCount: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supply",
			Name:      "holders",
			Help:      "Holder count summed across chains",
		}),

		// Server metrics
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "ws_clients",
			Help:      "Number of connected websocket clients",
		}),

		// Health metrics
		LastSuccessfulFetch: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_fetch_timestamp",
			Help:      "Unix timestamp of last successful aggregation",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordUpstream records one upstream request outcome and latency.
func RecordUpstream(source, chain, outcome string, seconds float64) {
	DefaultMetrics.UpstreamRequests.WithLabelValues(source, chain, outcome).Inc()
	DefaultMetrics.UpstreamLatency.WithLabelValues(source, chain).Observe(seconds)
}

// RecordRetry increments the retry counter for an operation.
func RecordRetry(operation string) {
	DefaultMetrics.RetryAttempts.WithLabelValues(operation).Inc()
}

// RecordRateLimitRejection increments the limiter rejection counter.
func RecordRateLimitRejection(key string) {
	DefaultMetrics.RateLimitRejections.WithLabelValues(key).Inc()
}

// RecordCacheHit increments the hit counter for a tier ("memory" or "durable").
func RecordCacheHit(tier string) {
	DefaultMetrics.CacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss increments the miss counter.
func RecordCacheMiss() {
	DefaultMetrics.CacheMisses.Inc()
}

// RecordCacheEviction increments the eviction counter.
func RecordCacheEviction() {
	DefaultMetrics.CacheEvictions.Inc()
}

// SetDurableEnabled updates the durable tier gauge.
func SetDurableEnabled(enabled bool) {
	if enabled {
		DefaultMetrics.CacheDurableEnabled.Set(1)
		return
	}
	DefaultMetrics.CacheDurableEnabled.Set(0)
}

// RecordFetchCycle records an aggregation cycle.
func RecordFetchCycle(status string, durationSeconds float64) {
	DefaultMetrics.FetchCycles.WithLabelValues(status).Inc()
	DefaultMetrics.FetchDuration.Observe(durationSeconds)
}

// RecordChainDegraded records a chain whose stage fell back to zero.
func RecordChainDegraded(chain, stage string) {
	DefaultMetrics.ChainsDegraded.WithLabelValues(chain, stage).Inc()
}

// SetServiceState marks state as current and clears the others.
func SetServiceState(state string, all []string) {
	for _, s := range all {
		if s == state {
			DefaultMetrics.ServiceState.WithLabelValues(s).Set(1)
		} else {
			DefaultMetrics.ServiceState.WithLabelValues(s).Set(0)
		}
	}
}

// RecordClassifiedError increments the error counter for a category.
func RecordClassifiedError(errorType string) {
	DefaultMetrics.ErrorsByType.WithLabelValues(errorType).Inc()
}

// RecordCoalescedFetch increments the shared in-flight counter.
func RecordCoalescedFetch() {
	DefaultMetrics.CoalescedWaits.Inc()
}

// RecordHistoryFailure increments the history write failure counter.
func RecordHistoryFailure() {
	DefaultMetrics.HistoryFailures.Inc()
}

// UpdateSupply sets the supply gauges. holders < 0 leaves the holder gauge untouched.
func UpdateSupply(total, circulating, blacklisted float64, holders int64) {
	DefaultMetrics.TotalSupply.Set(total)
	DefaultMetrics.CirculatingSupply.Set(circulating)
	DefaultMetrics.BlacklistedSupply.Set(blacklisted)
	if holders >= 0 {
		DefaultMetrics.HolderCount.Set(float64(holders))
	}
}

// UpdateLastSuccessfulFetch sets the health timestamp.
func UpdateLastSuccessfulFetch(unixSeconds float64) {
	DefaultMetrics.LastSuccessfulFetch.Set(unixSeconds)
}

// SetWSClients sets the connected websocket client gauge.
func SetWSClients(n int) {
	DefaultMetrics.WSClients.Set(float64(n))
}
