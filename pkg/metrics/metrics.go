// Package metrics provides the Prometheus collector shared by every cache tier
// and by the fetcher of one oda-reader instance. A Collector is bound to the
// registerer it was created with.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache tiers used as label values.
const (
	TierHTTP      = "http"
	TierMemory    = "memory"
	TierDataFrame = "dataframe"
	TierBulk      = "bulk"
)

// Collector holds all oda-reader metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	VersionFallback *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	RetryExhausted  *prometheus.CounterVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	CacheErrors *prometheus.CounterVec
	StaleServed prometheus.Counter

	LimiterWaits    prometheus.Counter
	LimiterWaitTime prometheus.Histogram

	BulkFetches  *prometheus.CounterVec
	EvictedFiles prometheus.Counter
	EvictedBytes prometheus.Counter
}

// New registers the oda-reader metrics on reg. When reg is nil a dedicated
// registry is created.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Collector{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oda_requests_total",
			Help: "Total upstream requests by status and source (network or cache)",
		}, []string{"status", "source"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oda_request_duration_seconds",
			Help:    "Upstream request duration in seconds by source",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 120},
		}, []string{"source"}),

		VersionFallback: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oda_version_fallbacks_total",
			Help: "Dataflow version step-downs by outcome",
		}, []string{"outcome"}),

		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oda_retries_total",
			Help: "Total number of transport retry attempts by error class",
		}, []string{"error_class"}),

		RetryExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oda_retry_exhausted_total",
			Help: "Total number of times retries were exhausted by reason",
		}, []string{"reason"}),

		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oda_cache_hits_total",
			Help: "Total cache hits by tier",
		}, []string{"tier"}),

		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oda_cache_misses_total",
			Help: "Total cache misses by tier",
		}, []string{"tier"}),

		CacheErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oda_cache_errors_total",
			Help: "Total cache operation errors by tier and operation",
		}, []string{"tier", "operation"}),

		StaleServed: f.NewCounter(prometheus.CounterOpts{
			Name: "oda_cache_stale_served_total",
			Help: "Responses served from a stale HTTP cache entry after a live failure",
		}),

		LimiterWaits: f.NewCounter(prometheus.CounterOpts{
			Name: "oda_rate_limit_waits_total",
			Help: "Calls that had to sleep in the rate limiter",
		}),

		LimiterWaitTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "oda_rate_limit_wait_seconds",
			Help:    "Time spent sleeping in the rate limiter",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		BulkFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oda_bulk_fetches_total",
			Help: "Bulk file fetches by key and outcome",
		}, []string{"key", "outcome"}),

		EvictedFiles: f.NewCounter(prometheus.CounterOpts{
			Name: "oda_cache_evicted_files_total",
			Help: "Files removed by cache maintenance",
		}),

		EvictedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "oda_cache_evicted_bytes_total",
			Help: "Bytes removed by cache maintenance",
		}),
	}
}

// Hit records a cache hit for tier.
func (c *Collector) Hit(tier string) {
	if c == nil {
		return
	}
	c.CacheHits.WithLabelValues(tier).Inc()
}

// Miss records a cache miss for tier.
func (c *Collector) Miss(tier string) {
	if c == nil {
		return
	}
	c.CacheMisses.WithLabelValues(tier).Inc()
}

// CacheError records a failed cache operation ("get", "set", "delete", ...).
func (c *Collector) CacheError(tier, operation string) {
	if c == nil {
		return
	}
	c.CacheErrors.WithLabelValues(tier, operation).Inc()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - oda_requests_total{status, source} (Counter)
//   - oda_request_duration_seconds{source} (Histogram)
//   - oda_version_fallbacks_total{outcome} (Counter): step_down, exhausted, no_version
//   - oda_retries_total{error_class} / oda_retry_exhausted_total{reason} (Counter)
//
// Cache Metrics (pkg/httpcache, pkg/framecache, pkg/bulkcache):
//   - oda_cache_hits_total{tier} / oda_cache_misses_total{tier} (Counter)
//   - oda_cache_errors_total{tier, operation} (Counter)
//   - oda_cache_stale_served_total (Counter)
//   - oda_bulk_fetches_total{key, outcome} (Counter)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - oda_rate_limit_waits_total (Counter)
//   - oda_rate_limit_wait_seconds (Histogram)
//
// Maintenance Metrics (pkg/maintenance):
//   - oda_cache_evicted_files_total / oda_cache_evicted_bytes_total (Counter)
//
// Example Prometheus Queries:
//
//   # DataFrame cache hit rate
//   sum(rate(oda_cache_hits_total{tier="dataframe"}[1h])) /
//   (sum(rate(oda_cache_hits_total{tier="dataframe"}[1h])) + sum(rate(oda_cache_misses_total{tier="dataframe"}[1h])))
//
//   # How often the upstream dataflow version moved
//   increase(oda_version_fallbacks_total{outcome="step_down"}[1d])
