// Package metrics provides Prometheus metrics for the Sefaria MCP server.
// It tracks tool calls, upstream API behaviour, cache performance and response shaping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const (
	Namespace = "sefaria_mcp"
)

var (
	// RequestsTotal counts total MCP tool calls by tool name and status
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "requests_total",
		Help:      "Total number of MCP tool calls",
	}, []string{"tool", "status"})

	// RequestDuration measures request latency distribution
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "request_duration_seconds",
		Help:      "Request latency distribution by tool",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"tool"})

	// RequestInFlight tracks currently executing requests
	RequestInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "requests_in_flight",
		Help:      "Number of requests currently being processed",
	}, []string{"tool"})

	// ToolErrors counts failed tool calls by error kind
	ToolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "tool_errors_total",
		Help:      "Failed tool calls by tool and error kind",
	}, []string{"tool", "kind"})

	// CacheHits counts cache hits
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_hits_total",
		Help:      "Total cache hit count",
	})

	// CacheMisses counts cache misses
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_misses_total",
		Help:      "Total cache miss count",
	})

	// CacheJoins counts callers that attached to an in-flight fetch
	CacheJoins = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_joins_total",
		Help:      "Requests served by joining an identical in-flight fetch",
	})

	// CacheSize tracks current cache entry count
	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "cache_entries",
		Help:      "Current number of cache entries",
	})

	// CacheEvictions counts cache evictions
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_evictions_total",
		Help:      "Total cache eviction count by reason",
	}, []string{"reason"})

	// UpstreamLatency measures Sefaria API call latency by endpoint
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "upstream_latency_seconds",
		Help:      "Sefaria API call latency by endpoint",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	// UpstreamRequestsTotal counts Sefaria API requests
	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "upstream_requests_total",
		Help:      "Total Sefaria API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	// UpstreamErrors counts Sefaria API failures by error kind
	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "upstream_errors_total",
		Help:      "Sefaria API errors by endpoint and error kind",
	}, []string{"endpoint", "kind"})

	// UpstreamRetries counts API request retries
	UpstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "upstream_retries_total",
		Help:      "Sefaria API retry count by endpoint",
	}, []string{"endpoint"})

	// RateLimitRejections counts requests rejected due to rate limiting
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected due to rate limiting",
	})

	// RateLimitWaits counts requests that had to wait for the upstream semaphore
	RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "rate_limit_waits_total",
		Help:      "Requests that waited for the upstream concurrency semaphore",
	})

	// SSRFBlocked counts blocked SSRF attempts
	SSRFBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "ssrf_blocked_total",
		Help:      "SSRF attempts blocked by security",
	}, []string{"type"})

	// PanicsRecovered counts recovered panics
	PanicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "panics_recovered_total",
		Help:      "Number of panics recovered in tool handlers",
	}, []string{"tool"})

	// HTTPRequestsTotal counts HTTP transport requests
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method and status",
	}, []string{"method", "status"})

	// HTTPRequestDuration measures HTTP request latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency distribution",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path"})

	// ShapedBytes tracks payload sizes before and after shaping
	ShapedBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "shaped_bytes",
		Help:      "Payload size in bytes by tool and stage (raw, shaped)",
		Buckets:   []float64{100, 1000, 5000, 10000, 25000, 50000, 100000, 250000, 1000000},
	}, []string{"tool", "stage"})

	// ShapeTruncations counts shaping passes that dropped content
	ShapeTruncations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "shape_truncations_total",
		Help:      "Shaped results that truncated lists, texts or fields, by tool",
	}, []string{"tool"})

	// IndexEntries tracks the number of catalogue entries in the live resolver snapshot
	IndexEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "index_entries",
		Help:      "Entries in the current name resolver snapshot",
	})

	// UpstreamCircuitState exposes the upstream circuit breaker state (0 closed, 1 open, 2 half-open)
	UpstreamCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "upstream_circuit_state",
		Help:      "Sefaria API circuit breaker state: 0 closed, 1 open, 2 half-open",
	})

	// IndexRefreshes counts catalogue reloads by outcome
	IndexRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "index_refreshes_total",
		Help:      "Table-of-contents reloads by status",
	}, []string{"status"})
)

// RecordRequest records a completed request with its duration and status
func RecordRequest(tool string, duration float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	RequestsTotal.WithLabelValues(tool, status).Inc()
	RequestDuration.WithLabelValues(tool).Observe(duration)
}

// RecordToolError records a failed tool call by error kind
func RecordToolError(tool, kind string) {
	ToolErrors.WithLabelValues(tool, kind).Inc()
}

// RecordAPICall records a Sefaria API call
func RecordAPICall(endpoint string, duration float64, status string, errorKind string) {
	UpstreamRequestsTotal.WithLabelValues(endpoint, status).Inc()
	UpstreamLatency.WithLabelValues(endpoint).Observe(duration)
	if errorKind != "" {
		UpstreamErrors.WithLabelValues(endpoint, errorKind).Inc()
	}
}

// RecordRetry records a retried upstream attempt
func RecordRetry(endpoint string) {
	UpstreamRetries.WithLabelValues(endpoint).Inc()
}

// RecordCacheAccess records a cache hit or miss
func RecordCacheAccess(hit bool) {
	if hit {
		CacheHits.Inc()
	} else {
		CacheMisses.Inc()
	}
}

// RecordCacheJoin records a caller that shared an in-flight fetch
func RecordCacheJoin() {
	CacheJoins.Inc()
}

// RecordEviction records a cache eviction ("capacity" or "expired")
func RecordEviction(reason string) {
	CacheEvictions.WithLabelValues(reason).Inc()
}

// SetCacheSize updates the current cache size gauge
func SetCacheSize(size int64) {
	CacheSize.Set(float64(size))
}

// RecordShape records raw and shaped payload sizes for a tool
func RecordShape(tool string, rawBytes, shapedBytes int, truncated bool) {
	ShapedBytes.WithLabelValues(tool, "raw").Observe(float64(rawBytes))
	ShapedBytes.WithLabelValues(tool, "shaped").Observe(float64(shapedBytes))
	if truncated {
		ShapeTruncations.WithLabelValues(tool).Inc()
	}
}

// RecordIndexRefresh records a catalogue reload and the resulting entry count
func RecordIndexRefresh(success bool, entries int) {
	status := "success"
	if !success {
		status = "error"
	}
	IndexRefreshes.WithLabelValues(status).Inc()
	if success {
		IndexEntries.Set(float64(entries))
	}
}
