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
	// Connector metrics
	FillsFetched   *prometheus.CounterVec
	FetchErrors    *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	RateLimitWait  *prometheus.HistogramVec

	// Normalization metrics
	FillsNormalized prometheus.Counter
	PriceMisses     *prometheus.CounterVec

	// Aggregation metrics
	RefreshesTotal  *prometheus.CounterVec
	RefreshDuration *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	SnapshotTotal   prometheus.Gauge

	// Backfill metrics
	BackfillPages       *prometheus.CounterVec
	BackfillFillsStored *prometheus.CounterVec
	BackfillRuns        *prometheus.CounterVec

	// Storage metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRefresh prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "volume_tracker"
	}

	return &Metrics{
		// Connector metrics
		FillsFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "fills_fetched_total",
			Help:      "Total number of fills fetched by exchange",
		}, []string{"exchange"}),
		FetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "fetch_errors_total",
			Help:      "Total number of fetch failures by exchange and error type",
		}, []string{"exchange", "error_type"}),
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "request_latency_seconds",
			Help:      "Exchange API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"exchange"}),
		RateLimitWait: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for a rate-limiter slot in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"exchange"}),

		// Normalization metrics
		FillsNormalized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalize",
			Name:      "fills_normalized_total",
			Help:      "Total number of fills converted to USD contributions",
		}),
		PriceMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalize",
			Name:      "price_misses_total",
			Help:      "Total number of fills skipped for missing oracle prices",
		}, []string{"asset"}),

		// Aggregation metrics
		RefreshesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "refreshes_total",
			Help:      "Total number of snapshot refreshes by exchange and status",
		}, []string{"exchange", "status"}),
		RefreshDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "refresh_duration_seconds",
			Help:      "Per-exchange refresh duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"exchange"}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "cache_hits_total",
			Help:      "Total number of snapshot reads served from cache",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "cache_misses_total",
			Help:      "Total number of snapshot reads that triggered a refresh",
		}),
		SnapshotTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "snapshot_total_usd",
			Help:      "Total USD volume of the most recent snapshot",
		}),

		// Backfill metrics
		BackfillPages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "pages_total",
			Help:      "Total number of backfill pages processed by exchange",
		}, []string{"exchange"}),
		BackfillFillsStored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "fills_stored_total",
			Help:      "Total number of backfill fills stored by exchange",
		}, []string{"exchange"}),
		BackfillRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "runs_total",
			Help:      "Total number of per-pair backfill runs by status",
		}, []string{"exchange", "status"}),

		// Storage metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulRefresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of the last fully successful refresh",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFillsFetched adds to the fetched-fills counter for an exchange.
func RecordFillsFetched(exchange string, count int) {
	DefaultMetrics.FillsFetched.WithLabelValues(exchange).Add(float64(count))
}

// RecordFetchError records a fetch failure.
func RecordFetchError(exchange, errorType string) {
	DefaultMetrics.FetchErrors.WithLabelValues(exchange, errorType).Inc()
}

// RecordPriceMiss records a fill skipped for a missing oracle price.
func RecordPriceMiss(asset string) {
	DefaultMetrics.PriceMisses.WithLabelValues(asset).Inc()
}

// RecordRefresh records one per-exchange refresh outcome.
func RecordRefresh(exchange, status string, durationSeconds float64) {
	DefaultMetrics.RefreshesTotal.WithLabelValues(exchange, status).Inc()
	DefaultMetrics.RefreshDuration.WithLabelValues(exchange).Observe(durationSeconds)
}

// RecordBackfillPage records one processed backfill page.
func RecordBackfillPage(exchange string, stored int) {
	DefaultMetrics.BackfillPages.WithLabelValues(exchange).Inc()
	DefaultMetrics.BackfillFillsStored.WithLabelValues(exchange).Add(float64(stored))
}

// RecordBackfillRun records a finished per-pair backfill run.
func RecordBackfillRun(exchange, status string) {
	DefaultMetrics.BackfillRuns.WithLabelValues(exchange, status).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
