// Package metrics exposes Prometheus collectors for an extraction run.
//
// # Basic Usage
//
//	metrics.APIRequests.WithLabelValues("contacts", "2xx").Inc()
//
//	timer := metrics.NewTimer()
//	extractTable(ctx)
//	metrics.TableDuration.WithLabelValues("contacts").Observe(timer.Seconds())
//
// All collectors are registered with the default registry, which the CLI
// serves over HTTP when a metrics address is configured.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "daktela_extractor"

var (
	// APIRequests counts finished HTTP attempts by table and status class.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "HTTP requests sent to the Daktela API",
		},
		[]string{"table", "status"},
	)

	// APIRetries counts retried attempts by table.
	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "Retried HTTP requests",
		},
		[]string{"table"},
	)

	// APIRequestDuration observes a single attempt's latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Latency of HTTP requests to the Daktela API",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"table"},
	)

	// InFlightRequests is the number of requests currently holding a slot.
	InFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_requests_in_flight",
			Help:      "Requests currently in flight",
		},
	)

	// RateLimiterWait observes time spent waiting for a token.
	RateLimiterWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limiter_wait_seconds",
			Help:      "Time spent waiting for a rate limiter token",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)

	// PagesFetched counts pages returned by the paginator.
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Pages fetched per table",
		},
		[]string{"table"},
	)

	// RecordsFetched counts raw API records.
	RecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Raw records fetched per table",
		},
		[]string{"table"},
	)

	// RowsWritten counts transformed rows handed to the sink.
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Transformed rows written per table",
		},
		[]string{"table"},
	)

	// TableStatus counts terminal table states.
	TableStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_total",
			Help:      "Tables by terminal status",
		},
		[]string{"table", "status"},
	)

	// TableDuration observes wall time per table extraction.
	TableDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "table_duration_seconds",
			Help:      "Time to extract one table",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"table"},
	)
)

// StatusClass maps an HTTP status code to a low-cardinality label.
// Zero means the request failed before a response was received.
func StatusClass(code int) string {
	if code == 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Timer measures elapsed time.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() Timer {
	return Timer{start: time.Now()}
}

// Seconds returns the elapsed time in seconds.
func (t Timer) Seconds() float64 {
	return time.Since(t.start).Seconds()
}

// Elapsed returns the elapsed time.
func (t Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
