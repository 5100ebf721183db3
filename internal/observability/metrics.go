// Package observability provides Prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	ReconcileTotal        *prometheus.CounterVec
	ReconcileErrors       *prometheus.CounterVec
	ReconcileDuration     *prometheus.HistogramVec
	SnapshotsStored       *prometheus.CounterVec
	DuplicatesIgnored     *prometheus.CounterVec
	LastSnapshotTimestamp *prometheus.GaugeVec

	// Source metrics
	FetchLatency *prometheus.HistogramVec
	FetchErrors  *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Fan-out metrics
	FeedClients   prometheus.Gauge
	PublishErrors *prometheus.CounterVec

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "pair_apr_lab"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ReconcileTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "reconcile_total",
			Help:      "Reconcile runs by pair and action taken",
		}, []string{"pair", "action"}),
		ReconcileErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "reconcile_errors_total",
			Help:      "Reconcile failures by pair and error kind",
		}, []string{"pair", "kind"}),
		ReconcileDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "reconcile_duration_seconds",
			Help:      "Reconcile duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pair"}),
		SnapshotsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "snapshots_stored_total",
			Help:      "Snapshots written to the store",
		}, []string{"pair"}),
		DuplicatesIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicates_ignored_total",
			Help:      "Snapshots skipped because (pair, timestamp) already existed",
		}, []string{"pair"}),
		LastSnapshotTimestamp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_snapshot_timestamp",
			Help:      "Unix timestamp of the newest stored snapshot per pair",
		}, []string{"pair"}),

		FetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_duration_seconds",
			Help:      "Measurement source request latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_errors_total",
			Help:      "Measurement source failures",
		}, []string{"source", "kind"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		FeedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Connected websocket clients",
		}),
		PublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "publish_errors_total",
			Help:      "Snapshot sink failures by sink",
		}, []string{"sink"}),

		LastSuccessfulIngestion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last ingestion run with no failed pairs",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordReconcile records one reconcile outcome for a pair.
func (m *Metrics) RecordReconcile(pair, action string, inserted, duplicates int, d time.Duration) {
	m.ReconcileTotal.WithLabelValues(pair, action).Inc()
	m.ReconcileDuration.WithLabelValues(pair).Observe(d.Seconds())
	if inserted > 0 {
		m.SnapshotsStored.WithLabelValues(pair).Add(float64(inserted))
	}
	if duplicates > 0 {
		m.DuplicatesIgnored.WithLabelValues(pair).Add(float64(duplicates))
	}
}

// RecordReconcileError records a reconcile failure.
func (m *Metrics) RecordReconcileError(pair, kind string) {
	m.ReconcileErrors.WithLabelValues(pair, kind).Inc()
}

// RecordFetch records a measurement source call.
func (m *Metrics) RecordFetch(source string, d time.Duration, errKind string) {
	m.FetchLatency.WithLabelValues(source).Observe(d.Seconds())
	if errKind != "" {
		m.FetchErrors.WithLabelValues(source, errKind).Inc()
	}
}

// RecordHTTP records an API request.
func (m *Metrics) RecordHTTP(route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(route, http.StatusText(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}
