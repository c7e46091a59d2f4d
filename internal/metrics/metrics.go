// Package metrics provides Prometheus metrics collection for the bot scorer.
// It defines the scoring, upstream lookup, collection and HTTP metrics that
// are exposed via the Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Scoring metrics
	Scores       prometheus.Histogram // Distribution of produced bot scores
	ScoreLatency prometheus.Histogram // Score and explain latency in seconds

	// Upstream metrics
	Lookups        *prometheus.CounterVec // Account lookups by source (upstream, cache)
	UpstreamErrors prometheus.Counter     // Lookups that degraded to a suspended record

	// Collection metrics
	CollectionRuns     prometheus.Counter   // Completed collection runs
	CollectionFailures prometheus.Counter   // Accounts that failed during collection
	CollectionDuration prometheus.Histogram // Duration of a collection run
	SnapshotsStored    prometheus.Counter   // Snapshots persisted

	// Live feed and HTTP
	FeedClients  prometheus.Gauge       // Connected websocket feed clients
	HTTPRequests *prometheus.CounterVec // HTTP requests by route and status

	ErrorsTotal prometheus.Counter // Requests answered with a server error
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Scores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_scores",
			Help:    "Distribution of produced bot scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ScoreLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "score_latency_seconds",
			Help:    "Score and explain latency in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		Lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "account_lookups_total",
			Help: "Total number of account lookups by source",
		}, []string{"source"}),
		UpstreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "upstream_account_errors_total",
			Help: "Total number of lookups resolved to a suspended or missing account",
		}),
		CollectionRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "collection_runs_total",
			Help: "Total number of completed collection runs",
		}),
		CollectionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "collection_failures_total",
			Help: "Total number of accounts that failed during collection",
		}),
		CollectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "collection_duration_seconds",
			Help:    "Duration of collection runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		SnapshotsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "snapshots_stored_total",
			Help: "Total number of snapshots persisted",
		}),
		FeedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "feed_clients",
			Help: "Number of connected live feed clients",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		}, []string{"route", "status"}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of requests that failed with a server error",
		}),
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route string, status int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// GetErrorRate returns collection failures per snapshot stored, or 0 before
// anything was stored.
func (m *Metrics) GetErrorRate(gatherer prometheus.Gatherer) float64 {
	var stored, failed float64

	metricFamilies, err := gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "snapshots_stored_total":
			for _, m := range mf.Metric {
				stored = m.GetCounter().GetValue()
			}
		case "collection_failures_total":
			for _, m := range mf.Metric {
				failed = m.GetCounter().GetValue()
			}
		}
	}

	if stored == 0 {
		return 0
	}
	return failed / stored
}
