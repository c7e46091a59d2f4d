package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsGauge is the gauge surface the live feed needs.
type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

// MetricsWrapper adapts Metrics to the narrow interfaces used by the tracker
// service, the API and the live feed.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) ScoreObserve(score float64, latency time.Duration) {
	w.m.Scores.Observe(score)
	w.m.ScoreLatency.Observe(latency.Seconds())
}

func (w *MetricsWrapper) LookupsInc(source string) {
	w.m.Lookups.WithLabelValues(source).Inc()
}

func (w *MetricsWrapper) UpstreamErrorsInc() {
	w.m.UpstreamErrors.Inc()
}

func (w *MetricsWrapper) SnapshotsStoredInc() {
	w.m.SnapshotsStored.Inc()
}

func (w *MetricsWrapper) CollectionObserve(d time.Duration, failures int) {
	w.m.CollectionRuns.Inc()
	w.m.CollectionDuration.Observe(d.Seconds())
	w.m.CollectionFailures.Add(float64(failures))
}

func (w *MetricsWrapper) ErrorsInc() {
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) FeedClients() MetricsGauge {
	return &GaugeWrapper{w.m.FeedClients}
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}
