package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	SummaryRequests  *prometheus.CounterVec
	ProviderAttempts *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	StoreErrors      *prometheus.CounterVec
	SharedFlights    prometheus.Counter

	stages *summaryStages
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the instruments on reg instead of the default registry.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SummaryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_requests_total",
			Help:      "Summary responses by source.",
		}, []string{"source"}),
		ProviderAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider generation attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and kind.",
		}, []string{"provider", "kind"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Provider generation latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 12, 15},
		}, []string{"provider"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Summary store failures by operation.",
		}, []string{"op"}),
		SharedFlights: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_shared_flights_total",
			Help:      "Requests served by joining an in-flight generation.",
		}),
		stages: newSummaryStages(256),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveSource(source string) {
	if m == nil {
		return
	}
	m.SummaryRequests.WithLabelValues(source).Inc()
	m.stages.served(source)
}

// ObserveProvider records one provider attempt; kind is empty on success.
func (m *Metrics) ObserveProvider(provider, outcome, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderAttempts.WithLabelValues(provider, outcome).Inc()
	if kind != "" {
		m.ProviderErrors.WithLabelValues(provider, kind).Inc()
	}
	m.ProviderLatency.WithLabelValues(provider).Observe(d.Seconds())
	m.stages.observe(stageProvider+provider, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveSharedFlight() {
	if m == nil {
		return
	}
	m.SharedFlights.Inc()
	m.stages.sharedFlight()
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.stages.snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
