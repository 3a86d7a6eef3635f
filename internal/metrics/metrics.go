package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cba_intake"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	turns               *prometheus.CounterVec
	retrievals          *prometheus.CounterVec
	retrievalAttempts   prometheus.Histogram
	retrievalLatency    prometheus.Histogram
	extractionFallbacks *prometheus.CounterVec
	sessionEvictions    *prometheus.CounterVec
	memoryDegraded      prometheus.Counter
	uploads             *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns processed, by resulting phase and status.",
		}, []string{"phase", "status"}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Knowledge base retrievals by outcome.",
		}, []string{"outcome"}),
		retrievalAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_attempts",
			Help:      "Attempts made per retrieval.",
			Buckets:   []float64{1, 2, 3, 5},
		}),
		retrievalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Wall time of a retrieval including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		extractionFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_fallbacks_total",
			Help:      "Field extractions that degraded to the empty profile, by reason.",
		}, []string{"reason"}),
		sessionEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_evictions_total",
			Help:      "Sessions dropped by the session cache, by reason.",
		}, []string{"reason"}),
		memoryDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_degraded_total",
			Help:      "Turns that continued without long-term memory.",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Document uploads by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.turns,
		m.retrievals,
		m.retrievalAttempts,
		m.retrievalLatency,
		m.extractionFallbacks,
		m.sessionEvictions,
		m.memoryDegraded,
		m.uploads,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTurn(phase, status string) {
	m.turns.WithLabelValues(phase, status).Inc()
}

// ObserveRetrieval implements retrieval.Observer.
func (m *Metrics) ObserveRetrieval(kind string, attempts int, elapsed time.Duration) {
	outcome := kind
	if outcome == "" {
		outcome = "success"
	}
	m.retrievals.WithLabelValues(outcome).Inc()
	m.retrievalAttempts.Observe(float64(attempts))
	m.retrievalLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveExtractionFallback(reason string) {
	m.extractionFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveSessionEviction(reason string) {
	m.sessionEvictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveMemoryDegraded() {
	m.memoryDegraded.Inc()
}

func (m *Metrics) ObserveUpload(status string) {
	m.uploads.WithLabelValues(status).Inc()
}
