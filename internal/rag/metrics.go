package rag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the Prometheus instruments of the RAG core. A nil *Metrics is valid and records nothing.
type Metrics struct {
	AskTotal           *prometheus.CounterVec
	Fragments          prometheus.Counter
	ReadinessWait      prometheus.Histogram
	RegisteredSessions prometheus.Gauge
	ChainBuilds        prometheus.Counter
}

// NewMetrics registers the instruments on reg under the given namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AskTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ask_total",
			Help:      "Ask operations by outcome.",
		}, []string{"outcome"}),
		Fragments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_total",
			Help:      "Answer fragments forwarded to callers.",
		}),
		ReadinessWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "readiness_wait_seconds",
			Help:      "Time spent waiting for a session retriever to be registered.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
		}),
		RegisteredSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_sessions",
			Help:      "Sessions with a registered retriever.",
		}),
		ChainBuilds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_builds_total",
			Help:      "Conversational chains constructed.",
		}),
	}
}

func (m *Metrics) observeAsk(outcome Outcome) {
	if m == nil {
		return
	}
	m.AskTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) incFragments() {
	if m == nil {
		return
	}
	m.Fragments.Inc()
}

func (m *Metrics) observeWait(d time.Duration) {
	if m == nil {
		return
	}
	m.ReadinessWait.Observe(d.Seconds())
}

func (m *Metrics) setRegistered(n int) {
	if m == nil {
		return
	}
	m.RegisteredSessions.Set(float64(n))
}

func (m *Metrics) incChainBuilds() {
	if m == nil {
		return
	}
	m.ChainBuilds.Inc()
}
