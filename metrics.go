package companion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ──────────────────────────────────────────────
// Pipeline Metrics
// ──────────────────────────────────────────────

// Invocation outcomes recorded on the invocations counter.
const (
	OutcomeSuccess     = "success"
	OutcomeFallback    = "fallback"
	OutcomeConfigError = "config_error"
	OutcomePersistFail = "persist_error"
	OutcomeDuplicate   = "duplicate"
	OutcomeDiscarded   = "discarded"
)

// PipelineMetrics collects reply pipeline counters. A nil *PipelineMetrics
// is accepted everywhere and records nothing.
type PipelineMetrics struct {
	Invocations       *prometheus.CounterVec
	DegradedReads     *prometheus.CounterVec
	GenerationSeconds prometheus.Histogram
}

// NewPipelineMetrics registers and returns pipeline metrics. reg may be
// prometheus.DefaultRegisterer or a test registry.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		Invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_pipeline_invocations_total",
			Help: "Reply pipeline invocations by outcome.",
		}, []string{"outcome"}),
		DegradedReads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_context_degraded_reads_total",
			Help: "Context category reads that degraded to empty.",
		}, []string{"category"}),
		GenerationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_generation_duration_seconds",
			Help:    "Latency of generation-service calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *PipelineMetrics) outcome(name string) {
	if m != nil {
		m.Invocations.WithLabelValues(name).Inc()
	}
}

func (m *PipelineMetrics) generationObserved(seconds float64) {
	if m != nil {
		m.GenerationSeconds.Observe(seconds)
	}
}
