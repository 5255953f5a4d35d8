// Package metrics exposes Prometheus instrumentation for the pipeline.
// All collectors are optional: a nil *PipelineMetrics disables recording.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics groups the run-level collectors.
type PipelineMetrics struct {
	RunsTotal        *prometheus.CounterVec   // status: pass|fail|error
	PhaseDuration    *prometheus.HistogramVec // phase
	RetriesTotal     prometheus.Counter
	RefreshesTotal   prometheus.Counter
	FallbacksTotal   *prometheus.CounterVec // phase
	ApplyFailures    *prometheus.CounterVec // kind
	ResearchCycles   prometheus.Histogram
	ArchitectPasses  prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcoda",
			Name:      "runs_total",
			Help:      "Pipeline runs by terminal status.",
		}, []string{"status"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcoda",
			Name:      "phase_duration_seconds",
			Help:      "Wall time spent per phase.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"phase"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcoda",
			Name:      "builder_retries_total",
			Help:      "Builder attempts consumed beyond the first.",
		}),
		RefreshesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcoda",
			Name:      "context_refreshes_total",
			Help:      "Context reassemblies triggered by needs_context or critic requests.",
		}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcoda",
			Name:      "provider_fallbacks_total",
			Help:      "Provider switches granted by the fallback hook.",
		}, []string{"phase"}),
		ApplyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcoda",
			Name:      "apply_failures_total",
			Help:      "Patch apply failures by deterministic kind.",
		}, []string{"kind"}),
		ResearchCycles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mcoda",
			Name:      "research_cycles",
			Help:      "Research cycles performed per deep-mode run.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		ArchitectPasses: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mcoda",
			Name:      "architect_passes",
			Help:      "Architect passes performed per run.",
			Buckets:   prometheus.LinearBuckets(1, 1, 6),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RunsTotal, m.PhaseDuration, m.RetriesTotal, m.RefreshesTotal,
			m.FallbacksTotal, m.ApplyFailures, m.ResearchCycles, m.ArchitectPasses,
		)
	}
	return m
}

// ObserveRun records the terminal status of a run.
func (m *PipelineMetrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

// ObservePhase records one phase's duration in seconds.
func (m *PipelineMetrics) ObservePhase(phase string, seconds float64) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(seconds)
}

// ObserveRetry counts one consumed builder retry.
func (m *PipelineMetrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// ObserveRefresh counts one context refresh.
func (m *PipelineMetrics) ObserveRefresh() {
	if m == nil {
		return
	}
	m.RefreshesTotal.Inc()
}

// ObserveFallback counts one granted provider switch for a phase.
func (m *PipelineMetrics) ObserveFallback(phase string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(phase).Inc()
}

// ObserveApplyFailure counts one patch apply failure by kind.
func (m *PipelineMetrics) ObserveApplyFailure(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unclassified"
	}
	m.ApplyFailures.WithLabelValues(kind).Inc()
}

// ObserveResearch records the cycle count of a deep-mode run.
func (m *PipelineMetrics) ObserveResearch(cycles int) {
	if m == nil {
		return
	}
	m.ResearchCycles.Observe(float64(cycles))
}

// ObserveArchitectPasses records how many architect passes a run used.
func (m *PipelineMetrics) ObserveArchitectPasses(n int) {
	if m == nil {
		return
	}
	m.ArchitectPasses.Observe(float64(n))
}
