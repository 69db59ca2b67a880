// Package monitor is the Orchestrator's monitoring sink (spec.md §4.6:
// "A monitoring sink receives successes, failures, and thresholds"),
// grounded on the teacher's constructor-returns-error metrics pattern
// (internal/observability/metrics in the teacher repo).
package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunMetrics records per-run pipeline counters and external-call
// latency for one Prometheus registry.
type RunMetrics struct {
	phaseItemsTotal       *prometheus.CounterVec
	externalCallsTotal    *prometheus.CounterVec
	externalCallDuration  *prometheus.HistogramVec
	memoryCeilingWarnings prometheus.Counter
}

// NewRunMetrics registers the pipeline's counters and histograms on
// registry, mirroring the teacher's `NewMyAudioMetrics` constructor
// shape: build every collector, register it, and surface the first
// registration error.
func NewRunMetrics(registry *prometheus.Registry) (*RunMetrics, error) {
	m := &RunMetrics{
		phaseItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hoptix",
			Subsystem: "orchestrator",
			Name:      "phase_items_total",
			Help:      "Items processed per orchestrator phase, by outcome.",
		}, []string{"phase", "status"}),
		externalCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hoptix",
			Subsystem: "orchestrator",
			Name:      "external_calls_total",
			Help:      "External capability calls, by capability and outcome.",
		}, []string{"capability", "status"}),
		externalCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hoptix",
			Subsystem: "orchestrator",
			Name:      "external_call_duration_seconds",
			Help:      "External capability call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"capability"}),
		memoryCeilingWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hoptix",
			Subsystem: "orchestrator",
			Name:      "memory_ceiling_warnings_total",
			Help:      "Times the configured MaxMemoryGB ceiling was crossed.",
		}),
	}

	for _, c := range []prometheus.Collector{m.phaseItemsTotal, m.externalCallsTotal, m.externalCallDuration, m.memoryCeilingWarnings} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordPhaseItem records one item's outcome within a pipeline phase
// ("chunks", "transactions", "grading", "clips_diarization").
func (m *RunMetrics) RecordPhaseItem(phase, status string) {
	m.phaseItemsTotal.WithLabelValues(phase, status).Inc()
}

// RecordExternalCall records one external-capability call's outcome
// and latency (spec.md §4.6 "successes, failures, and thresholds").
func (m *RunMetrics) RecordExternalCall(capability, status string, duration time.Duration) {
	m.externalCallsTotal.WithLabelValues(capability, status).Inc()
	m.externalCallDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

// RecordMemoryCeilingWarning records one MaxMemoryGB threshold crossing
// (spec.md §5 "triggers a warning from the monitor").
func (m *RunMetrics) RecordMemoryCeilingWarning() {
	m.memoryCeilingWarnings.Inc()
}
