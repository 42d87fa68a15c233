package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/stepguard/pkg/config"
)

// GuardrailMetrics tracks guardrail evaluations.
//
// Metrics:
//   - stepguard_guardrail_evaluations_total: evaluations by decision
//   - stepguard_guardrail_evaluation_duration_seconds: evaluation latency
//   - stepguard_guardrail_findings_total: findings by kind and severity
//   - stepguard_guardrail_policy_fallbacks_total: built-in policy fallbacks by source
type GuardrailMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	findingsTotal      *prometheus.CounterVec
	fallbacksTotal     *prometheus.CounterVec
}

// NewGuardrailMetrics creates and registers guardrail metrics.
func NewGuardrailMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *GuardrailMetrics {
	gm := &GuardrailMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "guardrail",
				Name:      "evaluations_total",
				Help:      "Total number of guardrail evaluations by decision",
			},
			[]string{"decision"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "guardrail",
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of guardrail evaluation in seconds",
				Buckets:   cfg.EvaluationDurationBuckets,
			},
			[]string{"decision"},
		),

		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "guardrail",
				Name:      "findings_total",
				Help:      "Total number of guardrail findings by kind and severity",
			},
			[]string{"kind", "severity"},
		),

		fallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "guardrail",
				Name:      "policy_fallbacks_total",
				Help:      "Total number of evaluations that fell back to the built-in policy",
			},
			[]string{"source"},
		),
	}

	registry.MustRegister(
		gm.evaluationsTotal,
		gm.evaluationDuration,
		gm.findingsTotal,
		gm.fallbacksTotal,
	)
	return gm
}

// RecordEvaluation records one evaluation and its latency.
func (gm *GuardrailMetrics) RecordEvaluation(decision string, duration time.Duration) {
	gm.evaluationsTotal.WithLabelValues(decision).Inc()
	gm.evaluationDuration.WithLabelValues(decision).Observe(duration.Seconds())
}

// RecordFinding records a finding.
func (gm *GuardrailMetrics) RecordFinding(kind, severity string) {
	gm.findingsTotal.WithLabelValues(kind, severity).Inc()
}

// RecordFallback records a fallback to the built-in policy. source is
// "policy" or "rules".
func (gm *GuardrailMetrics) RecordFallback(source string) {
	gm.fallbacksTotal.WithLabelValues(source).Inc()
}
