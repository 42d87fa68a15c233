package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/stepguard/pkg/config"
)

// IdempotencyMetrics tracks idempotency controller outcomes and retention.
//
// Metrics:
//   - stepguard_idempotency_requests_total: requests by scope and outcome (created, replayed, error)
//   - stepguard_retention_pruned_total: entries deleted by retention, by target
type IdempotencyMetrics struct {
	requestsTotal *prometheus.CounterVec
	prunedTotal   *prometheus.CounterVec
}

// NewIdempotencyMetrics creates and registers idempotency metrics.
func NewIdempotencyMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *IdempotencyMetrics {
	im := &IdempotencyMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "idempotency",
				Name:      "requests_total",
				Help:      "Total number of idempotent requests by outcome",
			},
			[]string{"scope", "outcome"},
		),

		prunedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retention",
				Name:      "pruned_total",
				Help:      "Total number of entries deleted by retention pruning",
			},
			[]string{"target"},
		),
	}

	registry.MustRegister(im.requestsTotal, im.prunedTotal)
	return im
}

// RecordRequest records one EnsureIdempotent outcome.
func (im *IdempotencyMetrics) RecordRequest(scope, outcome string) {
	im.requestsTotal.WithLabelValues(scope, outcome).Inc()
}

// RecordPruned records entries deleted from a retention target.
func (im *IdempotencyMetrics) RecordPruned(target string, deleted int64) {
	if deleted <= 0 {
		return
	}
	im.prunedTotal.WithLabelValues(target).Add(float64(deleted))
}
