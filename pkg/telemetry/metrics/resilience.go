package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/stepguard/pkg/config"
)

// breakerStateValues maps breaker states to the gauge value.
var breakerStateValues = map[string]float64{
	"closed":    0,
	"half_open": 1,
	"open":      2,
}

// ResilienceMetrics tracks breakers, retries and timeouts per dependency.
//
// Metrics:
//   - stepguard_breaker_state: current state (0=closed, 1=half_open, 2=open)
//   - stepguard_breaker_transitions_total: state transitions by target state
//   - stepguard_breaker_calls_total: calls by outcome (success, failure, ignored, rejected)
//   - stepguard_retry_attempts_total: attempt outcomes (success, retry, exhausted, non_retryable)
//   - stepguard_timeouts_total: units of work that exceeded their bound
//   - stepguard_timeout_bound_seconds: the bound of the last timeout
type ResilienceMetrics struct {
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	breakerCalls       *prometheus.CounterVec
	retryAttempts      *prometheus.CounterVec
	timeoutsTotal      *prometheus.CounterVec
	timeoutBound       *prometheus.GaugeVec
}

// NewResilienceMetrics creates and registers resilience metrics.
func NewResilienceMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ResilienceMetrics {
	rm := &ResilienceMetrics{
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"dependency"},
		),

		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"dependency", "state"},
		),

		breakerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "breaker_calls_total",
				Help:      "Total number of calls through circuit breakers by outcome",
			},
			[]string{"dependency", "outcome"},
		),

		retryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry controller attempt outcomes",
			},
			[]string{"dependency", "outcome"},
		),

		timeoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "timeouts_total",
				Help:      "Total number of units of work that exceeded their time bound",
			},
			[]string{"dependency"},
		),

		timeoutBound: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "timeout_bound_seconds",
				Help:      "Time bound of the most recent timeout in seconds",
			},
			[]string{"dependency"},
		),
	}

	registry.MustRegister(
		rm.breakerState,
		rm.breakerTransitions,
		rm.breakerCalls,
		rm.retryAttempts,
		rm.timeoutsTotal,
		rm.timeoutBound,
	)
	return rm
}

// RecordBreakerState records a transition to state.
func (rm *ResilienceMetrics) RecordBreakerState(dependency, state string) {
	if v, ok := breakerStateValues[state]; ok {
		rm.breakerState.WithLabelValues(dependency).Set(v)
	}
	rm.breakerTransitions.WithLabelValues(dependency, state).Inc()
}

// RecordBreakerCall records the outcome of one call through a breaker.
func (rm *ResilienceMetrics) RecordBreakerCall(dependency, outcome string) {
	rm.breakerCalls.WithLabelValues(dependency, outcome).Inc()
}

// RecordRetry records one retry controller outcome.
func (rm *ResilienceMetrics) RecordRetry(dependency, outcome string) {
	rm.retryAttempts.WithLabelValues(dependency, outcome).Inc()
}

// RecordTimeout records a timeout.
func (rm *ResilienceMetrics) RecordTimeout(dependency string, bound time.Duration) {
	rm.timeoutsTotal.WithLabelValues(dependency).Inc()
	rm.timeoutBound.WithLabelValues(dependency).Set(bound.Seconds())
}
