package metrics

import (
	"sync"
	"time"

	"mercator-hq/stepguard/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// otherLabel replaces label values once the cardinality limit is reached.
const otherLabel = "other"

// defaultMaxCardinality bounds the number of distinct idempotency scopes.
const defaultMaxCardinality = 1000

// Collector records guardrail, resilience, idempotency and retention
// metrics into one Prometheus registry. It satisfies the recorder
// interfaces of the guardrail engine, the resilience set, the idempotency
// controller and the retention pruner.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	guardrail   *GuardrailMetrics
	resilience  *ResilienceMetrics
	idempotency *IdempotencyMetrics

	scopeLimiter *CardinalityLimiter
}

// NewCollector creates a collector. If registry is nil a fresh registry
// is created.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	engine.SetRecorder(collector)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg == nil {
		cfg = &config.MetricsConfig{Enabled: true}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.EvaluationDurationBuckets) == 0 {
		cfg.EvaluationDurationBuckets = append([]float64(nil), config.DefaultEvaluationDurationBuckets...)
	}

	return &Collector{
		config:       cfg,
		registry:     registry,
		guardrail:    NewGuardrailMetrics(cfg, registry),
		resilience:   NewResilienceMetrics(cfg, registry),
		idempotency:  NewIdempotencyMetrics(cfg, registry),
		scopeLimiter: NewCardinalityLimiter(defaultMaxCardinality),
	}
}

// RecordGuardrailEvaluation records one verdict and how long it took.
func (c *Collector) RecordGuardrailEvaluation(decision string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.guardrail.RecordEvaluation(decision, duration)
}

// RecordGuardrailFinding records one finding attached to a verdict.
func (c *Collector) RecordGuardrailFinding(kind, severity string) {
	if !c.config.Enabled {
		return
	}
	c.guardrail.RecordFinding(kind, severity)
}

// RecordPolicyFallback records an evaluation that used the built-in policy.
func (c *Collector) RecordPolicyFallback(source string) {
	if !c.config.Enabled {
		return
	}
	c.guardrail.RecordFallback(source)
}

// RecordBreakerState records a breaker transition.
func (c *Collector) RecordBreakerState(name, state string) {
	if !c.config.Enabled {
		return
	}
	c.resilience.RecordBreakerState(name, state)
}

// RecordBreakerCall records one call outcome through a breaker.
func (c *Collector) RecordBreakerCall(name, outcome string) {
	if !c.config.Enabled {
		return
	}
	c.resilience.RecordBreakerCall(name, outcome)
}

// RecordRetry records one retry controller outcome.
func (c *Collector) RecordRetry(name, outcome string) {
	if !c.config.Enabled {
		return
	}
	c.resilience.RecordRetry(name, outcome)
}

// RecordTimeout records a unit of work that exceeded bound.
func (c *Collector) RecordTimeout(name string, bound time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.resilience.RecordTimeout(name, bound)
}

// RecordIdempotency records one idempotency outcome. Scopes are tenant
// identifiers, so scopes beyond the cardinality limit are reported as
// "other".
func (c *Collector) RecordIdempotency(scope, outcome string) {
	if !c.config.Enabled {
		return
	}
	if !c.scopeLimiter.Allow(scope) {
		scope = otherLabel
	}
	c.idempotency.RecordRequest(scope, outcome)
}

// RecordPruned records entries deleted by retention pruning.
func (c *Collector) RecordPruned(target string, deleted int64) {
	if !c.config.Enabled {
		return
	}
	c.idempotency.RecordPruned(target, deleted)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter that admits at most
// maxCardinality distinct values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value may be used as a label. Known values are
// always allowed; new values are allowed until the limit is reached.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	_, exists := cl.current[value]
	cl.mu.RUnlock()
	if exists {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the number of admitted values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
