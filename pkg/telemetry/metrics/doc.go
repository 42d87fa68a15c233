// Package metrics exposes stepguard's Prometheus metrics.
//
// A single Collector implements the recorder interfaces consumed by the
// guardrail engine, the resilience set, the idempotency controller and
// the retention pruner, so one value is wired into each of them:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	engine.SetRecorder(collector)
//	set := resilience.NewSet(defaults, overrides, collector, logger)
//	controller.SetRecorder(collector)
//	pruner.SetRecorder(collector)
//
// # Metric families
//
//   - stepguard_guardrail_*: evaluations, latency, findings and policy fallbacks
//   - stepguard_breaker_*: breaker state, transitions and call outcomes
//   - stepguard_retry_attempts_total and stepguard_timeouts_total
//   - stepguard_idempotency_requests_total and stepguard_retention_pruned_total
//
// Idempotency scopes are tenant identifiers. Once more than 1000 distinct
// scopes have been seen, new scopes are reported under "other".
//
// When MetricsConfig.Enabled is false every Record method is a no-op and
// the registry stays empty of samples.
package metrics
