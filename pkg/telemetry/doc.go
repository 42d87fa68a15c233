// Package telemetry groups the observability packages of stepguard.
//
// # Components
//
//   - logging: slog handlers with request, tenant, run and step context
//     and PII redaction
//   - metrics: Prometheus collectors for guardrail verdicts, breakers,
//     retries, timeouts, idempotency and retention
//   - tracing: OpenTelemetry spans for admin requests and step execution
//   - health: liveness, readiness and version endpoints
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	checker := health.New(2 * time.Second)
//
// The metrics collector implements the recorder interfaces of the
// guardrail, resilience, idempotency and retention packages, so one
// collector is shared by every component.
package telemetry
