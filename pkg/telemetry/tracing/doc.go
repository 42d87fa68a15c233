// Package tracing provides OpenTelemetry tracing for stepguard.
//
// Spans cover the admin HTTP API and the step execution path:
//
//	HTTP POST /v1/runs
//	└── gate.start_run
//
//	gate.execute_step
//	├── guardrail.evaluate
//	└── resilience.call
//
// Spans are exported over OTLP gRPC. Trace context is read from and
// written to W3C traceparent headers, and the trace id of every admin
// request is echoed in X-Trace-ID.
//
// # Configuration
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: otel-collector:4317
//	    insecure: true
//	    sampler: ratio      # always, never, ratio
//	    sample_ratio: 0.1
//
// Samplers are parent based: a request that arrives with a sampled
// traceparent is always recorded.
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "gate.execute_step")
//	defer span.End()
//
// A disabled tracer returns non-recording spans.
package tracing
