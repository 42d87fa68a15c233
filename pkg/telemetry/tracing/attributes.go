package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys. Domain keys use the "stepguard." namespace; HTTP
// keys follow the OpenTelemetry conventions.
const (
	AttrTenantID = "stepguard.tenant_id"
	AttrRunID    = "stepguard.run_id"
	AttrStepID   = "stepguard.step_id"
	AttrProvider = "stepguard.step.provider"
	AttrAction   = "stepguard.step.action"
	AttrStatus   = "stepguard.step.status"

	AttrDecision       = "stepguard.guardrail.decision"
	AttrFindings       = "stepguard.guardrail.findings"
	AttrPolicyFallback = "stepguard.guardrail.policy_fallback"

	AttrDependency = "stepguard.dependency"

	AttrIdempotencyCreated = "stepguard.idempotency.created"

	AttrHTTPMethod = "http.method"
	AttrHTTPPath   = "http.target"
	AttrHTTPStatus = "http.status_code"
)

// StepAttributes identifies a gated step. Empty provider and action are
// omitted.
func StepAttributes(tenantID, runID, stepID, provider, action string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTenantID, tenantID),
		attribute.String(AttrRunID, runID),
		attribute.String(AttrStepID, stepID),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrProvider, provider))
	}
	if action != "" {
		attrs = append(attrs, attribute.String(AttrAction, action))
	}
	return attrs
}

// SetVerdictAttributes records a guardrail verdict on span.
func SetVerdictAttributes(span trace.Span, decision string, findings int, fallback bool) {
	span.SetAttributes(
		attribute.String(AttrDecision, decision),
		attribute.Int(AttrFindings, findings),
		attribute.Bool(AttrPolicyFallback, fallback),
	)
}
