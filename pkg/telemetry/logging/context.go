package logging

import (
	"context"
	"log/slog"
)

type contextKey string

// Context keys for common log fields.
const (
	RequestIDKey contextKey = "request_id"
	TenantKey    contextKey = "tenant_id"
	RunKey       contextKey = "run_id"
	StepKey      contextKey = "step_id"
)

// fieldOrder fixes the order context fields appear in a record.
var fieldOrder = []contextKey{RequestIDKey, TenantKey, RunKey, StepKey}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithTenant adds a tenant ID to the context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantKey, tenantID)
}

// WithRun adds a run ID to the context.
func WithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunKey, runID)
}

// WithStep adds a step ID to the context.
func WithStep(ctx context.Context, stepID string) context.Context {
	return context.WithValue(ctx, StepKey, stepID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// GetTenant retrieves the tenant ID from the context.
func GetTenant(ctx context.Context) string {
	return stringValue(ctx, TenantKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// contextAttrs returns the log fields carried by ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	for _, key := range fieldOrder {
		if v := stringValue(ctx, key); v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}
