package storage

import (
	"context"
	"time"

	"mercator-hq/stepguard/pkg/guardrail"
)

// Backend persists guardrail policies, rules and the action log.
// Implementations must be thread-safe.
type Backend interface {
	guardrail.PolicyStore
	guardrail.RuleStore
	guardrail.ActionCounter

	// PutRiskPolicy creates or replaces the tenant's policy.
	PutRiskPolicy(ctx context.Context, policy *guardrail.RiskPolicy) error

	// DeleteRiskPolicy removes the tenant's policy. No-op if absent.
	DeleteRiskPolicy(ctx context.Context, tenantID string) error

	// PutRule creates or replaces a rule keyed by (tenant, rule key).
	PutRule(ctx context.Context, tenantID string, rule *guardrail.ComplianceRule) error

	// DeleteRule removes a rule. No-op if absent.
	DeleteRule(ctx context.Context, tenantID, key string) error

	// ListRules returns all of the tenant's rules, enabled or not, ordered
	// by key.
	ListRules(ctx context.Context, tenantID string) ([]*guardrail.ComplianceRule, error)

	// RecordAction appends an executed step to the action log.
	RecordAction(ctx context.Context, tenantID, stepID string, at time.Time) error

	// Cleanup removes action log entries older than the cutoff and returns
	// the number removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases any resources held by the backend.
	Close() error
}

// ActionRecorder records executed steps. Backend implements it.
type ActionRecorder interface {
	RecordAction(ctx context.Context, tenantID, stepID string, at time.Time) error
}

func validateTenant(tenantID string) error {
	if tenantID == "" {
		return errEmptyTenant
	}
	return nil
}
