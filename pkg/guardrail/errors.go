package guardrail

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	// ErrInvalidConfig indicates invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid guardrail configuration")

	// ErrPolicyNotFound is returned by stores that distinguish a missing
	// policy from a nil result.
	ErrPolicyNotFound = errors.New("risk policy not found")
)

// PolicyLoadError indicates the tenant policy or rule set could not be
// loaded. The engine recovers from it by using DefaultRiskPolicy.
type PolicyLoadError struct {
	TenantID string
	// Source is "policy" or "rules".
	Source string
	Cause  error
}

// Error returns the error message.
func (e *PolicyLoadError) Error() string {
	return fmt.Sprintf("tenant %s: failed to load %s: %v", e.TenantID, e.Source, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *PolicyLoadError) Unwrap() error {
	return e.Cause
}

// RuleEvaluationError indicates a single compliance rule could not be
// evaluated. The rule is treated as not violated.
type RuleEvaluationError struct {
	RuleKey string
	Cause   error
}

// Error returns the error message.
func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: evaluation failed: %v", e.RuleKey, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *RuleEvaluationError) Unwrap() error {
	return e.Cause
}
