package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mercator-hq/stepguard/pkg/resilience/breaker"
	"mercator-hq/stepguard/pkg/resilience/retry"
	"mercator-hq/stepguard/pkg/resilience/timeout"
)

// Scope selects what the timeout bound covers.
type Scope string

const (
	// ScopeTotal bounds the whole retry budget:
	// Timeout(Retry(Breaker(op))).
	ScopeTotal Scope = "total"

	// ScopePerAttempt bounds each attempt separately:
	// Retry(Timeout(Breaker(op))).
	ScopePerAttempt Scope = "per_attempt"
)

// IsValid reports whether s is a known scope.
func (s Scope) IsValid() bool {
	return s == ScopeTotal || s == ScopePerAttempt
}

// Pipeline protects calls to one dependency with a timeout, retries and a
// circuit breaker, nested outermost to innermost in that order.
type Pipeline struct {
	// Name is the dependency name.
	Name string

	// Breaker guards the dependency. Nil disables it.
	Breaker *breaker.Breaker

	// Retry is the retry policy. Breaker rejections are never retried.
	Retry retry.Policy

	// Timeout is the bound. Zero disables it.
	Timeout time.Duration

	// Scope selects what Timeout covers.
	// Default: ScopeTotal.
	Scope Scope

	// TimeoutRecorder receives timeouts. Optional.
	TimeoutRecorder timeout.Recorder
}

// Validate checks the pipeline settings.
func (p *Pipeline) Validate() error {
	if p.Scope != "" && !p.Scope.IsValid() {
		return fmt.Errorf("invalid timeout scope %q", p.Scope)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %s", p.Timeout)
	}
	return p.Retry.Validate()
}

// Execute runs fn through the pipeline.
func (p *Pipeline) Execute(ctx context.Context, fn func(context.Context) error) error {
	policy := p.Retry
	if policy.Name == "" {
		policy.Name = p.Name
	}
	base := policy.Classifier
	if base == nil {
		base = retry.DefaultClassifier
	}
	policy.Classifier = func(err error) bool {
		if errors.Is(err, breaker.ErrOpen) {
			return false
		}
		return base(err)
	}

	guarded := fn
	if p.Breaker != nil {
		guarded = func(ctx context.Context) error {
			return p.Breaker.Execute(ctx, fn)
		}
	}

	bound := timeout.Wrapper{Name: p.Name, Bound: p.Timeout, Recorder: p.TimeoutRecorder}

	if p.Scope == ScopePerAttempt {
		return retry.Do(ctx, policy, func(ctx context.Context) error {
			return bound.Do(ctx, guarded)
		})
	}
	return bound.Do(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, policy, guarded)
	})
}

// Call runs fn through the pipeline and returns its value.
func Call[T any](ctx context.Context, p *Pipeline, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := p.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// WorstCaseLatency returns the longest a call can take before the caller
// sees a result, ignoring server Retry-After hints. Zero means unbounded.
//
// With ScopeTotal it is the timeout. With ScopePerAttempt it is
// MaxAttempts·Timeout plus the largest possible sum of backoff delays.
func (p *Pipeline) WorstCaseLatency() time.Duration {
	if p.Timeout <= 0 {
		return 0
	}
	if p.Scope != ScopePerAttempt {
		return p.Timeout
	}

	attempts := p.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = retry.DefaultPolicy().MaxAttempts
	}
	return time.Duration(attempts)*p.Timeout + p.Retry.MaxTotalDelay()
}
