package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// PolicyStore provides tenant risk policies.
type PolicyStore interface {
	// GetRiskPolicy returns the tenant's active policy. A nil policy with a
	// nil error means the tenant has none.
	GetRiskPolicy(ctx context.Context, tenantID string) (*RiskPolicy, error)
}

// RuleStore provides tenant compliance rules.
type RuleStore interface {
	// ListEnabledRules returns the tenant's enabled rules.
	ListEnabledRules(ctx context.Context, tenantID string) ([]*ComplianceRule, error)
}

// ActionCounter counts the actions a tenant has performed.
type ActionCounter interface {
	// CountActions returns the number of actions since the given time.
	CountActions(ctx context.Context, tenantID string, since time.Time) (int, error)
}

// Recorder receives engine measurements. The metrics collector in
// pkg/telemetry/metrics implements it.
type Recorder interface {
	RecordGuardrailEvaluation(decision string, duration time.Duration)
	RecordGuardrailFinding(kind, severity string)
	RecordPolicyFallback(source string)
}

type nopRecorder struct{}

func (nopRecorder) RecordGuardrailEvaluation(string, time.Duration) {}
func (nopRecorder) RecordGuardrailFinding(string, string)           {}
func (nopRecorder) RecordPolicyFallback(string)                     {}

// Engine gates workflow steps against tenant policy and compliance rules.
// It is safe for concurrent use.
type Engine struct {
	config   *EngineConfig
	policies PolicyStore
	rules    RuleStore
	counter  ActionCounter
	recorder Recorder
	logger   *slog.Logger

	// unknownOps holds the rules already reported for unknown operators.
	unknownOps sync.Map
}

// NewEngine creates a guardrail engine.
func NewEngine(config *EngineConfig, policies PolicyStore, rules RuleStore, counter ActionCounter, logger *slog.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultEngineConfig()
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if policies == nil {
		return nil, fmt.Errorf("policy store cannot be nil")
	}
	if rules == nil {
		return nil, fmt.Errorf("rule store cannot be nil")
	}
	if counter == nil {
		return nil, fmt.Errorf("action counter cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		config:   config,
		policies: policies,
		rules:    rules,
		counter:  counter,
		recorder: nopRecorder{},
		logger:   logger.With("component", "guardrail"),
	}, nil
}

// SetRecorder installs a measurement recorder.
func (e *Engine) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	e.recorder = r
}

// Evaluate runs every check against the step and returns the verdict. It
// never fails. A policy store error degrades to the built-in policy, an
// invalid policy is enforced without its invalid entries, and a rule store
// error skips the compliance sweep under the tenant's own policy. All three
// set Verdict.PolicyFallback.
func (e *Engine) Evaluate(ctx context.Context, run *Run, step *Step, data map[string]any) *Verdict {
	start := time.Now()
	now := e.config.Now()

	if run == nil {
		run = &Run{}
	}
	if step == nil {
		step = &Step{}
	}

	policy, fallback := e.loadPolicy(ctx, run.TenantID)
	ruleSet, rulesErr := e.loadRules(ctx, run.TenantID)
	if rulesErr != nil {
		fallback = true
	}

	ev := &evaluation{
		engine: e,
		run:    run,
		step:   step,
		data:   data,
		policy: policy,
		now:    now,
	}

	ev.checkKillSwitch()
	ev.checkDailyQuota(ctx)
	ev.checkValueThreshold()
	ev.checkRunRisk()
	ev.checkStepRisk()
	ev.checkProviderScope()
	if rulesErr != nil {
		ev.add(Finding{
			Kind:     KindRuleEvaluationError,
			Reason:   "compliance rules unavailable; rule sweep skipped",
			Severity: SeverityLow,
			Metadata: RuleErrorDetails{Error: rulesErr.Error()},
		})
	} else {
		ev.checkCompliance(ruleSet)
	}

	verdict := newVerdict(ev.findings, fallback, now)

	e.recorder.RecordGuardrailEvaluation(string(verdict.Decision()), time.Since(start))
	for _, f := range verdict.Findings {
		e.recorder.RecordGuardrailFinding(string(f.Kind), string(f.Severity))
	}

	if verdict.Decision() != DecisionAllow {
		e.logger.Info("step gated",
			"tenant_id", run.TenantID,
			"run_id", run.ID,
			"step_id", step.ID,
			"decision", verdict.Decision(),
			"summary", verdict.Summary,
			"policy_fallback", verdict.PolicyFallback,
		)
	} else {
		e.logger.Debug("step allowed",
			"tenant_id", run.TenantID,
			"run_id", run.ID,
			"step_id", step.ID,
			"findings", len(verdict.Findings),
		)
	}

	return verdict
}

// loadPolicy returns the tenant policy, or the built-in policy when the
// tenant has none or the store fails. An invalid policy is sanitized
// rather than replaced. fallback reports both degraded cases.
func (e *Engine) loadPolicy(ctx context.Context, tenantID string) (*RiskPolicy, bool) {
	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	policy, err := e.policies.GetRiskPolicy(lctx, tenantID)
	if err != nil {
		loadErr := &PolicyLoadError{TenantID: tenantID, Source: "policy", Cause: err}
		e.logger.Warn("falling back to built-in risk policy", "error", loadErr)
		e.recorder.RecordPolicyFallback("policy")
		return DefaultRiskPolicy(), true
	}
	if policy == nil {
		return DefaultRiskPolicy(), false
	}
	if verr := policy.Validate(); verr != nil {
		loadErr := &PolicyLoadError{TenantID: tenantID, Source: "policy", Cause: verr}
		e.logger.Warn("enforcing risk policy without its invalid entries", "error", loadErr)
		e.recorder.RecordPolicyFallback("policy")
		return policy.Sanitized(), true
	}
	return policy, false
}

func (e *Engine) loadRules(ctx context.Context, tenantID string) ([]*ComplianceRule, error) {
	lctx, cancel := e.lookupContext(ctx)
	defer cancel()

	ruleSet, err := e.rules.ListEnabledRules(lctx, tenantID)
	if err != nil {
		loadErr := &PolicyLoadError{TenantID: tenantID, Source: "rules", Cause: err}
		e.logger.Warn("compliance rules unavailable, skipping compliance sweep", "error", loadErr)
		e.recorder.RecordPolicyFallback("rules")
		return nil, loadErr
	}
	return ruleSet, nil
}

// warnUnknownOperators logs a rule's unknown operators the first time
// the engine sees that combination.
func (e *Engine) warnUnknownOperators(tenantID string, rule *ComplianceRule, unknown []string) {
	key := tenantID + "\x00" + rule.Key + "\x00" + strings.Join(unknown, ",")
	if _, seen := e.unknownOps.LoadOrStore(key, struct{}{}); seen {
		return
	}
	e.logger.Warn("compliance rule uses unknown operators; those nodes evaluate to false",
		"tenant_id", tenantID,
		"rule_key", rule.Key,
		"operators", unknown,
	)
}

func (e *Engine) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.LoadTimeout > 0 {
		return context.WithTimeout(ctx, e.config.LoadTimeout)
	}
	return context.WithCancel(ctx)
}
