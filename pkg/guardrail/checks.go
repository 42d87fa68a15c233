package guardrail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mercator-hq/stepguard/pkg/rules"
)

// evaluation holds the state of one Evaluate call. Checks append findings
// in their fixed order.
type evaluation struct {
	engine *Engine
	run    *Run
	step   *Step
	data   map[string]any
	policy *RiskPolicy
	now    time.Time

	findings []Finding

	ruleCtx    *rules.Context
	ruleCtxErr error
	ruleCtxSet bool
}

func (ev *evaluation) add(f Finding) {
	ev.findings = append(ev.findings, f)
}

// context returns the rule evaluation context: the caller's data with the
// step under "step".
func (ev *evaluation) context() (*rules.Context, error) {
	if ev.ruleCtxSet {
		return ev.ruleCtx, ev.ruleCtxErr
	}
	ev.ruleCtxSet = true

	merged := make(map[string]any, len(ev.data)+1)
	for k, v := range ev.data {
		merged[k] = v
	}
	merged["step"] = ev.step

	ev.ruleCtx, ev.ruleCtxErr = rules.NewContext(merged)
	return ev.ruleCtx, ev.ruleCtxErr
}

func (ev *evaluation) checkKillSwitch() {
	if !ev.policy.KillSwitch {
		return
	}
	ev.add(Finding{
		Kind:     KindKillSwitch,
		Reason:   "tenant kill switch is engaged",
		Severity: SeverityCritical,
		Blocking: true,
		Metadata: KillSwitchDetails{TenantID: ev.run.TenantID},
	})
}

func (ev *evaluation) checkDailyQuota(ctx context.Context) {
	limit := ev.policy.MaxDailyActions
	if limit <= 0 {
		return
	}

	local := ev.now.In(ev.engine.config.Location)
	since := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, ev.engine.config.Location)

	lctx, cancel := ev.engine.lookupContext(ctx)
	defer cancel()

	count, err := ev.engine.counter.CountActions(lctx, ev.run.TenantID, since)
	if err != nil {
		ev.engine.logger.Warn("daily quota check skipped", "tenant_id", ev.run.TenantID, "error", err)
		ev.add(Finding{
			Kind:     KindCheckError,
			Reason:   "daily action count unavailable; quota not enforced",
			Severity: SeverityLow,
			Metadata: CheckErrorDetails{Check: string(KindDailyQuota), Error: err.Error()},
		})
		return
	}

	if count < limit {
		return
	}
	ev.add(Finding{
		Kind:     KindDailyQuota,
		Reason:   fmt.Sprintf("daily action quota reached (%d/%d)", count, limit),
		Severity: SeverityHigh,
		Blocking: true,
		Metadata: QuotaDetails{Count: count, Limit: limit, WindowFrom: since.Format(time.RFC3339)},
	})
}

func (ev *evaluation) checkValueThreshold() {
	field := ev.step.AmountField
	if field == "" {
		return
	}

	rc, err := ev.context()
	if err != nil {
		ev.add(Finding{
			Kind:     KindCheckError,
			Reason:   "step context could not be encoded; value threshold not enforced",
			Severity: SeverityLow,
			Metadata: CheckErrorDetails{Check: string(KindApprovalRequired), Error: err.Error()},
		})
		return
	}

	amount, ok := rc.ResolveNumber(field)
	if !ok {
		return
	}

	if amount <= ev.policy.RequireApprovalAbove {
		return
	}

	details := AmountDetails{
		Field:                field,
		Amount:               amount,
		RequireApprovalAbove: ev.policy.RequireApprovalAbove,
		MaxAllowedAmount:     ev.policy.MaxAllowedAmount,
	}

	if ev.policy.MaxAllowedAmount > 0 && amount > ev.policy.MaxAllowedAmount {
		ev.add(Finding{
			Kind:     KindApprovalRequired,
			Reason:   fmt.Sprintf("amount %.2f exceeds maximum allowed %.2f", amount, ev.policy.MaxAllowedAmount),
			Severity: SeverityCritical,
			Blocking: true,
			Metadata: details,
		})
	} else {
		ev.add(Finding{
			Kind:     KindApprovalRequired,
			Reason:   fmt.Sprintf("amount %.2f exceeds approval threshold %.2f", amount, ev.policy.RequireApprovalAbove),
			Severity: SeverityHigh,
			Metadata: details,
		})
	}
}

func (ev *evaluation) checkRunRisk() {
	score := ev.run.RiskScore
	cfg := ev.engine.config

	switch {
	case score >= cfg.RunRiskBlockThreshold:
		ev.add(Finding{
			Kind:     KindRunRisk,
			Reason:   fmt.Sprintf("run risk score %.0f is at or above %.0f", score, cfg.RunRiskBlockThreshold),
			Severity: SeverityCritical,
			Blocking: true,
			Metadata: RunRiskDetails{RunID: ev.run.ID, RiskScore: score, Threshold: cfg.RunRiskBlockThreshold},
		})
	case score >= cfg.RunRiskApprovalThreshold:
		ev.add(Finding{
			Kind:     KindRunRisk,
			Reason:   fmt.Sprintf("run risk score %.0f is elevated", score),
			Severity: SeverityHigh,
			Metadata: RunRiskDetails{RunID: ev.run.ID, RiskScore: score, Threshold: cfg.RunRiskApprovalThreshold},
		})
	}
}

func (ev *evaluation) checkStepRisk() {
	level := RiskLevel(strings.ToLower(string(ev.step.RiskLevel)))
	details := StepRiskDetails{StepID: ev.step.ID, RiskLevel: level}

	switch {
	case level == RiskCritical && ev.policy.BlockHighRiskSteps:
		ev.add(Finding{
			Kind:     KindStepRisk,
			Reason:   "critical-risk steps are blocked by policy",
			Severity: SeverityCritical,
			Blocking: true,
			Metadata: details,
		})
	case level == RiskHigh || level == RiskCritical:
		ev.add(Finding{
			Kind:     KindStepRisk,
			Reason:   fmt.Sprintf("step risk level is %s", level),
			Severity: SeverityHigh,
			Metadata: details,
		})
	}
}

func (ev *evaluation) checkProviderScope() {
	provider := ev.step.Provider
	if provider == "" {
		return
	}
	scopes, listed := ev.policy.AllowedProviderScopes[provider]
	if !listed {
		return
	}

	for _, scope := range scopes {
		if strings.HasPrefix(ev.step.Action, scope) {
			return
		}
	}

	ev.add(Finding{
		Kind:     KindProviderScope,
		Reason:   fmt.Sprintf("action %q is outside the allowed scopes for %s", ev.step.Action, provider),
		Severity: SeverityCritical,
		Blocking: true,
		Metadata: ProviderScopeDetails{
			Provider:      provider,
			Action:        ev.step.Action,
			AllowedScopes: append([]string(nil), scopes...),
		},
	})
}

func (ev *evaluation) checkCompliance(ruleSet []*ComplianceRule) {
	if len(ruleSet) == 0 {
		return
	}

	rc, err := ev.context()
	if err != nil {
		ev.add(Finding{
			Kind:     KindRuleEvaluationError,
			Reason:   "step context could not be encoded; rule sweep skipped",
			Severity: SeverityLow,
			Metadata: RuleErrorDetails{Error: err.Error()},
		})
		return
	}

	for _, rule := range ruleSet {
		if rule == nil || !rule.Enabled {
			continue
		}

		violated, err := ev.evaluateRule(rc, rule)
		if err != nil {
			ruleErr := &RuleEvaluationError{RuleKey: rule.Key, Cause: err}
			ev.engine.logger.Warn("compliance rule failed to evaluate",
				"tenant_id", ev.run.TenantID,
				"rule_key", rule.Key,
				"error", ruleErr,
			)
			ev.add(Finding{
				Kind:     KindRuleEvaluationError,
				Reason:   fmt.Sprintf("rule %s could not be evaluated", rule.Key),
				Severity: SeverityLow,
				Metadata: RuleErrorDetails{RuleKey: rule.Key, Error: err.Error()},
			})
			continue
		}
		if !violated {
			continue
		}

		severity := rule.Severity.FindingSeverity()
		name := rule.Name
		if name == "" {
			name = rule.Key
		}
		ev.add(Finding{
			Kind:     KindComplianceViolation,
			Reason:   fmt.Sprintf("compliance rule violated: %s", name),
			Severity: severity,
			Blocking: severity == SeverityHigh || severity == SeverityCritical,
			Metadata: ComplianceDetails{
				RuleKey:         rule.Key,
				RuleName:        rule.Name,
				Jurisdiction:    rule.Jurisdiction,
				Category:        rule.Category,
				RuleSeverity:    rule.Severity,
				AutoRemediation: rule.AutoRemediation,
			},
		})
	}
}

// evaluateRule evaluates one rule, converting panics into errors.
func (ev *evaluation) evaluateRule(rc *rules.Context, rule *ComplianceRule) (violated bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			violated = false
			err = fmt.Errorf("panic during evaluation: %v", r)
		}
	}()

	logic, err := ruleLogic(rule.Logic)
	if err != nil {
		return false, err
	}

	if unknown := rules.UnknownOperators(logic); len(unknown) > 0 {
		ev.engine.warnUnknownOperators(ev.run.TenantID, rule, unknown)
	}

	return rc.Eval(logic)
}

// ruleLogic accepts a decoded tree, a parsed expression, or JSON text.
func ruleLogic(logic any) (any, error) {
	switch l := logic.(type) {
	case nil:
		return nil, fmt.Errorf("rule has no logic expression")
	case string:
		expr, err := rules.Parse([]byte(l))
		if err != nil {
			return nil, err
		}
		return expr, nil
	case []byte:
		expr, err := rules.Parse(l)
		if err != nil {
			return nil, err
		}
		return expr, nil
	default:
		return l, nil
	}
}
