package guardrail

import (
	"fmt"
	"strings"
	"time"
)

// RiskPolicy is a tenant's guardrail configuration. One active record
// exists per tenant; the engine only reads it.
type RiskPolicy struct {
	// TenantID identifies the owning tenant.
	TenantID string `json:"tenant_id" yaml:"tenant_id"`

	// KillSwitch blocks every step for the tenant when set.
	KillSwitch bool `json:"kill_switch" yaml:"kill_switch"`

	// MaxDailyActions is the per-day action quota. Zero or negative
	// disables the quota check.
	MaxDailyActions int `json:"max_daily_actions" yaml:"max_daily_actions"`

	// RequireApprovalAbove is the amount above which a step needs approval.
	RequireApprovalAbove float64 `json:"require_approval_above" yaml:"require_approval_above"`

	// MaxAllowedAmount is the amount above which a step is blocked outright.
	MaxAllowedAmount float64 `json:"max_allowed_amount" yaml:"max_allowed_amount"`

	// BlockHighRiskSteps blocks steps whose risk level is critical.
	BlockHighRiskSteps bool `json:"block_high_risk_steps" yaml:"block_high_risk_steps"`

	// AllowedProviderScopes maps a provider to the action prefixes it may
	// perform. Providers not listed are unrestricted.
	AllowedProviderScopes map[string][]string `json:"allowed_provider_scopes,omitempty" yaml:"allowed_provider_scopes,omitempty"`
}

// DefaultRiskPolicy returns the conservative built-in policy used when a
// tenant has none or when the policy store is unavailable.
func DefaultRiskPolicy() *RiskPolicy {
	return &RiskPolicy{
		KillSwitch:           false,
		MaxDailyActions:      500,
		RequireApprovalAbove: 1000,
		MaxAllowedAmount:     10000,
		BlockHighRiskSteps:   true,
	}
}

// Validate checks the policy for values the engine cannot act on.
func (p *RiskPolicy) Validate() error {
	if p.RequireApprovalAbove < 0 {
		return fmt.Errorf("require_approval_above must be non-negative, got %v", p.RequireApprovalAbove)
	}
	if p.MaxAllowedAmount < 0 {
		return fmt.Errorf("max_allowed_amount must be non-negative, got %v", p.MaxAllowedAmount)
	}
	for provider, scopes := range p.AllowedProviderScopes {
		if strings.TrimSpace(provider) == "" {
			return fmt.Errorf("allowed_provider_scopes contains an empty provider name")
		}
		for _, scope := range scopes {
			if scope == "" {
				return fmt.Errorf("provider %q has an empty scope prefix", provider)
			}
		}
	}
	return nil
}

// Sanitized returns a copy of p with the entries Validate rejects
// removed. Negative thresholds take the built-in values, empty provider
// names and scope prefixes are dropped. A provider left without prefixes
// stays listed, so none of its actions are in scope. The kill switch and
// every valid limit are kept.
func (p *RiskPolicy) Sanitized() *RiskPolicy {
	out := *p
	builtin := DefaultRiskPolicy()
	if out.RequireApprovalAbove < 0 {
		out.RequireApprovalAbove = builtin.RequireApprovalAbove
	}
	if out.MaxAllowedAmount < 0 {
		out.MaxAllowedAmount = builtin.MaxAllowedAmount
	}
	if p.AllowedProviderScopes != nil {
		out.AllowedProviderScopes = make(map[string][]string, len(p.AllowedProviderScopes))
		for provider, scopes := range p.AllowedProviderScopes {
			if strings.TrimSpace(provider) == "" {
				continue
			}
			kept := make([]string, 0, len(scopes))
			for _, scope := range scopes {
				if scope != "" {
					kept = append(kept, scope)
				}
			}
			out.AllowedProviderScopes[provider] = kept
		}
	}
	return &out
}

// RuleSeverity is the severity a compliance rule is authored with.
type RuleSeverity string

const (
	RuleSeverityAdvisory RuleSeverity = "advisory"
	RuleSeverityWarning  RuleSeverity = "warning"
	RuleSeverityError    RuleSeverity = "error"
	RuleSeverityCritical RuleSeverity = "critical"
)

// FindingSeverity maps a rule severity to the severity of the finding it
// produces. Unknown values map to low.
func (s RuleSeverity) FindingSeverity() Severity {
	switch s {
	case RuleSeverityWarning:
		return SeverityMedium
	case RuleSeverityError:
		return SeverityHigh
	case RuleSeverityCritical:
		return SeverityCritical
	default:
		return SeverityLow
	}
}

// IsValid reports whether s is a known rule severity.
func (s RuleSeverity) IsValid() bool {
	switch s {
	case RuleSeverityAdvisory, RuleSeverityWarning, RuleSeverityError, RuleSeverityCritical:
		return true
	}
	return false
}

// ComplianceRule is a tenant compliance check expressed as a rule
// expression. A rule whose logic evaluates to true is violated.
type ComplianceRule struct {
	Key             string       `json:"key" yaml:"key"`
	Name            string       `json:"name" yaml:"name"`
	Jurisdiction    string       `json:"jurisdiction,omitempty" yaml:"jurisdiction,omitempty"`
	Category        string       `json:"category,omitempty" yaml:"category,omitempty"`
	Enabled         bool         `json:"enabled" yaml:"enabled"`
	Severity        RuleSeverity `json:"severity" yaml:"severity"`
	Logic           any          `json:"logic" yaml:"logic"`
	AutoRemediation bool         `json:"auto_remediation,omitempty" yaml:"auto_remediation,omitempty"`
}

// Run is the workflow run a step belongs to.
type Run struct {
	ID         string  `json:"id"`
	TenantID   string  `json:"tenant_id"`
	WorkflowID string  `json:"workflow_id,omitempty"`
	RiskScore  float64 `json:"risk_score"`
	Status     string  `json:"status,omitempty"`
}

// RiskLevel is the declared risk of a step.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskNormal   RiskLevel = "normal"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Step is the unit of work being gated.
type Step struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider,omitempty"`
	Action    string    `json:"action,omitempty"`
	RiskLevel RiskLevel `json:"risk_level,omitempty"`

	// AmountField is the dotted path to the step's monetary value in the
	// evaluation context.
	AmountField string `json:"amount_field,omitempty"`
}

// Severity is the severity of a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Decision is the overall outcome of a verdict.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionRequireApproval Decision = "require_approval"
	DecisionBlock           Decision = "block"
)

// Verdict is the result of gating one step.
type Verdict struct {
	Blocked          bool      `json:"blocked"`
	RequiresApproval bool      `json:"requires_approval"`
	Findings         []Finding `json:"findings"`
	Summary          string    `json:"summary"`

	// PolicyFallback is set when the tenant policy or rules could not be
	// loaded and the built-in policy was used instead.
	PolicyFallback bool      `json:"policy_fallback,omitempty"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// Decision returns the verdict's decision. Blocking dominates approval.
func (v *Verdict) Decision() Decision {
	switch {
	case v.Blocked:
		return DecisionBlock
	case v.RequiresApproval:
		return DecisionRequireApproval
	default:
		return DecisionAllow
	}
}

// newVerdict derives the verdict flags and summary from findings.
func newVerdict(findings []Finding, fallback bool, at time.Time) *Verdict {
	v := &Verdict{
		Findings:       findings,
		PolicyFallback: fallback,
		EvaluatedAt:    at,
	}
	if v.Findings == nil {
		v.Findings = []Finding{}
	}

	var blocking, approvals, advisory int
	for _, f := range findings {
		isBlocking := f.Blocking || f.Severity == SeverityCritical
		needsApproval := f.Kind == KindApprovalRequired || f.Severity == SeverityHigh

		if isBlocking {
			v.Blocked = true
		}
		if needsApproval {
			v.RequiresApproval = true
		}

		switch {
		case isBlocking:
			blocking++
		case needsApproval:
			approvals++
		default:
			advisory++
		}
	}

	v.Summary = summarize(blocking, approvals, advisory)
	return v
}

func summarize(blocking, approvals, advisory int) string {
	var parts []string
	if blocking > 0 {
		parts = append(parts, fmt.Sprintf("%d blocking issue(s)", blocking))
	}
	if approvals > 0 {
		parts = append(parts, fmt.Sprintf("%d approval(s) required", approvals))
	}
	if advisory > 0 {
		parts = append(parts, fmt.Sprintf("%d advisory finding(s)", advisory))
	}
	if len(parts) == 0 {
		return "no issues found"
	}
	return strings.Join(parts, ", ")
}
