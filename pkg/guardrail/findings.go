package guardrail

// FindingKind identifies the check that produced a finding.
type FindingKind string

const (
	KindKillSwitch          FindingKind = "kill_switch"
	KindDailyQuota          FindingKind = "daily_quota"
	KindApprovalRequired    FindingKind = "approval_required"
	KindRunRisk             FindingKind = "run_risk"
	KindStepRisk            FindingKind = "step_risk"
	KindProviderScope       FindingKind = "provider_scope"
	KindComplianceViolation FindingKind = "compliance_violation"
	KindRuleEvaluationError FindingKind = "rule_evaluation_error"
	KindCheckError          FindingKind = "check_error"
)

// Finding is one triggered check. Findings are created per evaluation and
// never mutated afterwards.
type Finding struct {
	Kind     FindingKind     `json:"kind"`
	Reason   string          `json:"reason"`
	Severity Severity        `json:"severity"`
	Blocking bool            `json:"blocking"`
	Metadata FindingMetadata `json:"metadata,omitempty"`
}

// FindingMetadata carries the structured details of a finding. The
// concrete type depends on the finding kind.
type FindingMetadata interface {
	findingMetadata()
}

// KillSwitchDetails accompanies kill_switch findings.
type KillSwitchDetails struct {
	TenantID string `json:"tenant_id"`
}

// QuotaDetails accompanies daily_quota findings.
type QuotaDetails struct {
	Count      int    `json:"count"`
	Limit      int    `json:"limit"`
	WindowFrom string `json:"window_from"`
}

// AmountDetails accompanies approval_required findings.
type AmountDetails struct {
	Field                string  `json:"field"`
	Amount               float64 `json:"amount"`
	RequireApprovalAbove float64 `json:"require_approval_above"`
	MaxAllowedAmount     float64 `json:"max_allowed_amount"`
}

// RunRiskDetails accompanies run_risk findings.
type RunRiskDetails struct {
	RunID     string  `json:"run_id"`
	RiskScore float64 `json:"risk_score"`
	Threshold float64 `json:"threshold"`
}

// StepRiskDetails accompanies step_risk findings.
type StepRiskDetails struct {
	StepID    string    `json:"step_id"`
	RiskLevel RiskLevel `json:"risk_level"`
}

// ProviderScopeDetails accompanies provider_scope findings.
type ProviderScopeDetails struct {
	Provider      string   `json:"provider"`
	Action        string   `json:"action"`
	AllowedScopes []string `json:"allowed_scopes"`
}

// ComplianceDetails accompanies compliance_violation findings.
type ComplianceDetails struct {
	RuleKey         string       `json:"rule_key"`
	RuleName        string       `json:"rule_name,omitempty"`
	Jurisdiction    string       `json:"jurisdiction,omitempty"`
	Category        string       `json:"category,omitempty"`
	RuleSeverity    RuleSeverity `json:"rule_severity"`
	AutoRemediation bool         `json:"auto_remediation,omitempty"`
}

// RuleErrorDetails accompanies rule_evaluation_error findings. RuleKey is
// empty when the rule set itself could not be loaded.
type RuleErrorDetails struct {
	RuleKey string `json:"rule_key,omitempty"`
	Error   string `json:"error"`
}

// CheckErrorDetails accompanies check_error findings.
type CheckErrorDetails struct {
	Check string `json:"check"`
	Error string `json:"error"`
}

func (KillSwitchDetails) findingMetadata()    {}
func (QuotaDetails) findingMetadata()         {}
func (AmountDetails) findingMetadata()        {}
func (RunRiskDetails) findingMetadata()       {}
func (StepRiskDetails) findingMetadata()      {}
func (ProviderScopeDetails) findingMetadata() {}
func (ComplianceDetails) findingMetadata()    {}
func (RuleErrorDetails) findingMetadata()     {}
func (CheckErrorDetails) findingMetadata()    {}
