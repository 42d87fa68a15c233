// Package guardrail decides whether a workflow step may run.
//
// The Engine combines a tenant's RiskPolicy, the step's declared attributes
// and the tenant's enabled ComplianceRules into a single Verdict. Every
// check runs on every evaluation so the finding list is complete for
// auditing:
//
//  1. kill switch
//  2. daily action quota
//  3. value threshold (amount needing approval or exceeding the cap)
//  4. run risk score
//  5. step risk level
//  6. provider scope
//  7. compliance rule sweep (see pkg/rules)
//
// Findings appear in this order. A verdict is blocked when any finding is
// blocking or critical, and requires approval when any finding is of kind
// approval_required or has high severity. Blocking dominates approval in
// Verdict.Decision.
//
// # Failure handling
//
// Evaluate has no error return. If the policy or rule store fails, the
// engine logs the failure, uses DefaultRiskPolicy and sets
// Verdict.PolicyFallback. A rule that cannot be evaluated is treated as not
// violated and reported as a low-severity rule_evaluation_error finding.
//
// # Usage
//
//	engine, err := guardrail.NewEngine(nil, store, store, store, logger)
//	if err != nil {
//	    return err
//	}
//	verdict := engine.Evaluate(ctx, run, step, data)
//	switch verdict.Decision() {
//	case guardrail.DecisionBlock:
//	    // halt the run with verdict.Summary
//	case guardrail.DecisionRequireApproval:
//	    // pause for approval
//	}
package guardrail
