// Package gate is the entry point the step execution loop calls for every
// step.
//
// ExecuteStep asks the guardrail engine for a verdict first. A blocked step
// halts the run with the verdict summary, a step that needs approval is
// paused, and an allowed step runs through the resilience pipeline of its
// provider:
//
//	out, err := g.ExecuteStep(ctx, run, step, data, func(ctx context.Context) (any, error) {
//	    return client.Charge(ctx, req)
//	})
//	switch out.Status {
//	case gate.StatusHalted:
//	    // stop the run, show out.Summary
//	case gate.StatusAwaitingApproval:
//	    // pause until approved
//	}
//
// Completed steps are appended to the tenant action log so the daily quota
// sees them. StartRun guards run creation with the idempotency controller,
// scoped by tenant.
package gate
