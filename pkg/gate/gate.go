package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/stepguard/pkg/guardrail"
	"mercator-hq/stepguard/pkg/idempotency"
	"mercator-hq/stepguard/pkg/resilience"
	"mercator-hq/stepguard/pkg/telemetry/tracing"
)

// DefaultDependency is the pipeline used for steps without a provider.
const DefaultDependency = "default"

// Status is the outcome of executing one step.
type Status string

const (
	// StatusHalted means the guardrail blocked the step and the run stops.
	StatusHalted Status = "halted"

	// StatusAwaitingApproval means the step needs a human decision first.
	StatusAwaitingApproval Status = "awaiting_approval"

	// StatusCompleted means the operation ran and succeeded.
	StatusCompleted Status = "completed"

	// StatusFailed means the operation ran and failed.
	StatusFailed Status = "failed"
)

// Operation is the provider call a step performs.
type Operation func(ctx context.Context) (any, error)

// Evaluator decides whether a step may run.
type Evaluator interface {
	Evaluate(ctx context.Context, run *guardrail.Run, step *guardrail.Step, data map[string]any) *guardrail.Verdict
}

// ActionRecorder appends to the tenant action log used by the daily quota.
type ActionRecorder interface {
	RecordAction(ctx context.Context, tenantID, stepID string, at time.Time) error
}

// Outcome is the result of ExecuteStep.
type Outcome struct {
	Status   Status             `json:"status"`
	Summary  string             `json:"summary"`
	Verdict  *guardrail.Verdict `json:"verdict"`
	Result   any                `json:"result,omitempty"`
	Err      error              `json:"-"`
	Error    string             `json:"error,omitempty"`
	Duration time.Duration      `json:"duration"`
}

// Deps are the collaborators of a Gate. Evaluator and Resilience are
// required; a nil Idempotency disables StartRun, a nil Actions skips
// action recording and a nil Tracer records no spans.
type Deps struct {
	Evaluator   Evaluator
	Resilience  *resilience.Set
	Idempotency *idempotency.Controller
	Actions     ActionRecorder
	Tracer      trace.Tracer
}

// Gate connects the guardrail engine and the resilience layer to the step
// execution loop.
type Gate struct {
	evaluator   Evaluator
	resilience  *resilience.Set
	idempotency *idempotency.Controller
	actions     ActionRecorder
	tracer      trace.Tracer
	now         func() time.Time
	logger      *slog.Logger
}

// New creates a gate.
func New(deps Deps, logger *slog.Logger) (*Gate, error) {
	if deps.Evaluator == nil {
		return nil, errors.New("gate: evaluator is required")
	}
	if deps.Resilience == nil {
		return nil, errors.New("gate: resilience set is required")
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		evaluator:   deps.Evaluator,
		resilience:  deps.Resilience,
		idempotency: deps.Idempotency,
		actions:     deps.Actions,
		tracer:      deps.Tracer,
		now:         time.Now,
		logger:      logger.With("component", "gate"),
	}, nil
}

// ExecuteStep gates step and, when allowed, runs op through the pipeline
// of the step's provider. A blocked step halts the run and a step that
// needs approval is paused; op is not invoked for either. The returned
// error is non-nil only for invalid arguments; a failing op yields a
// failed outcome.
func (g *Gate) ExecuteStep(ctx context.Context, run *guardrail.Run, step *guardrail.Step, data map[string]any, op Operation) (*Outcome, error) {
	if run == nil || step == nil {
		return nil, ErrInvalidStep
	}
	if op == nil {
		return nil, fmt.Errorf("%w: nil operation", ErrInvalidStep)
	}

	ctx, span := g.tracer.Start(ctx, "gate.execute_step",
		trace.WithAttributes(tracing.StepAttributes(run.TenantID, run.ID, step.ID, step.Provider, step.Action)...))
	defer span.End()

	start := g.now()
	verdict := g.evaluate(ctx, run, step, data)
	out := &Outcome{Verdict: verdict, Summary: verdict.Summary}
	defer func() { span.SetAttributes(attribute.String(tracing.AttrStatus, string(out.Status))) }()

	log := g.logger.With("tenant_id", run.TenantID, "run_id", run.ID, "step_id", step.ID)

	switch verdict.Decision() {
	case guardrail.DecisionBlock:
		out.Status = StatusHalted
		log.Info("step blocked, halting run", "summary", verdict.Summary)
		return out, nil
	case guardrail.DecisionRequireApproval:
		out.Status = StatusAwaitingApproval
		log.Info("step awaiting approval", "summary", verdict.Summary)
		return out, nil
	}

	dependency := step.Provider
	if dependency == "" {
		dependency = DefaultDependency
	}
	result, err := g.call(ctx, dependency, op)
	out.Duration = g.now().Sub(start)

	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		out.Error = err.Error()
		log.Warn("step failed", "dependency", dependency, "error", err, "duration", out.Duration)
		return out, nil
	}

	out.Status = StatusCompleted
	out.Result = result
	if g.actions != nil {
		if err := g.actions.RecordAction(ctx, run.TenantID, step.ID, g.now()); err != nil {
			log.Error("failed to record action", "error", err)
		}
	}
	log.Debug("step completed", "dependency", dependency, "duration", out.Duration)
	return out, nil
}

func (g *Gate) evaluate(ctx context.Context, run *guardrail.Run, step *guardrail.Step, data map[string]any) *guardrail.Verdict {
	ctx, span := g.tracer.Start(ctx, "guardrail.evaluate")
	defer span.End()

	verdict := g.evaluator.Evaluate(ctx, run, step, data)
	tracing.SetVerdictAttributes(span, string(verdict.Decision()), len(verdict.Findings), verdict.PolicyFallback)
	return verdict
}

// call runs op through the pipeline of dependency.
func (g *Gate) call(ctx context.Context, dependency string, op Operation) (any, error) {
	ctx, span := g.tracer.Start(ctx, "resilience.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(tracing.AttrDependency, dependency)))
	defer span.End()

	result, err := resilience.Call(ctx, g.resilience.Pipeline(dependency), func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	tracing.RecordError(span, err)
	return result, err
}

// StartRun creates a run at most once per (tenant, key). create is called
// only when no record exists; concurrent callers with the same key share
// one call. created reports whether this call created the run.
func (g *Gate) StartRun(ctx context.Context, tenantID, key string, create func(ctx context.Context) (string, error)) (*idempotency.Record, bool, error) {
	if g.idempotency == nil {
		return nil, false, ErrNoIdempotency
	}
	if tenantID == "" {
		return nil, false, fmt.Errorf("%w: tenant is required", ErrInvalidStep)
	}

	ctx, span := g.tracer.Start(ctx, "gate.start_run",
		trace.WithAttributes(attribute.String(tracing.AttrTenantID, tenantID)))
	defer span.End()

	rec, created, err := g.idempotency.ForScope(tenantID).EnsureIdempotent(ctx, key, create)
	span.SetAttributes(attribute.Bool(tracing.AttrIdempotencyCreated, created))
	tracing.RecordError(span, err)
	return rec, created, err
}
