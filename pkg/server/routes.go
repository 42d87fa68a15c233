package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mercator-hq/stepguard/pkg/guardrail"
	"mercator-hq/stepguard/pkg/idempotency"
	"mercator-hq/stepguard/pkg/resilience/breaker"
	"mercator-hq/stepguard/pkg/telemetry/health"
	"mercator-hq/stepguard/pkg/telemetry/logging"
	"mercator-hq/stepguard/pkg/telemetry/tracing"
)

// maxRequestBody bounds request bodies on POST routes.
const maxRequestBody = 1 << 20

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(requestID)
	if s.deps.Tracer != nil {
		r.Use(tracing.Middleware(s.deps.Tracer, routeName))
	}
	r.Use(s.requestLogger)

	r.Get("/healthz", s.deps.Health.LivenessHandler())
	r.Get("/readyz", s.deps.Health.ReadinessHandler())
	r.Get("/version", health.VersionHandler(s.deps.Version))

	r.Route("/breakers", func(r chi.Router) {
		r.Get("/", s.listBreakers)
		r.Post("/reset", s.resetAllBreakers)
		r.Get("/{name}", s.getBreaker)
		r.Post("/{name}/reset", s.resetBreaker)
	})

	if s.deps.Evaluator != nil {
		r.Post("/v1/evaluate", s.evaluate)
	}
	if s.deps.Runs != nil {
		r.Post("/v1/runs", s.startRun)
	}
	if s.deps.Metrics != nil {
		path := s.deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, s.deps.Metrics)
	}
	return r
}

// routeName names spans after the matched route pattern so breaker names
// do not end up in span names.
func routeName(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return ""
	}
	return r.Method + " " + rctx.RoutePattern()
}

func (s *Server) listBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"breakers": s.deps.Breakers.Statuses()})
}

func (s *Server) getBreaker(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Breakers.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		s.writeBreakerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b.Status())
}

func (s *Server) resetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.deps.Breakers.Reset(name); err != nil {
		s.writeBreakerError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "breaker reset by operator", "dependency", name)

	b, _ := s.deps.Breakers.Lookup(name)
	writeJSON(w, http.StatusOK, b.Status())
}

func (s *Server) resetAllBreakers(w http.ResponseWriter, r *http.Request) {
	s.deps.Breakers.ResetAll()
	s.logger.InfoContext(r.Context(), "all breakers reset by operator")
	writeJSON(w, http.StatusOK, map[string]any{"breakers": s.deps.Breakers.Statuses()})
}

func (s *Server) writeBreakerError(w http.ResponseWriter, err error) {
	if errors.Is(err, breaker.ErrUnknownBreaker) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// evaluateRequest is the body of POST /v1/evaluate.
type evaluateRequest struct {
	Run  *guardrail.Run  `json:"run"`
	Step *guardrail.Step `json:"step"`
	Data map[string]any  `json:"data,omitempty"`
}

// evaluateResponse wraps a verdict with its decision.
type evaluateResponse struct {
	Decision guardrail.Decision `json:"decision"`
	*guardrail.Verdict
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Run == nil || req.Step == nil {
		writeError(w, http.StatusBadRequest, "run and step are required")
		return
	}
	if req.Run.TenantID == "" {
		writeError(w, http.StatusBadRequest, "run.tenant_id is required")
		return
	}

	ctx := logging.WithTenant(r.Context(), req.Run.TenantID)
	ctx = logging.WithRun(ctx, req.Run.ID)
	ctx = logging.WithStep(ctx, req.Step.ID)

	verdict := s.deps.Evaluator.Evaluate(ctx, req.Run, req.Step, req.Data)
	writeJSON(w, http.StatusOK, evaluateResponse{Decision: verdict.Decision(), Verdict: verdict})
}

// IdempotencyKeyHeader carries the caller's idempotency key.
const IdempotencyKeyHeader = "Idempotency-Key"

// startRunRequest is the body of POST /v1/runs.
type startRunRequest struct {
	TenantID   string `json:"tenant_id"`
	WorkflowID string `json:"workflow_id"`
	Input      any    `json:"input,omitempty"`
}

// startRunResponse reports the run bound to the idempotency key.
type startRunResponse struct {
	RunID          string    `json:"run_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Created        bool      `json:"created"`
	CreatedAt      time.Time `json:"created_at"`
}

// startRun creates a run once per Idempotency-Key. Without the header a
// fresh key is derived and returned so the caller can retry with it.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TenantID == "" || req.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and workflow_id are required")
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		key = idempotency.DeriveKey(req.TenantID, req)
	}
	ctx := logging.WithTenant(r.Context(), req.TenantID)

	rec, created, err := s.deps.Runs.StartRun(ctx, req.TenantID, key, func(ctx context.Context) (string, error) {
		runID := "run_" + uuid.NewString()
		s.logger.InfoContext(ctx, "run created", "run_id", runID, "workflow_id", req.WorkflowID)
		return runID, nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to start run", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, startRunResponse{
		RunID:          rec.ResultRef,
		IdempotencyKey: rec.Key,
		Created:        created,
		CreatedAt:      rec.CreatedAt,
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
