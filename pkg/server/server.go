package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/stepguard/pkg/config"
	"mercator-hq/stepguard/pkg/gate"
	"mercator-hq/stepguard/pkg/idempotency"
	"mercator-hq/stepguard/pkg/resilience/breaker"
	"mercator-hq/stepguard/pkg/telemetry/health"
	"mercator-hq/stepguard/pkg/telemetry/tracing"
)

// Deps are the collaborators exposed over HTTP. Breakers is required;
// the rest are optional and their routes are omitted when nil.
type Deps struct {
	// Breakers backs the breaker status and reset routes.
	Breakers *breaker.Registry

	// Evaluator backs POST /v1/evaluate.
	Evaluator gate.Evaluator

	// Runs backs POST /v1/runs.
	Runs RunStarter

	// Health backs /healthz and /readyz. A checker without component
	// checks is used when nil.
	Health *health.Checker

	// Metrics is mounted at MetricsPath.
	Metrics     http.Handler
	MetricsPath string

	// Version is served at /version.
	Version health.VersionInfo

	// Tracer starts a server span per request when set.
	Tracer *tracing.Tracer
}

// RunStarter creates runs at most once per idempotency key. *gate.Gate
// implements it.
type RunStarter interface {
	StartRun(ctx context.Context, tenantID, key string, create func(ctx context.Context) (string, error)) (*idempotency.Record, bool, error)
}

// Server is the admin HTTP server.
type Server struct {
	config     *config.ServerConfig
	deps       Deps
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server

	mu        sync.RWMutex
	isRunning bool
	addr      string
}

// New creates an admin server. A nil config uses the default server
// section; a nil logger uses slog.Default().
func New(cfg *config.ServerConfig, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Breakers == nil {
		return nil, errors.New("server: breaker registry is required")
	}
	if cfg == nil {
		cfg = &config.Default().Server
	}
	if deps.Health == nil {
		deps.Health = health.New(0)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger.With("component", "server"),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully within ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return errors.New("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.addr = ln.Addr().String()
	s.isRunning = true
	s.mu.Unlock()

	s.logger.Info("starting admin server", "address", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.WithoutCancel(ctx))
	case err, ok := <-errCh:
		s.setStopped()
		if !ok {
			return nil
		}
		return err
	}
}

// Shutdown stops accepting connections and waits for in-flight requests
// up to ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	running := s.isRunning
	srv := s.httpServer
	s.mu.RUnlock()
	if !running || srv == nil {
		return nil
	}

	s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	s.setStopped()
	if err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("admin server stopped")
	return nil
}

// Addr returns the bound address while running, e.g. after listening on
// port 0.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Server) setStopped() {
	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
}
