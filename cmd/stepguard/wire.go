package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mercator-hq/stepguard/pkg/config"
	"mercator-hq/stepguard/pkg/gate"
	"mercator-hq/stepguard/pkg/guardrail"
	"mercator-hq/stepguard/pkg/guardrail/storage"
	"mercator-hq/stepguard/pkg/idempotency"
	"mercator-hq/stepguard/pkg/resilience"
	"mercator-hq/stepguard/pkg/retention"
	"mercator-hq/stepguard/pkg/telemetry/health"
	"mercator-hq/stepguard/pkg/telemetry/metrics"
	"mercator-hq/stepguard/pkg/telemetry/tracing"
)

// healthProbeScope is the idempotency scope used by readiness probes.
const healthProbeScope = "__health__"

// actionLog is the append-only log of executed steps. Every guardrail
// backend implements it.
type actionLog interface {
	guardrail.ActionCounter
	storage.ActionRecorder
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)
}

// components is the wired object graph shared by the commands.
type components struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer

	policies  guardrail.PolicyStore
	rules     guardrail.RuleStore
	actions   actionLog
	fileStore *storage.FileStore

	engine      *guardrail.Engine
	resilience  *resilience.Set
	idemStore   idempotency.Store
	idempotency *idempotency.Controller
	gate        *gate.Gate
	pruner      *retention.Pruner
	health      *health.Checker

	closers []func() error
}

// wire builds every component from cfg. The caller must Close the result.
func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &components{cfg: cfg, logger: logger}
	if err := c.build(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *components) build(ctx context.Context) error {
	metricsCfg := c.cfg.Telemetry.Metrics
	c.metrics = metrics.NewCollector(&metricsCfg, nil)

	tracer, err := tracing.New(&c.cfg.Telemetry.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to create tracer: %w", err)
	}
	c.tracer = tracer
	c.closers = append(c.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracer.Shutdown(ctx)
	})

	if err := c.wireGuardrail(); err != nil {
		return err
	}
	if err := c.wireResilience(); err != nil {
		return err
	}
	if err := c.wireIdempotency(ctx); err != nil {
		return err
	}

	g, err := gate.New(gate.Deps{
		Evaluator:   c.engine,
		Resilience:  c.resilience,
		Idempotency: c.idempotency,
		Actions:     c.actions,
		Tracer:      c.tracer.Tracer(),
	}, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create gate: %w", err)
	}
	c.gate = g

	if err := c.wireRetention(); err != nil {
		return err
	}
	c.wireHealth()
	return nil
}

func (c *components) wireGuardrail() error {
	gc := c.cfg.Guardrail

	switch gc.Source {
	case "memory":
		mem := storage.NewMemoryBackend()
		c.policies, c.rules, c.actions = mem, mem, mem
		c.closers = append(c.closers, mem.Close)

	case "sqlite":
		db, err := openGuardrailDB(gc.SQLitePath)
		if err != nil {
			return err
		}
		c.policies, c.rules, c.actions = db, db, db
		c.closers = append(c.closers, db.Close)

	case "file":
		fs, err := storage.NewFileStore(gc.FilePath, c.logger)
		if err != nil {
			return fmt.Errorf("failed to load guardrail files: %w", err)
		}
		db, err := openGuardrailDB(gc.SQLitePath)
		if err != nil {
			return err
		}
		c.fileStore = fs
		c.policies, c.rules, c.actions = fs, fs, db
		c.closers = append(c.closers, db.Close)
		c.logger.Info("guardrail files loaded", "path", gc.FilePath, "tenants", len(fs.Tenants()))

	default:
		return fmt.Errorf("unknown guardrail source %q", gc.Source)
	}

	engine, err := guardrail.NewEngine(&guardrail.EngineConfig{
		RunRiskBlockThreshold:    gc.RunRiskBlockThreshold,
		RunRiskApprovalThreshold: gc.RunRiskApprovalThreshold,
		Location:                 gc.Location(),
		LoadTimeout:              gc.LoadTimeout,
	}, c.policies, c.rules, c.actions, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create guardrail engine: %w", err)
	}
	engine.SetRecorder(c.metrics)
	c.engine = engine
	return nil
}

func openGuardrailDB(path string) (*storage.SQLiteBackend, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	db, err := storage.NewSQLiteBackend(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open guardrail database: %w", err)
	}
	return db, nil
}

func (c *components) wireResilience() error {
	rc := c.cfg.Resilience

	overrides := make(map[string]resilience.Settings, len(rc.Dependencies))
	for name, dep := range rc.Dependencies {
		overrides[name] = dependencySettings(dep)
	}

	set, err := resilience.NewSet(dependencySettings(rc.Defaults), overrides, c.metrics, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create resilience set: %w", err)
	}
	c.resilience = set
	return nil
}

// dependencySettings converts a config section. Zero fields inherit from
// the defaults inside resilience.NewSet.
func dependencySettings(dc config.DependencyConfig) resilience.Settings {
	return resilience.Settings{
		FailureThreshold: dc.FailureThreshold,
		ResetTimeout:     dc.ResetTimeout,
		MaxAttempts:      dc.MaxAttempts,
		BaseDelay:        dc.BaseDelay,
		MaxDelay:         dc.MaxDelay,
		Timeout:          dc.Timeout,
		Scope:            resilience.Scope(dc.TimeoutScope),
	}
}

func (c *components) wireIdempotency(ctx context.Context) error {
	ic := c.cfg.Idempotency

	if ic.Backend == idempotency.BackendSQLite {
		if err := ensureParentDir(ic.SQLitePath); err != nil {
			return err
		}
	}
	store, err := idempotency.Open(ctx, idempotency.StoreConfig{
		Backend:       ic.Backend,
		SQLitePath:    ic.SQLitePath,
		RedisAddr:     ic.Redis.Address,
		RedisPassword: ic.Redis.Password,
		RedisDB:       ic.Redis.DB,
		RedisPrefix:   ic.Redis.Prefix,
		Retention:     ic.Retention,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("failed to open idempotency store: %w", err)
	}
	c.idemStore = store
	c.closers = append(c.closers, store.Close)

	ctrl, err := idempotency.NewController(store, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create idempotency controller: %w", err)
	}
	ctrl.SetRecorder(c.metrics)
	ctrl.SetTimeout(ic.Timeout)
	c.idempotency = ctrl
	return nil
}

func (c *components) wireRetention() error {
	pruner, err := retention.NewPruner([]retention.Target{
		{
			Name:      "idempotency",
			Retention: c.cfg.Idempotency.Retention,
			Prune:     c.idemStore.DeleteBefore,
		},
		{
			Name:      "action_log",
			Retention: c.cfg.Guardrail.ActionRetention,
			Prune: func(ctx context.Context, cutoff time.Time) (int64, error) {
				n, err := c.actions.Cleanup(ctx, cutoff)
				return int64(n), err
			},
		},
	}, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create retention pruner: %w", err)
	}
	pruner.SetRecorder(c.metrics)
	c.pruner = pruner
	return nil
}

func (c *components) wireHealth() {
	c.health = health.New(2 * time.Second)
	c.health.RegisterCheck("action_log", func(ctx context.Context) error {
		_, err := c.actions.CountActions(ctx, healthProbeScope, time.Now())
		return err
	})
	c.health.RegisterCheck("idempotency_store", func(ctx context.Context) error {
		_, err := c.idemStore.Get(ctx, healthProbeScope, "probe")
		return err
	})
	if c.fileStore != nil {
		c.health.RegisterCheck("guardrail_files", func(ctx context.Context) error {
			_, err := os.Stat(c.fileStore.Path())
			return err
		})
	}
}

// Close releases stores in reverse order of opening.
func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}
	return nil
}
