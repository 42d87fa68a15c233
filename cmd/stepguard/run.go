package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/stepguard/pkg/cli"
	"mercator-hq/stepguard/pkg/guardrail/storage"
	"mercator-hq/stepguard/pkg/retention"
	"mercator-hq/stepguard/pkg/server"
)

var runFlags struct {
	listenAddress string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the stepguard service",
	Long: `Start the admin HTTP server, the guardrail file watcher and the
retention scheduler.

SIGINT and SIGTERM shut down gracefully. SIGHUP reloads guardrail files
when the file source is configured.

Examples:
  # Start with defaults and STEPGUARD_* environment overrides
  stepguard run

  # Start with a config file
  stepguard run --config /etc/stepguard/stepguard.yaml

  # Override the listen address
  stepguard run --listen 0.0.0.0:9090

  # Validate config and open every store without serving
  stepguard run --dry-run`,
	Args: cobra.NoArgs,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config and open stores without serving")
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	c, err := wire(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("failed to close stores", "error", err)
		}
	}()

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	srv, err := server.New(&cfg.Server, server.Deps{
		Breakers:    c.resilience.Breakers(),
		Evaluator:   c.engine,
		Runs:        c.gate,
		Health:      c.health,
		Metrics:     metricsHandler(c),
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Version:     buildInfo(),
		Tracer:      c.tracer,
	}, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(gctx)
	})

	if c.fileStore != nil {
		g.Go(func() error {
			return reloadOnSignal(gctx, c.fileStore, logger)
		})
		if cfg.Guardrail.Watch {
			watcher, err := storage.NewWatcher(c.fileStore, cfg.Guardrail.WatchDebounce, logger)
			if err != nil {
				return cli.NewCommandError("run", err)
			}
			g.Go(func() error {
				defer watcher.Stop()
				return watcher.Watch(gctx)
			})
		}
	}

	if schedule := cfg.Idempotency.PruneSchedule; schedule != "" {
		scheduler := retention.NewScheduler(c.pruner, schedule, logger)
		if err := scheduler.Start(gctx); err != nil {
			return cli.NewCommandError("run", err)
		}
		defer scheduler.Stop()
		if next := scheduler.NextRun(); next != nil {
			logger.Info("retention scheduler started", "schedule", schedule, "next_run", *next)
		}
	}

	logger.Info("stepguard started",
		"version", Version,
		"listen_address", cfg.Server.ListenAddress,
		"guardrail_source", cfg.Guardrail.Source,
		"idempotency_backend", cfg.Idempotency.Backend,
		"tracing", c.tracer.Enabled(),
	)

	if err := g.Wait(); err != nil {
		return cli.NewCommandError("run", err)
	}
	logger.Info("stepguard stopped")
	return nil
}

// reloadOnSignal reloads the guardrail files on every SIGHUP. A failed
// reload keeps the previous snapshot.
func reloadOnSignal(ctx context.Context, fs *storage.FileStore, logger *slog.Logger) error {
	reload := cli.NotifyReload(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reload:
			if err := fs.Reload(ctx); err != nil {
				logger.Error("guardrail reload failed, keeping previous snapshot", "error", err)
				continue
			}
			logger.Info("guardrail files reloaded", "tenants", len(fs.Tenants()))
		}
	}
}

// metricsHandler returns nil when metrics are disabled so the route is
// not mounted.
func metricsHandler(c *components) http.Handler {
	if !c.cfg.Telemetry.Metrics.Enabled {
		return nil
	}
	return c.metrics.Handler()
}
