package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// PruneFunc deletes everything older than cutoff and returns how many
// entries it removed.
type PruneFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// Target is one store with a retention window.
type Target struct {
	// Name identifies the target in logs, e.g. "idempotency".
	Name string

	// Retention is how long entries are kept. Zero keeps them forever.
	Retention time.Duration

	// Prune deletes expired entries.
	Prune PruneFunc
}

// Recorder receives pruning counts.
type Recorder interface {
	RecordPruned(target string, deleted int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordPruned(string, int64) {}

// Pruner enforces retention windows on a set of targets.
type Pruner struct {
	targets  []Target
	now      func() time.Time
	recorder Recorder
	logger   *slog.Logger
}

// NewPruner creates a pruner for targets.
func NewPruner(targets []Target, logger *slog.Logger) (*Pruner, error) {
	for _, t := range targets {
		if t.Name == "" {
			return nil, fmt.Errorf("retention target name cannot be empty")
		}
		if t.Prune == nil {
			return nil, fmt.Errorf("retention target %q has no prune function", t.Name)
		}
		if t.Retention < 0 {
			return nil, fmt.Errorf("retention target %q has negative retention %s", t.Name, t.Retention)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pruner{
		targets:  targets,
		now:      time.Now,
		recorder: nopRecorder{},
		logger:   logger.With("component", "retention"),
	}, nil
}

// SetRecorder sets the metrics recorder. A nil recorder disables recording.
func (p *Pruner) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	p.recorder = r
}

// Prune runs every target and returns the total number of deleted
// entries. A failing target does not stop the others; their errors are
// joined.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var (
		total int64
		errs  []error
	)
	now := p.now()

	for _, t := range p.targets {
		if t.Retention == 0 {
			continue
		}
		cutoff := now.Add(-t.Retention)

		deleted, err := t.Prune(ctx, cutoff)
		if err != nil {
			p.logger.Error("retention pruning failed", "target", t.Name, "error", err)
			errs = append(errs, fmt.Errorf("prune %s: %w", t.Name, err))
			continue
		}
		total += deleted
		p.recorder.RecordPruned(t.Name, deleted)

		if deleted > 0 {
			p.logger.Info("pruned expired entries",
				"target", t.Name,
				"deleted_count", deleted,
				"cutoff_time", cutoff,
			)
		} else {
			p.logger.Debug("no entries pruned", "target", t.Name, "cutoff_time", cutoff)
		}
	}

	return total, errors.Join(errs...)
}
