package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultScope is used by a controller created without a scope.
const DefaultScope = "default"

// DefaultTimeout bounds the work shared by concurrent callers of one key.
const DefaultTimeout = 30 * time.Second

// Recorder receives idempotency measurements. The metrics collector in
// pkg/telemetry/metrics implements it.
type Recorder interface {
	// RecordIdempotency records one outcome: created, replayed or error.
	RecordIdempotency(scope, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordIdempotency(string, string) {}

// Controller deduplicates creation of units of work by key.
//
// Concurrent calls for the same key in one process are coalesced, so the
// factory runs once and every caller receives the same record. The shared
// work does not inherit any caller's cancellation; it is bounded by the
// controller timeout, and each caller stops waiting when its own context
// is done. Across
// processes the store's atomic insert picks one winner; a losing process
// may have run its factory but reports created=false and returns the
// winner's record.
type Controller struct {
	store    Store
	scope    string
	group    *singleflight.Group
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration
}

// NewController creates a controller for DefaultScope.
func NewController(store Store, logger *slog.Logger) (*Controller, error) {
	if store == nil {
		return nil, fmt.Errorf("idempotency store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		store:    store,
		scope:    DefaultScope,
		group:    &singleflight.Group{},
		recorder: nopRecorder{},
		logger:   logger.With("component", "idempotency"),
		now:      time.Now,
		timeout:  DefaultTimeout,
	}, nil
}

// SetTimeout bounds the shared lookup, factory and insert. Zero or
// negative restores DefaultTimeout. Call before use.
func (c *Controller) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	c.timeout = d
}

// SetRecorder sets the metrics recorder. Call before use.
func (c *Controller) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	c.recorder = r
}

// ForScope returns a controller for scope that shares this controller's
// store and coalescing.
func (c *Controller) ForScope(scope string) *Controller {
	if scope == "" {
		scope = DefaultScope
	}
	scoped := *c
	scoped.scope = scope
	return &scoped
}

// Scope returns the controller's scope.
func (c *Controller) Scope() string {
	return c.scope
}

type outcome struct {
	record  *Record
	created bool
}

// EnsureIdempotent returns the record for key, calling factory to create it
// if it does not exist yet. created is true only for the call whose
// factory result was stored. A factory error stores nothing and is
// returned as a *FactoryError.
func (c *Controller) EnsureIdempotent(ctx context.Context, key string, factory func(context.Context) (string, error)) (*Record, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	if factory == nil {
		return nil, false, ErrNilFactory
	}

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	leader := false
	ch := c.group.DoChan(c.scope+"\x00"+key, func() (any, error) {
		leader = true
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.ensure(sctx, key, factory)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		c.recorder.RecordIdempotency(c.scope, "error")
		return nil, false, ctx.Err()
	}

	v, err := res.Val, res.Err
	if err != nil {
		c.recorder.RecordIdempotency(c.scope, "error")
		return nil, false, err
	}

	out := v.(outcome)
	created := out.created && leader
	if created {
		c.recorder.RecordIdempotency(c.scope, "created")
	} else {
		c.recorder.RecordIdempotency(c.scope, "replayed")
	}

	rec := *out.record
	return &rec, created, nil
}

func (c *Controller) ensure(ctx context.Context, key string, factory func(context.Context) (string, error)) (outcome, error) {
	existing, err := c.store.Get(ctx, c.scope, key)
	if err != nil {
		return outcome{}, err
	}
	if existing != nil {
		c.logger.Debug("idempotency key replayed", "scope", c.scope, "key", key, "result_ref", existing.ResultRef)
		return outcome{record: existing}, nil
	}

	ref, err := factory(ctx)
	if err != nil {
		return outcome{}, &FactoryError{Key: key, Cause: err}
	}

	stored, inserted, err := c.store.Insert(ctx, &Record{
		Key:       key,
		Scope:     c.scope,
		ResultRef: ref,
		CreatedAt: c.now().UTC(),
	})
	if err != nil {
		return outcome{}, err
	}
	if !inserted {
		c.logger.Warn("idempotency key created concurrently elsewhere, discarding local result",
			"scope", c.scope,
			"key", key,
			"discarded_ref", ref,
			"result_ref", stored.ResultRef,
		)
	}
	return outcome{record: stored, created: inserted}, nil
}
