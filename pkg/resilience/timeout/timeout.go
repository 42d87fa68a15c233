// Package timeout bounds the wall-clock duration of a unit of work.
//
// The work runs in its own goroutine with a context that is cancelled when
// the bound elapses, so cooperative collaborators (HTTP clients, database
// drivers) can abort. The caller returns as soon as the bound elapses; a
// result that arrives later is discarded. Work that ignores its context is
// abandoned, not terminated.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("operation timed out")

// errBoundElapsed is the cancellation cause set when the bound elapses.
var errBoundElapsed = errors.New("timeout bound elapsed")

// TimeoutError is returned when work does not finish within its bound.
type TimeoutError struct {
	// Bound is the configured limit.
	Bound time.Duration

	// Elapsed is how long the caller waited.
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s (bound %s)", e.Elapsed.Round(time.Millisecond), e.Bound)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Recorder receives timeout measurements. The metrics collector in
// pkg/telemetry/metrics implements it.
type Recorder interface {
	RecordTimeout(name string, bound time.Duration)
}

type result[T any] struct {
	value T
	err   error
}

// Do runs fn with a bound of d. A non-positive d runs fn without a bound.
func Do(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	_, err := DoValue(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue runs fn with a bound of d and returns its value. If the parent
// context is cancelled first, the parent's error is returned instead of a
// *TimeoutError.
func DoValue[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, d, errBoundElapsed)
	defer cancel()

	start := time.Now()
	// Buffered so a late result never blocks the abandoned goroutine.
	done := make(chan result[T], 1)

	go func() {
		var r result[T]
		defer func() {
			if p := recover(); p != nil {
				r.err = fmt.Errorf("panic in bounded operation: %v", p)
			}
			done <- r
		}()
		r.value, r.err = fn(ctx)
	}()

	select {
	case r := <-done:
		// Work that gave up because the bound elapsed is reported as a
		// timeout, whichever channel won the race.
		if r.err != nil && context.Cause(ctx) == errBoundElapsed {
			var zero T
			return zero, &TimeoutError{Bound: d, Elapsed: time.Since(start)}
		}
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		if context.Cause(ctx) == errBoundElapsed {
			return zero, &TimeoutError{Bound: d, Elapsed: time.Since(start)}
		}
		return zero, ctx.Err()
	}
}

// Wrapper applies a fixed bound and reports timeouts to a Recorder.
type Wrapper struct {
	Name     string
	Bound    time.Duration
	Recorder Recorder
}

// Do runs fn within the wrapper's bound.
func (w Wrapper) Do(ctx context.Context, fn func(context.Context) error) error {
	err := Do(ctx, w.Bound, fn)
	if w.Recorder != nil && errors.Is(err, ErrTimeout) {
		w.Recorder.RecordTimeout(w.Name, w.Bound)
	}
	return err
}
