package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Recorder receives retry measurements. The metrics collector in
// pkg/telemetry/metrics implements it.
type Recorder interface {
	// RecordRetry records one call outcome: success, retry, exhausted or
	// non_retryable.
	RecordRetry(name, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRetry(string, string) {}

// Policy configures retries with exponential backoff and bounded jitter.
type Policy struct {
	// Name labels log lines and metrics, usually the dependency name.
	Name string

	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt, doubled for each
	// attempt after that.
	// Default: 200ms.
	BaseDelay time.Duration

	// MaxDelay caps a single delay. Zero means no cap.
	MaxDelay time.Duration

	// JitterFraction bounds the random addition to each delay as a
	// fraction of the exponential delay. Zero means the default; set
	// NoJitter for exact exponential delays.
	// Default: 0.3.
	JitterFraction float64

	// NoJitter disables jitter regardless of JitterFraction.
	NoJitter bool

	// Classifier decides whether a failure is retried.
	// Default: DefaultClassifier.
	Classifier Classifier

	// Sleep waits between attempts. It must return early with the
	// context's error when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error

	// Rand returns a number in [0, 1).
	Rand func() float64

	// Recorder receives attempt outcomes.
	Recorder Recorder

	// Logger receives retry logs.
	Logger *slog.Logger
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      200 * time.Millisecond,
		JitterFraction: 0.3,
	}
}

// Validate checks the policy values.
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be non-negative, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must be non-negative, got %s", p.BaseDelay)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("max delay must be non-negative, got %s", p.MaxDelay)
	}
	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		return fmt.Errorf("jitter fraction must be between 0 and 1, got %g", p.JitterFraction)
	}
	return nil
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	switch {
	case p.NoJitter:
		p.JitterFraction = 0
	case p.JitterFraction == 0:
		p.JitterFraction = 0.3
	}
	if p.Classifier == nil {
		p.Classifier = DefaultClassifier
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Rand == nil {
		p.Rand = rand.Float64
	}
	if p.Recorder == nil {
		p.Recorder = nopRecorder{}
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// Backoff returns the delay between attempt i and i+1 (0-indexed):
// BaseDelay·2^i plus a uniform jitter in [0, JitterFraction·BaseDelay·2^i).
func (p Policy) Backoff(i int) time.Duration {
	p = p.withDefaults()
	return p.backoff(i)
}

func (p Policy) backoff(i int) time.Duration {
	exp := float64(p.BaseDelay) * math.Pow(2, float64(i))
	delay := exp + p.Rand()*p.JitterFraction*exp
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	d := time.Duration(math.Round(delay))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// MaxTotalDelay returns the longest total time spent sleeping between
// attempts.
func (p Policy) MaxTotalDelay() time.Duration {
	p = p.withDefaults()
	var total time.Duration
	for i := 0; i < p.MaxAttempts-1; i++ {
		exp := float64(p.BaseDelay) * math.Pow(2, float64(i))
		d := time.Duration(math.Round(exp + p.JitterFraction*exp))
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
		total += d
	}
	return total
}

// Do calls fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. Attempts are strictly sequential and there is no
// sleep after the final attempt.
func Do(ctx context.Context, policy Policy, fn func(context.Context) error) error {
	p := policy.withDefaults()

	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.backoff(attempt - 1)
			if hint := retryAfter(last); hint > delay {
				delay = hint
			}

			p.Logger.Debug("retrying",
				"name", p.Name,
				"attempt", attempt+1,
				"max_attempts", p.MaxAttempts,
				"backoff", delay,
			)

			if err := p.Sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			p.Recorder.RecordRetry(p.Name, "success")
			return nil
		}
		last = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			if !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w: %w", ctxErr, err)
			}
			p.Recorder.RecordRetry(p.Name, "non_retryable")
			return &NonRetryableError{Attempt: attempt + 1, Err: err}
		}
		if !p.Classifier(err) {
			p.Recorder.RecordRetry(p.Name, "non_retryable")
			return &NonRetryableError{Attempt: attempt + 1, Err: err}
		}

		if attempt < p.MaxAttempts-1 {
			p.Recorder.RecordRetry(p.Name, "retry")
			p.Logger.Warn("attempt failed, will retry",
				"name", p.Name,
				"attempt", attempt+1,
				"error", err,
			)
		}
	}

	p.Recorder.RecordRetry(p.Name, "exhausted")
	return &ExhaustedError{Attempts: p.MaxAttempts, Last: last}
}

// DoValue is Do for work that returns a value.
func DoValue[T any](ctx context.Context, policy Policy, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, policy, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
