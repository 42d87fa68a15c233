package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the state of a circuit breaker.
type State int

const (
	// StateClosed passes calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls without invoking them.
	StateOpen
	// StateHalfOpen admits a single probe call.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half_open":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("unknown breaker state %q", text)
	}
	return nil
}

// Recorder receives breaker measurements. The metrics collector in
// pkg/telemetry/metrics implements it.
type Recorder interface {
	RecordBreakerState(name, state string)
	RecordBreakerCall(name, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordBreakerState(string, string) {}
func (nopRecorder) RecordBreakerCall(string, string)  {}

// Config configures a breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker open.
	// Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before admitting a
	// probe. It is also the lease of a half-open probe: a probe that has
	// not reported back by then counts as failed and another is admitted.
	// Default: 30s.
	ResetTimeout time.Duration

	// Clock returns the current time. Tests replace it.
	Clock func() time.Time

	// IsFailure decides whether an error counts against the dependency.
	// Default: any error except context.Canceled.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Recorder receives call outcomes and state changes.
	Recorder Recorder
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.IsFailure == nil {
		c.IsFailure = defaultIsFailure
	}
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Status is a point-in-time snapshot of a breaker.
type Status struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	NextAttemptAt   time.Time `json:"next_attempt_at,omitempty"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalSuccesses  int64     `json:"total_successes"`
	TotalRejections int64     `json:"total_rejections"`
	LastStateChange time.Time `json:"last_state_change"`
}

// Breaker is a three-state circuit breaker guarding one dependency.
// All counters and transitions are updated under a single mutex.
type Breaker struct {
	name string
	cfg  Config

	mu              sync.Mutex
	state           State
	generation      uint64
	failures        int
	successes       int
	nextAttemptAt   time.Time
	probeInFlight   bool
	probeDeadline   time.Time
	totalCalls      int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejections int64
	lastStateChange time.Time
}

// New creates a closed breaker.
func New(name string, cfg Config) *Breaker {
	cfg.applyDefaults()
	return &Breaker{
		name:            name,
		cfg:             cfg,
		state:           StateClosed,
		lastStateChange: cfg.Clock(),
	}
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An open breaker whose reset timeout
// has elapsed still reports open until a call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn if the breaker admits the call. It returns fn's error
// unchanged after recording it, or an *OpenError without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := b.before()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.after(gen, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	err = fn(ctx)
	b.after(gen, err)
	return err
}

// Call runs fn through the breaker and returns its value.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// before admits or rejects a call and returns the generation it belongs to.
func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()

	now := b.cfg.Clock()
	var transition *[2]State
	abandoned := false

	switch b.state {
	case StateOpen:
		if now.Before(b.nextAttemptAt) {
			retryAt := b.nextAttemptAt
			b.totalRejections++
			b.mu.Unlock()
			b.cfg.Recorder.RecordBreakerCall(b.name, "rejected")
			return 0, &OpenError{Name: b.name, RetryAt: retryAt}
		}
		transition = &[2]State{StateOpen, StateHalfOpen}
		b.setStateLocked(StateHalfOpen, now)
		b.startProbeLocked(now)

	case StateHalfOpen:
		if b.probeInFlight {
			if now.Before(b.probeDeadline) {
				retryAt := b.probeDeadline
				b.totalRejections++
				b.mu.Unlock()
				b.cfg.Recorder.RecordBreakerCall(b.name, "rejected")
				return 0, &OpenError{Name: b.name, RetryAt: retryAt, Probing: true}
			}
			// The lease ran out. The abandoned probe is a failure and its
			// outcome, if it ever arrives, belongs to an old generation.
			b.totalFailures++
			b.generation++
			abandoned = true
		}
		b.startProbeLocked(now)
	}

	b.totalCalls++
	gen := b.generation
	b.mu.Unlock()

	if abandoned {
		b.cfg.Recorder.RecordBreakerCall(b.name, "failure")
	}
	if transition != nil {
		b.notify(transition[0], transition[1])
	}
	return gen, nil
}

func (b *Breaker) startProbeLocked(now time.Time) {
	b.probeInFlight = true
	b.probeDeadline = now.Add(b.cfg.ResetTimeout)
}

// after records the outcome of an admitted call. Outcomes from an earlier
// generation (the breaker changed state meanwhile) only update totals.
func (b *Breaker) after(gen uint64, err error) {
	failed := b.cfg.IsFailure(err)

	b.mu.Lock()
	now := b.cfg.Clock()
	var transition *[2]State

	if failed {
		b.totalFailures++
	} else if err == nil {
		b.totalSuccesses++
	}

	if gen != b.generation {
		b.mu.Unlock()
		b.recordOutcome(err, failed)
		return
	}

	switch b.state {
	case StateClosed:
		switch {
		case failed:
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				transition = &[2]State{StateClosed, StateOpen}
				b.tripLocked(now)
			}
		case err == nil:
			b.failures = 0
			b.successes++
		}

	case StateHalfOpen:
		b.probeInFlight = false
		switch {
		case failed:
			transition = &[2]State{StateHalfOpen, StateOpen}
			b.tripLocked(now)
		case err == nil:
			transition = &[2]State{StateHalfOpen, StateClosed}
			b.setStateLocked(StateClosed, now)
		}
	}
	b.mu.Unlock()

	b.recordOutcome(err, failed)
	if transition != nil {
		b.notify(transition[0], transition[1])
	}
}

func (b *Breaker) recordOutcome(err error, failed bool) {
	switch {
	case failed:
		b.cfg.Recorder.RecordBreakerCall(b.name, "failure")
	case err == nil:
		b.cfg.Recorder.RecordBreakerCall(b.name, "success")
	default:
		b.cfg.Recorder.RecordBreakerCall(b.name, "ignored")
	}
}

func (b *Breaker) tripLocked(now time.Time) {
	b.setStateLocked(StateOpen, now)
	b.nextAttemptAt = now.Add(b.cfg.ResetTimeout)
}

// setStateLocked moves to a new state, starting a new generation and
// clearing the per-state counters.
func (b *Breaker) setStateLocked(state State, now time.Time) {
	b.state = state
	b.generation++
	b.failures = 0
	b.successes = 0
	b.probeInFlight = false
	b.probeDeadline = time.Time{}
	b.lastStateChange = now
	if state != StateOpen {
		b.nextAttemptAt = time.Time{}
	}
}

func (b *Breaker) notify(from, to State) {
	b.cfg.Recorder.RecordBreakerState(b.name, to.String())
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Status returns a snapshot of the breaker.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Status{
		Name:            b.name,
		State:           b.state,
		FailureCount:    b.failures,
		SuccessCount:    b.successes,
		NextAttemptAt:   b.nextAttemptAt,
		TotalCalls:      b.totalCalls,
		TotalFailures:   b.totalFailures,
		TotalSuccesses:  b.totalSuccesses,
		TotalRejections: b.totalRejections,
		LastStateChange: b.lastStateChange,
	}
}

// Reset forces the breaker closed and zeroes its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.setStateLocked(StateClosed, b.cfg.Clock())
	b.totalCalls = 0
	b.totalFailures = 0
	b.totalSuccesses = 0
	b.totalRejections = 0
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}
