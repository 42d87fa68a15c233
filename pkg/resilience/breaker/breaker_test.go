package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(clock *fakeClock, threshold int, reset time.Duration) *Breaker {
	return New("provider", Config{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
		Clock:            clock.Now,
	})
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

// TestBreaker_TripAndRecover tests the closed, open, half-open, closed cycle
func TestBreaker_TripAndRecover(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 3, 10*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d error = %v, want errBoom", i, err)
		}
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state after 3 failures = %s, want open", got)
	}
	status := b.Status()
	if !status.NextAttemptAt.Equal(clock.Now().Add(10 * time.Second)) {
		t.Errorf("NextAttemptAt = %v", status.NextAttemptAt)
	}

	clock.Advance(5 * time.Second)
	invoked := false
	err := b.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("error while open = %v, want ErrOpen", err)
	}
	var openErr *OpenError
	if !errors.As(err, &openErr) || openErr.Name != "provider" {
		t.Errorf("OpenError = %+v", openErr)
	}
	if invoked {
		t.Error("operation invoked while open")
	}

	clock.Advance(5 * time.Second)
	var stateDuringProbe State
	err = b.Execute(ctx, func(context.Context) error {
		stateDuringProbe = b.State()
		return nil
	})
	if err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if stateDuringProbe != StateHalfOpen {
		t.Errorf("state during probe = %s, want half_open", stateDuringProbe)
	}

	status = b.Status()
	if status.State != StateClosed || status.FailureCount != 0 {
		t.Errorf("status after probe = %+v, want closed with 0 failures", status)
	}
	if status.TotalCalls != 4 || status.TotalFailures != 3 || status.TotalSuccesses != 1 || status.TotalRejections != 1 {
		t.Errorf("totals = %+v", status)
	}
}

// TestBreaker_SuccessResetsFailures tests that failures must be consecutive
func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := newTestBreaker(newFakeClock(), 3, time.Second)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, succeed)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)

	if got := b.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
	if got := b.Status().FailureCount; got != 2 {
		t.Errorf("FailureCount = %d, want 2", got)
	}
}

// TestBreaker_HalfOpenFailureReopens tests that a failed probe reopens the breaker
func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, time.Minute)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(time.Minute)

	if err := b.Execute(ctx, fail); !errors.Is(err, errBoom) {
		t.Fatalf("probe error = %v, want errBoom", err)
	}
	status := b.Status()
	if status.State != StateOpen {
		t.Fatalf("state = %s, want open", status.State)
	}
	if !status.NextAttemptAt.Equal(clock.Now().Add(time.Minute)) {
		t.Errorf("NextAttemptAt = %v, want a fresh reset window", status.NextAttemptAt)
	}
}

// TestBreaker_SingleProbe tests that only one half-open probe is in flight
func TestBreaker_SingleProbe(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, time.Second)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var invoked atomic.Int32
	var wg sync.WaitGroup
	rejected := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rejected <- b.Execute(ctx, func(context.Context) error {
				invoked.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()
	close(rejected)

	for err := range rejected {
		var openErr *OpenError
		if !errors.As(err, &openErr) || !openErr.Probing {
			t.Errorf("concurrent call error = %v, want probing OpenError", err)
		}
	}
	if invoked.Load() != 0 {
		t.Errorf("%d concurrent calls invoked during probe", invoked.Load())
	}

	close(release)
	if err := <-probeDone; err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
}

// TestBreaker_StaleOutcomeIgnored tests that results from before a reset do not move the state
func TestBreaker_StaleOutcomeIgnored(t *testing.T) {
	b := newTestBreaker(newFakeClock(), 1, time.Minute)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return errBoom
		})
		close(done)
	}()
	<-started

	b.Reset()
	close(release)
	<-done

	if got := b.State(); got != StateClosed {
		t.Errorf("state = %s, want closed after stale failure", got)
	}
}

// TestBreaker_AbandonedProbeLease tests that a probe which never reports back stops blocking calls once its lease expires
func TestBreaker_AbandonedProbeLease(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock, 1, 10*time.Second)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(10 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return errBoom
		})
		close(done)
	}()
	<-started

	err := b.Execute(ctx, succeed)
	var openErr *OpenError
	if !errors.As(err, &openErr) || !openErr.Probing {
		t.Fatalf("call during probe error = %v, want probing OpenError", err)
	}
	if want := clock.Now().Add(10 * time.Second); !openErr.RetryAt.Equal(want) {
		t.Errorf("RetryAt = %v, want %v", openErr.RetryAt, want)
	}

	clock.Advance(time.Hour)
	invoked := false
	err = b.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	if err != nil || !invoked {
		t.Fatalf("call after lease expiry: err = %v, invoked = %v", err, invoked)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}

	close(release)
	<-done
	if got := b.State(); got != StateClosed {
		t.Errorf("abandoned probe outcome moved state to %s", got)
	}
	if got := b.Status().TotalFailures; got < 2 {
		t.Errorf("TotalFailures = %d, want the abandoned probe counted", got)
	}
}

// TestBreaker_CancellationNotCounted tests the default failure classifier
func TestBreaker_CancellationNotCounted(t *testing.T) {
	b := newTestBreaker(newFakeClock(), 1, time.Minute)

	err := b.Execute(context.Background(), func(context.Context) error {
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
}

// TestBreaker_Reset tests the operator escape hatch
func TestBreaker_Reset(t *testing.T) {
	var transitions []string
	clock := newFakeClock()
	b := New("stripe", Config{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		Clock:            clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, succeed)

	b.Reset()

	status := b.Status()
	if status.State != StateClosed || status.TotalCalls != 0 || status.TotalRejections != 0 || !status.NextAttemptAt.IsZero() {
		t.Errorf("status after reset = %+v", status)
	}
	if err := b.Execute(ctx, succeed); err != nil {
		t.Errorf("call after reset = %v", err)
	}

	want := []string{"closed->open", "open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

// TestCall tests the generic value helper
func TestCall(t *testing.T) {
	b := newTestBreaker(newFakeClock(), 3, time.Second)

	got, err := Call(context.Background(), b, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Errorf("Call = %q, %v", got, err)
	}
}

// TestRegistry tests lazy creation, overrides and status listing
func TestRegistry(t *testing.T) {
	clock := newFakeClock()
	defaults := DefaultConfig()
	defaults.Clock = clock.Now
	reg := NewRegistry(defaults)

	reg.Configure("stripe", Config{FailureThreshold: 1, ResetTimeout: time.Minute})
	stripe := reg.Get("stripe")
	if reg.Get("stripe") != stripe {
		t.Fatal("Get returned a different breaker for the same name")
	}
	shopify := reg.Get("shopify")

	ctx := context.Background()
	_ = stripe.Execute(ctx, fail)
	_ = shopify.Execute(ctx, fail)

	statuses := reg.Statuses()
	if len(statuses) != 2 || statuses[0].Name != "shopify" || statuses[1].Name != "stripe" {
		t.Fatalf("Statuses = %+v", statuses)
	}
	if statuses[0].State != StateClosed || statuses[1].State != StateOpen {
		t.Errorf("states = %s, %s", statuses[0].State, statuses[1].State)
	}
	if !statuses[1].NextAttemptAt.Equal(clock.Now().Add(time.Minute)) {
		t.Errorf("override clock not inherited: %v", statuses[1].NextAttemptAt)
	}

	if err := reg.Reset("stripe"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if stripe.State() != StateClosed {
		t.Error("stripe not closed after Reset")
	}
	if err := reg.Reset("quickbooks"); !errors.Is(err, ErrUnknownBreaker) {
		t.Errorf("Reset unknown = %v, want ErrUnknownBreaker", err)
	}

	_ = stripe.Execute(ctx, fail)
	reg.ResetAll()
	for _, s := range reg.Statuses() {
		if s.State != StateClosed {
			t.Errorf("%s state = %s after ResetAll", s.Name, s.State)
		}
	}
}
