package timeout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestDo_NeverResolves tests that a hung operation fails near its bound
func TestDo_NeverResolves(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := DoValue(context.Background(), 50*time.Millisecond, func(context.Context) (int, error) {
		<-release
		return 42, nil
	})
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) || !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want TimeoutError", err)
	}
	if timeoutErr.Bound != 50*time.Millisecond {
		t.Errorf("Bound = %s, want 50ms", timeoutErr.Bound)
	}
	if elapsed < 50*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("returned after %s, want about 50ms", elapsed)
	}
}

// TestDo_LateResultDiscarded tests that a result arriving after the bound is not observed
func TestDo_LateResultDiscarded(t *testing.T) {
	var finished atomic.Bool
	ignoreCtx := make(chan struct{})

	got, err := DoValue(context.Background(), 20*time.Millisecond, func(context.Context) (string, error) {
		<-ignoreCtx
		finished.Store(true)
		return "late", nil
	})
	if !errors.Is(err, ErrTimeout) || got != "" {
		t.Fatalf("DoValue = %q, %v; want zero value and timeout", got, err)
	}

	close(ignoreCtx)
	deadline := time.Now().Add(time.Second)
	for !finished.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !finished.Load() {
		t.Fatal("abandoned operation never finished")
	}
}

// TestDo_CancelsDerivedContext tests that cooperative work sees cancellation
func TestDo_CancelsDerivedContext(t *testing.T) {
	observed := make(chan error, 1)

	err := Do(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		observed <- ctx.Err()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}

	select {
	case ctxErr := <-observed:
		if !errors.Is(ctxErr, context.DeadlineExceeded) {
			t.Errorf("operation saw %v, want DeadlineExceeded", ctxErr)
		}
	case <-time.After(time.Second):
		t.Fatal("operation context was not cancelled")
	}
}

// TestDo_Completes tests results within the bound
func TestDo_Completes(t *testing.T) {
	errDecline := errors.New("card declined")

	tests := []struct {
		name    string
		bound   time.Duration
		fn      func(context.Context) (int, error)
		want    int
		wantErr error
	}{
		{"value", time.Second, func(context.Context) (int, error) { return 7, nil }, 7, nil},
		{"error", time.Second, func(context.Context) (int, error) { return 0, errDecline }, 0, errDecline},
		{"unbounded", 0, func(context.Context) (int, error) { return 9, nil }, 9, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DoValue(context.Background(), tt.bound, tt.fn)
			if got != tt.want || !errors.Is(err, tt.wantErr) {
				t.Errorf("DoValue = %d, %v; want %d, %v", got, err, tt.want, tt.wantErr)
			}
		})
	}
}

// TestDo_ParentCancelled tests that parent cancellation is not reported as a timeout
func TestDo_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrTimeout) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

// TestDo_Panic tests that a panic becomes an error
func TestDo_Panic(t *testing.T) {
	err := Do(context.Background(), time.Second, func(context.Context) error {
		panic("provider client bug")
	})
	if err == nil {
		t.Fatal("expected error from panicking operation")
	}
}

type timeoutRecorder struct {
	names []string
}

func (r *timeoutRecorder) RecordTimeout(name string, _ time.Duration) {
	r.names = append(r.names, name)
}

// TestWrapper tests timeout recording
func TestWrapper(t *testing.T) {
	rec := &timeoutRecorder{}
	w := Wrapper{Name: "stripe", Bound: 10 * time.Millisecond, Recorder: rec}

	_ = w.Do(context.Background(), func(context.Context) error { return nil })
	_ = w.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if len(rec.names) != 1 || rec.names[0] != "stripe" {
		t.Errorf("recorded timeouts = %v, want [stripe]", rec.names)
	}
}
