// Package breaker provides a three-state circuit breaker for calls to
// external providers.
//
// A breaker starts closed. FailureThreshold consecutive failures trip it
// open, after which calls fail fast with an *OpenError until ResetTimeout
// has elapsed. The next call is then admitted as a single half-open probe:
// success closes the breaker, failure reopens it for another ResetTimeout.
//
// Outcomes of calls that were admitted before a state change are counted
// in the totals but never move the state machine.
//
// # Usage
//
//	reg := breaker.NewRegistry(breaker.DefaultConfig())
//	err := reg.Get("stripe").Execute(ctx, func(ctx context.Context) error {
//	    return client.Charge(ctx, req)
//	})
//	if errors.Is(err, breaker.ErrOpen) {
//	    // fail fast
//	}
package breaker
