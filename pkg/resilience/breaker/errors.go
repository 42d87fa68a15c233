package breaker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOpen is matched by every *OpenError.
	ErrOpen = errors.New("circuit breaker open")

	// ErrUnknownBreaker indicates a registry lookup for a breaker that was
	// never created.
	ErrUnknownBreaker = errors.New("unknown circuit breaker")
)

// OpenError is returned when a breaker rejects a call.
type OpenError struct {
	// Name is the breaker that rejected the call.
	Name string

	// RetryAt is the earliest time a call may be admitted.
	RetryAt time.Time

	// Probing is set when the breaker is half-open and its single probe
	// is still in flight.
	Probing bool
}

// Error returns the error message.
func (e *OpenError) Error() string {
	if e.Probing {
		return fmt.Sprintf("circuit breaker %q half-open: probe in flight", e.Name)
	}
	return fmt.Sprintf("circuit breaker %q open until %s", e.Name, e.RetryAt.Format(time.RFC3339))
}

// Is reports whether target is ErrOpen.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}
