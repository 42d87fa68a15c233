package retry

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrExhausted is matched by every *ExhaustedError.
var ErrExhausted = errors.New("retries exhausted")

// ExhaustedError is returned when every attempt failed with a retryable
// error.
type ExhaustedError struct {
	// Attempts is the number of attempts made.
	Attempts int

	// Last is the error from the final attempt.
	Last error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempt(s): %v", e.Attempts, e.Last)
}

// Unwrap returns the last underlying error.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Is reports whether target is ErrExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// NonRetryableError is returned as soon as an attempt fails with an error
// the classifier rejects. Remaining attempts are not consumed.
type NonRetryableError struct {
	// Attempt is the 1-based attempt that failed.
	Attempt int

	// Err is the original failure.
	Err error
}

// Error implements the error interface.
func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable failure on attempt %d: %v", e.Attempt, e.Err)
}

// Unwrap returns the original failure.
func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable regardless of its content.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the (truncated) response body.
	Message string

	// RetryAfter is the server's Retry-After hint, if any.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Message)
}

// IsAuth reports whether the status is an authentication or authorization
// failure.
func (e *StatusError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Retryable reports whether the status may succeed on a later attempt:
// 429 and 5xx.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// RetryAfterHint returns the minimum delay requested by the server.
func (e *StatusError) RetryAfterHint() time.Duration {
	return e.RetryAfter
}
