package retry

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Classifier reports whether an error may succeed on a later attempt.
type Classifier func(err error) bool

// authMarkers are message fragments that identify credential failures
// when the error carries no type information.
var authMarkers = []string{
	"unauthorized",
	"unauthenticated",
	"forbidden",
	"authentication",
	"authorization",
	"invalid api key",
	"invalid token",
	"access denied",
}

// DefaultClassifier retries everything except:
//   - errors marked with Permanent
//   - context cancellation
//   - HTTP 4xx other than 429
//   - authentication and authorization failures, by type or message
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}

	var status *StatusError
	if errors.As(err, &status) {
		return status.Retryable()
	}

	return !IsAuthFailure(err)
}

// IsAuthFailure reports whether err is an authentication or authorization
// failure.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) && status.IsAuth() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retryAfter returns the server-requested delay carried by err, if any.
func retryAfter(err error) time.Duration {
	var hinted interface{ RetryAfterHint() time.Duration }
	if errors.As(err, &hinted) {
		return hinted.RetryAfterHint()
	}
	return 0
}
