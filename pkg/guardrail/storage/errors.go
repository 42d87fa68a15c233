package storage

import (
	"errors"
	"fmt"
)

var (
	errEmptyTenant = errors.New("tenant id cannot be empty")

	// ErrInvalidDocument indicates a policy document failed validation.
	ErrInvalidDocument = errors.New("invalid policy document")
)

// DocumentError reports a problem in a policy document.
type DocumentError struct {
	Path    string
	Tenant  string
	RuleKey string
	Cause   error
}

// Error returns the error message.
func (e *DocumentError) Error() string {
	loc := e.Path
	if e.Tenant != "" {
		loc += ": tenant " + e.Tenant
	}
	if e.RuleKey != "" {
		loc += ": rule " + e.RuleKey
	}
	return fmt.Sprintf("%s: %v", loc, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DocumentError) Unwrap() error {
	return e.Cause
}

// Is reports ErrInvalidDocument for every document error.
func (e *DocumentError) Is(target error) bool {
	return target == ErrInvalidDocument
}
