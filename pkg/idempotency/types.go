package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Record is the result of the first successful creation for a key.
// Records are never updated.
type Record struct {
	// Key is the idempotency key.
	Key string `json:"key"`

	// Scope isolates keys, usually a tenant id.
	Scope string `json:"scope"`

	// ResultRef identifies the unit of work the factory created, such as a
	// run id.
	ResultRef string `json:"result_ref"`

	// CreatedAt is when the record was stored.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists idempotency records. Insert must be an atomic
// insert-if-absent: of any number of concurrent inserts for one
// (scope, key), exactly one reports inserted=true and the others return
// the stored record.
type Store interface {
	// Get returns the record for (scope, key), or nil if absent.
	Get(ctx context.Context, scope, key string) (*Record, error)

	// Insert stores rec unless a record with the same scope and key exists.
	// It returns the stored record and whether this call inserted it.
	Insert(ctx context.Context, rec *Record) (*Record, bool, error)

	// DeleteBefore removes records created before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases the store's resources.
	Close() error
}

var (
	// ErrEmptyKey is returned for an empty idempotency key.
	ErrEmptyKey = errors.New("idempotency key cannot be empty")

	// ErrNilFactory is returned when no factory is supplied.
	ErrNilFactory = errors.New("idempotency factory cannot be nil")
)

// StoreError represents a failure in a store backend.
type StoreError struct {
	Backend   string // "memory", "sqlite", "redis"
	Operation string // "get", "insert", "delete", ...
	Cause     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("idempotency store error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

func newStoreError(backend, operation string, cause error) *StoreError {
	return &StoreError{Backend: backend, Operation: operation, Cause: cause}
}

// FactoryError wraps a factory failure. No record is stored.
type FactoryError struct {
	Key   string
	Cause error
}

// Error implements the error interface.
func (e *FactoryError) Error() string {
	return fmt.Sprintf("idempotent creation for key %q failed: %v", e.Key, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *FactoryError) Unwrap() error {
	return e.Cause
}
