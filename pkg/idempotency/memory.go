package idempotency

import (
	"context"
	"sync"
	"time"
)

type scopedKey struct {
	scope string
	key   string
}

// MemoryStore keeps records in process memory. Useful for tests and
// single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[scopedKey]Record
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[scopedKey]Record)}
}

// Get returns the record for (scope, key), or nil if absent.
func (m *MemoryStore) Get(ctx context.Context, scope, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[scopedKey{scope, key}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Insert stores rec unless the key exists.
func (m *MemoryStore) Insert(ctx context.Context, rec *Record) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := scopedKey{rec.Scope, rec.Key}
	if existing, ok := m.records[k]; ok {
		return &existing, false, nil
	}
	m.records[k] = *rec
	stored := *rec
	return &stored, true, nil
}

// DeleteBefore removes records created before cutoff.
func (m *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for k, rec := range m.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(m.records, k)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
