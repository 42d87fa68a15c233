package idempotency

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(&SQLiteConfig{Path: filepath.Join(t.TempDir(), "idem.db")}, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client, "", time.Hour), mr
}

// stores returns every Store implementation for shared tests.
func stores(t *testing.T) map[string]Store {
	redisStore, _ := newTestRedisStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newTestSQLiteStore(t),
		"redis":  redisStore,
	}
}

// TestEnsureIdempotent_Concurrent tests that racing callers share one factory invocation
func TestEnsureIdempotent_Concurrent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctrl, err := NewController(store, nil)
			if err != nil {
				t.Fatalf("NewController failed: %v", err)
			}

			var invocations atomic.Int32
			release := make(chan struct{})
			factory := func(context.Context) (string, error) {
				n := invocations.Add(1)
				<-release
				return fmt.Sprintf("run-%d", n), nil
			}

			const callers = 8
			type result struct {
				rec     *Record
				created bool
				err     error
			}
			results := make(chan result, callers)
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rec, created, err := ctrl.EnsureIdempotent(context.Background(), "k1", factory)
					results <- result{rec, created, err}
				}()
			}

			// Let the callers pile up behind the first factory call.
			time.Sleep(50 * time.Millisecond)
			close(release)
			wg.Wait()
			close(results)

			createdCount := 0
			var ref string
			for r := range results {
				if r.err != nil {
					t.Fatalf("EnsureIdempotent failed: %v", r.err)
				}
				if r.created {
					createdCount++
				}
				if ref == "" {
					ref = r.rec.ResultRef
				}
				if r.rec.ResultRef != ref {
					t.Errorf("callers received different records: %q vs %q", r.rec.ResultRef, ref)
				}
			}
			if createdCount != 1 {
				t.Errorf("created=true observed %d times, want 1", createdCount)
			}
			if n := invocations.Load(); n != 1 {
				t.Errorf("factory invoked %d times, want 1", n)
			}
		})
	}
}

// TestEnsureIdempotent_FirstCallerCancelled tests that waiting callers are unaffected when the first caller gives up
func TestEnsureIdempotent_FirstCallerCancelled(t *testing.T) {
	ctrl, err := NewController(NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var factoryCtxErr atomic.Value
	factory := func(ctx context.Context) (string, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			factoryCtxErr.Store(err)
		}
		return "run-1", nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := ctrl.EnsureIdempotent(firstCtx, "k1", factory)
		firstErr <- err
	}()
	<-started

	type result struct {
		rec     *Record
		created bool
		err     error
	}
	second := make(chan result, 1)
	go func() {
		rec, created, err := ctrl.EnsureIdempotent(context.Background(), "k1", factory)
		second <- result{rec, created, err}
	}()

	// Let the second caller join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller error = %v, want context.Canceled", err)
	}

	close(release)
	r := <-second
	if r.err != nil {
		t.Fatalf("second caller error = %v", r.err)
	}
	if r.rec.ResultRef != "run-1" || r.created {
		t.Errorf("second caller got %q created=%v, want run-1 created=false", r.rec.ResultRef, r.created)
	}
	if v := factoryCtxErr.Load(); v != nil {
		t.Errorf("factory context done: %v", v)
	}

	rec, created, err := ctrl.EnsureIdempotent(context.Background(), "k1", func(context.Context) (string, error) {
		t.Error("factory invoked for a stored key")
		return "", nil
	})
	if err != nil || created || rec.ResultRef != "run-1" {
		t.Errorf("replay = %+v, %v, %v", rec, created, err)
	}
}

// TestEnsureIdempotent_Timeout tests that the controller timeout bounds the shared work
func TestEnsureIdempotent_Timeout(t *testing.T) {
	store := NewMemoryStore()
	ctrl, _ := NewController(store, nil)
	ctrl.SetTimeout(20 * time.Millisecond)

	_, _, err := ctrl.EnsureIdempotent(context.Background(), "slow", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	var factoryErr *FactoryError
	if !errors.As(err, &factoryErr) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want FactoryError wrapping DeadlineExceeded", err)
	}
	if store.Len() != 0 {
		t.Errorf("store has %d records after timeout, want 0", store.Len())
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := ctrl.EnsureIdempotent(cancelled, "k2", func(context.Context) (string, error) {
		t.Error("factory invoked with a cancelled context")
		return "", nil
	}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller error = %v", err)
	}
}

// TestEnsureIdempotent_Sequential tests that a later call replays without invoking the factory
func TestEnsureIdempotent_Sequential(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctrl, _ := NewController(store, nil)
			ctx := context.Background()

			first, created, err := ctrl.EnsureIdempotent(ctx, "order-42", func(context.Context) (string, error) {
				return "run-a", nil
			})
			if err != nil || !created || first.ResultRef != "run-a" || first.Scope != DefaultScope {
				t.Fatalf("first call = %+v, %v, %v", first, created, err)
			}

			invoked := false
			second, created, err := ctrl.EnsureIdempotent(ctx, "order-42", func(context.Context) (string, error) {
				invoked = true
				return "run-b", nil
			})
			if err != nil || created || second.ResultRef != "run-a" {
				t.Errorf("second call = %+v, %v, %v", second, created, err)
			}
			if invoked {
				t.Error("factory invoked for an existing key")
			}
			if !second.CreatedAt.Equal(first.CreatedAt) {
				t.Errorf("CreatedAt changed: %v vs %v", second.CreatedAt, first.CreatedAt)
			}
		})
	}
}

// TestEnsureIdempotent_Scopes tests that scopes isolate keys
func TestEnsureIdempotent_Scopes(t *testing.T) {
	ctrl, _ := NewController(NewMemoryStore(), nil)
	ctx := context.Background()

	a, createdA, _ := ctrl.ForScope("tenant-a").EnsureIdempotent(ctx, "k", func(context.Context) (string, error) { return "a", nil })
	b, createdB, _ := ctrl.ForScope("tenant-b").EnsureIdempotent(ctx, "k", func(context.Context) (string, error) { return "b", nil })

	if !createdA || !createdB || a.ResultRef != "a" || b.ResultRef != "b" {
		t.Errorf("scoped results = %+v/%v, %+v/%v", a, createdA, b, createdB)
	}
	if b.Scope != "tenant-b" {
		t.Errorf("Scope = %q", b.Scope)
	}
}

// TestEnsureIdempotent_FactoryError tests that a failed factory stores nothing
func TestEnsureIdempotent_FactoryError(t *testing.T) {
	store := NewMemoryStore()
	ctrl, _ := NewController(store, nil)
	ctx := context.Background()
	errCreate := errors.New("run table unavailable")

	_, created, err := ctrl.EnsureIdempotent(ctx, "k", func(context.Context) (string, error) {
		return "", errCreate
	})
	var factoryErr *FactoryError
	if !errors.As(err, &factoryErr) || !errors.Is(err, errCreate) || created {
		t.Fatalf("error = %v, created = %v", err, created)
	}
	if store.Len() != 0 {
		t.Errorf("store has %d records after factory failure", store.Len())
	}

	rec, created, err := ctrl.EnsureIdempotent(ctx, "k", func(context.Context) (string, error) {
		return "run-2", nil
	})
	if err != nil || !created || rec.ResultRef != "run-2" {
		t.Errorf("retry after failure = %+v, %v, %v", rec, created, err)
	}
}

// TestEnsureIdempotent_InvalidInput tests argument validation
func TestEnsureIdempotent_InvalidInput(t *testing.T) {
	ctrl, _ := NewController(NewMemoryStore(), nil)
	ctx := context.Background()

	if _, _, err := ctrl.EnsureIdempotent(ctx, "", func(context.Context) (string, error) { return "", nil }); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("empty key error = %v", err)
	}
	if _, _, err := ctrl.EnsureIdempotent(ctx, "k", nil); !errors.Is(err, ErrNilFactory) {
		t.Errorf("nil factory error = %v", err)
	}
	if _, err := NewController(nil, nil); err == nil {
		t.Error("expected error for nil store")
	}
}

// TestStore_InsertIfAbsent tests the atomic insert contract across processes sharing a backend
func TestStore_InsertIfAbsent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

			const writers = 10
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					rec, inserted, err := store.Insert(ctx, &Record{
						Key: "shared", Scope: "s", ResultRef: fmt.Sprintf("ref-%d", i), CreatedAt: at,
					})
					if err != nil {
						t.Errorf("Insert failed: %v", err)
						return
					}
					if inserted {
						wins.Add(1)
					}
					if rec == nil || rec.Key != "shared" {
						t.Errorf("Insert returned %+v", rec)
					}
				}(i)
			}
			wg.Wait()

			if wins.Load() != 1 {
				t.Errorf("%d inserts won, want 1", wins.Load())
			}

			got, err := store.Get(ctx, "s", "shared")
			if err != nil || got == nil || !got.CreatedAt.Equal(at) {
				t.Errorf("Get = %+v, %v", got, err)
			}
			if missing, _ := store.Get(ctx, "s", "missing"); missing != nil {
				t.Errorf("Get missing = %+v", missing)
			}
		})
	}
}

// TestStore_DeleteBefore tests retention pruning for stores that support it
func TestStore_DeleteBefore(t *testing.T) {
	for name, store := range map[string]Store{"memory": NewMemoryStore(), "sqlite": newTestSQLiteStore(t)} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

			for i, at := range []time.Time{day.Add(-48 * time.Hour), day.Add(-time.Hour), day.Add(time.Hour)} {
				if _, _, err := store.Insert(ctx, &Record{Key: fmt.Sprintf("k%d", i), Scope: "s", ResultRef: "r", CreatedAt: at}); err != nil {
					t.Fatalf("Insert failed: %v", err)
				}
			}

			deleted, err := store.DeleteBefore(ctx, day)
			if err != nil || deleted != 2 {
				t.Fatalf("DeleteBefore = %d, %v; want 2", deleted, err)
			}
			if rec, _ := store.Get(ctx, "s", "k2"); rec == nil {
				t.Error("recent record was deleted")
			}
		})
	}
}

// TestRedisStore_TTL tests that Redis records expire after the retention window
func TestRedisStore_TTL(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	if _, inserted, err := store.Insert(ctx, &Record{Key: "k", Scope: "s", ResultRef: "r", CreatedAt: time.Now()}); err != nil || !inserted {
		t.Fatalf("Insert = %v, %v", inserted, err)
	}
	if ttl := mr.TTL("stepguard:idem:s:k"); ttl != time.Hour {
		t.Errorf("TTL = %s, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if rec, err := store.Get(ctx, "s", "k"); err != nil || rec != nil {
		t.Errorf("Get after expiry = %+v, %v", rec, err)
	}
}

// TestRedisStore_Unreachable tests that connection failures surface as StoreError
func TestRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), RedisConfig{Addr: addr})
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Backend != "redis" {
		t.Errorf("error = %v, want redis StoreError", err)
	}
}

// TestDeriveKey tests the derived key layout
func TestDeriveKey(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 30, 45, 0, time.UTC)
	suffix := uuid.MustParse("1b4e28ba-2fa1-11d2-883f-0016d3cca427")

	key := deriveKey(now, "tenant-a", map[string]any{"amount": 10}, suffix)
	parts := strings.Split(key, ":")
	if len(parts) != 4 {
		t.Fatalf("key %q has %d parts, want 4", key, len(parts))
	}
	if parts[0] != "tenant-a" || parts[1] != "20250314T1530" || parts[3] != "1b4e28ba" {
		t.Errorf("key = %q", key)
	}
	if len(parts[2]) != 16 {
		t.Errorf("hash %q is not 16 hex digits", parts[2])
	}

	same := deriveKey(now.Add(10*time.Second), "tenant-a", map[string]any{"amount": 10}, suffix)
	if same != key {
		t.Errorf("same payload, minute and suffix gave %q and %q", key, same)
	}
	if other := deriveKey(now, "tenant-a", map[string]any{"amount": 11}, suffix); other == key {
		t.Error("different payloads produced the same key")
	}
	if later := deriveKey(now.Add(time.Minute), "tenant-a", map[string]any{"amount": 10}, suffix); later == key {
		t.Error("different minutes produced the same key")
	}

	if DeriveKey("s", "p") == DeriveKey("s", "p") {
		t.Error("DeriveKey returned the same key twice")
	}
}

// TestOpen tests backend selection
func TestOpen(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, StoreConfig{}, nil)
	if _, ok := mem.(*MemoryStore); !ok || err != nil {
		t.Errorf("Open default = %T, %v", mem, err)
	}

	sqlite, err := Open(ctx, StoreConfig{Backend: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")}, nil)
	if err != nil {
		t.Fatalf("Open sqlite failed: %v", err)
	}
	sqlite.Close()

	mr := miniredis.RunT(t)
	rs, err := Open(ctx, StoreConfig{Backend: BackendRedis, RedisAddr: mr.Addr()}, nil)
	if err != nil {
		t.Fatalf("Open redis failed: %v", err)
	}
	rs.Close()

	if _, err := Open(ctx, StoreConfig{Backend: "etcd"}, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}
