// Package idempotency deduplicates creation of persistent units of work,
// such as starting a workflow run, by idempotency key.
//
// Controller.EnsureIdempotent looks the key up and, only when absent, calls
// the factory and stores its result. Concurrent callers on one key in a
// process are coalesced with singleflight; stores insert atomically (a
// mutex for MemoryStore, ON CONFLICT DO NOTHING for SQLiteStore, SET NX
// for RedisStore), so at most one caller ever observes created=true.
//
// # Usage
//
//	ctrl, _ := idempotency.NewController(idempotency.NewMemoryStore(), logger)
//	rec, created, err := ctrl.ForScope(tenantID).EnsureIdempotent(ctx, key,
//	    func(ctx context.Context) (string, error) {
//	        return runs.Create(ctx, req)
//	    })
//
// DeriveKey builds a best-effort key from a scope and payload when the
// caller has none. Its hash is a deduplication hint, not a security
// mechanism.
package idempotency
