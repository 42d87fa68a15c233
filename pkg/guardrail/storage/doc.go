// Package storage provides the stores the guardrail engine reads from.
//
// # Overview
//
// A Backend serves tenant risk policies, compliance rules and the action
// log used for the daily quota. Implementations:
//
//   - Memory: in-process maps, no persistence
//   - SQLite: file-based persistence (modernc.org/sqlite, WAL mode)
//
// FileStore serves policies and rules from YAML documents on disk and can
// be hot-reloaded with a Watcher. It does not keep an action log; pair it
// with a Backend for the quota counter.
//
// # Usage
//
//	backend, err := storage.NewSQLiteBackend("stepguard.db")
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	err = backend.PutRiskPolicy(ctx, &guardrail.RiskPolicy{TenantID: "acme", MaxDailyActions: 100})
//	engine, err := guardrail.NewEngine(nil, backend, backend, backend, logger)
//
// # Thread Safety
//
// All stores are safe for concurrent use.
package storage
