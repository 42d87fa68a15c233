package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS idempotency_records (
    scope TEXT NOT NULL,
    key TEXT NOT NULL,
    result_ref TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (scope, key)
);

CREATE INDEX IF NOT EXISTS idx_idempotency_created ON idempotency_records(created_at);
`

// SQLiteConfig contains configuration for the SQLite store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/idempotency.db",
		MaxOpenConns: 4,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore persists records in SQLite. Insert relies on the primary key
// and INSERT ... ON CONFLICT DO NOTHING, so concurrent writers in any
// number of processes sharing the file agree on one winner.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) a SQLite store.
func NewSQLiteStore(config *SQLiteConfig, logger *slog.Logger) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 4
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "idempotency.sqlite")

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d", config.Path, config.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, newStoreError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, newStoreError("sqlite", "create_schema", err)
	}

	logger.Info("idempotency store initialized", "path", config.Path)

	return &SQLiteStore{db: db, config: config, logger: logger}, nil
}

// Get returns the record for (scope, key), or nil if absent.
func (s *SQLiteStore) Get(ctx context.Context, scope, key string) (*Record, error) {
	var (
		ref       string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT result_ref, created_at FROM idempotency_records WHERE scope = ? AND key = ?`,
		scope, key,
	).Scan(&ref, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, newStoreError("sqlite", "get", err)
	}

	return &Record{
		Key:       key,
		Scope:     scope,
		ResultRef: ref,
		CreatedAt: time.Unix(0, createdAt).UTC(),
	}, nil
}

// Insert stores rec unless the key exists.
func (s *SQLiteStore) Insert(ctx context.Context, rec *Record) (*Record, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_records (scope, key, result_ref, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(scope, key) DO NOTHING`,
		rec.Scope, rec.Key, rec.ResultRef, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, false, newStoreError("sqlite", "insert", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, newStoreError("sqlite", "insert", err)
	}
	if n == 1 {
		stored := *rec
		return &stored, true, nil
	}

	existing, err := s.Get(ctx, rec.Scope, rec.Key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, newStoreError("sqlite", "insert",
			fmt.Errorf("record %q conflicted but is no longer present", rec.Key))
	}
	return existing, false, nil
}

// DeleteBefore removes records created before cutoff.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, newStoreError("sqlite", "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, newStoreError("sqlite", "delete", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return newStoreError("sqlite", "close", err)
	}
	return nil
}
