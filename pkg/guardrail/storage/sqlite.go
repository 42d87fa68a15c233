package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mercator-hq/stepguard/pkg/guardrail"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend implements Backend using SQLite for persistence.
// It is suitable for single-instance deployments that need the policy set
// and action log to survive restarts.
//
// The database runs in WAL mode with periodic checkpoints.
type SQLiteBackend struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	putPolicyStmt    *sql.Stmt
	getPolicyStmt    *sql.Stmt
	deletePolicyStmt *sql.Stmt
	putRuleStmt      *sql.Stmt
	deleteRuleStmt   *sql.Stmt
	listRulesStmt    *sql.Stmt
	recordStmt       *sql.Stmt
	countStmt        *sql.Stmt
	cleanupStmt      *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a new SQLite backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS risk_policies (
		tenant_id TEXT PRIMARY KEY,
		policy TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS compliance_rules (
		tenant_id TEXT NOT NULL,
		rule_key TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		rule TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, rule_key)
	);

	CREATE TABLE IF NOT EXISTS step_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		performed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_step_actions_tenant_time ON step_actions(tenant_id, performed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteBackend) prepareStatements() error {
	statements := []struct {
		dst   **sql.Stmt
		name  string
		query string
	}{
		{&s.putPolicyStmt, "put policy", `
			INSERT INTO risk_policies (tenant_id, policy, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (tenant_id) DO UPDATE SET
				policy = excluded.policy,
				updated_at = excluded.updated_at`},
		{&s.getPolicyStmt, "get policy", `SELECT policy FROM risk_policies WHERE tenant_id = ?`},
		{&s.deletePolicyStmt, "delete policy", `DELETE FROM risk_policies WHERE tenant_id = ?`},
		{&s.putRuleStmt, "put rule", `
			INSERT INTO compliance_rules (tenant_id, rule_key, enabled, rule, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, rule_key) DO UPDATE SET
				enabled = excluded.enabled,
				rule = excluded.rule,
				updated_at = excluded.updated_at`},
		{&s.deleteRuleStmt, "delete rule", `DELETE FROM compliance_rules WHERE tenant_id = ? AND rule_key = ?`},
		{&s.listRulesStmt, "list rules", `
			SELECT rule FROM compliance_rules
			WHERE tenant_id = ? AND (enabled = 1 OR ? = 0)
			ORDER BY rule_key`},
		{&s.recordStmt, "record action", `INSERT INTO step_actions (tenant_id, step_id, performed_at) VALUES (?, ?, ?)`},
		{&s.countStmt, "count actions", `SELECT COUNT(*) FROM step_actions WHERE tenant_id = ? AND performed_at >= ?`},
		{&s.cleanupStmt, "cleanup", `DELETE FROM step_actions WHERE performed_at < ?`},
	}

	for _, st := range statements {
		stmt, err := s.db.Prepare(st.query)
		if err != nil {
			return fmt.Errorf("failed to prepare %s statement: %w", st.name, err)
		}
		*st.dst = stmt
	}
	return nil
}

// GetRiskPolicy returns the tenant's policy, or nil if none.
func (s *SQLiteBackend) GetRiskPolicy(ctx context.Context, tenantID string) (*guardrail.RiskPolicy, error) {
	var raw string
	err := s.getPolicyStmt.QueryRowContext(ctx, tenantID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	policy := &guardrail.RiskPolicy{}
	if err := json.Unmarshal([]byte(raw), policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	policy.TenantID = tenantID
	return policy, nil
}

// PutRiskPolicy creates or replaces the tenant's policy.
func (s *SQLiteBackend) PutRiskPolicy(ctx context.Context, policy *guardrail.RiskPolicy) error {
	if policy == nil {
		return fmt.Errorf("policy cannot be nil")
	}
	if err := validateTenant(policy.TenantID); err != nil {
		return err
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	raw, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	if _, err := s.putPolicyStmt.ExecContext(ctx, policy.TenantID, string(raw), time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// DeleteRiskPolicy removes the tenant's policy.
func (s *SQLiteBackend) DeleteRiskPolicy(ctx context.Context, tenantID string) error {
	if _, err := s.deletePolicyStmt.ExecContext(ctx, tenantID); err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	return nil
}

// PutRule creates or replaces a rule.
func (s *SQLiteBackend) PutRule(ctx context.Context, tenantID string, rule *guardrail.ComplianceRule) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}
	if rule == nil || rule.Key == "" {
		return fmt.Errorf("rule key cannot be empty")
	}

	raw, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule %s: %w", rule.Key, err)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	if _, err := s.putRuleStmt.ExecContext(ctx, tenantID, rule.Key, enabled, string(raw), time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.Key, err)
	}
	return nil
}

// DeleteRule removes a rule.
func (s *SQLiteBackend) DeleteRule(ctx context.Context, tenantID, key string) error {
	if _, err := s.deleteRuleStmt.ExecContext(ctx, tenantID, key); err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", key, err)
	}
	return nil
}

// ListRules returns all rules for the tenant ordered by key.
func (s *SQLiteBackend) ListRules(ctx context.Context, tenantID string) ([]*guardrail.ComplianceRule, error) {
	return s.listRules(ctx, tenantID, false)
}

// ListEnabledRules returns the tenant's enabled rules ordered by key.
func (s *SQLiteBackend) ListEnabledRules(ctx context.Context, tenantID string) ([]*guardrail.ComplianceRule, error) {
	return s.listRules(ctx, tenantID, true)
}

func (s *SQLiteBackend) listRules(ctx context.Context, tenantID string, enabledOnly bool) ([]*guardrail.ComplianceRule, error) {
	onlyEnabled := 0
	if enabledOnly {
		onlyEnabled = 1
	}

	rows, err := s.listRulesStmt.QueryContext(ctx, tenantID, onlyEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := []*guardrail.ComplianceRule{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rule := &guardrail.ComplianceRule{}
		if err := json.Unmarshal([]byte(raw), rule); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return rules, nil
}

// RecordAction appends an action to the log.
func (s *SQLiteBackend) RecordAction(ctx context.Context, tenantID, stepID string, at time.Time) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}
	if _, err := s.recordStmt.ExecContext(ctx, tenantID, stepID, at.UnixMilli()); err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

// CountActions returns the number of actions at or after since.
func (s *SQLiteBackend) CountActions(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var count int
	if err := s.countStmt.QueryRowContext(ctx, tenantID, since.UnixMilli()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}
	return count, nil
}

// Cleanup removes action log entries older than the cutoff.
func (s *SQLiteBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.cleanupStmt.ExecContext(ctx, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{
			s.putPolicyStmt, s.getPolicyStmt, s.deletePolicyStmt,
			s.putRuleStmt, s.deleteRuleStmt, s.listRulesStmt,
			s.recordStmt, s.countStmt, s.cleanupStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
