package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/stepguard/pkg/guardrail"
)

func newTestSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	backend, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "guardrail.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

// backends returns every Backend implementation for shared tests.
func backends(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": newTestSQLiteBackend(t),
	}
}

// TestBackend_Policies tests policy put, get and delete
func TestBackend_Policies(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := backend.GetRiskPolicy(ctx, "acme")
			if err != nil {
				t.Fatalf("GetRiskPolicy failed: %v", err)
			}
			if got != nil {
				t.Fatalf("expected nil policy, got %+v", got)
			}

			policy := &guardrail.RiskPolicy{
				TenantID:              "acme",
				KillSwitch:            true,
				MaxDailyActions:       42,
				RequireApprovalAbove:  250.5,
				MaxAllowedAmount:      9000,
				AllowedProviderScopes: map[string][]string{"stripe": {"charges."}},
			}
			if err := backend.PutRiskPolicy(ctx, policy); err != nil {
				t.Fatalf("PutRiskPolicy failed: %v", err)
			}

			// Mutating the caller's copy must not leak into the store.
			policy.AllowedProviderScopes["stripe"][0] = "mutated"

			got, err = backend.GetRiskPolicy(ctx, "acme")
			if err != nil {
				t.Fatalf("GetRiskPolicy failed: %v", err)
			}
			if got == nil || !got.KillSwitch || got.MaxDailyActions != 42 || got.RequireApprovalAbove != 250.5 {
				t.Errorf("GetRiskPolicy = %+v", got)
			}
			if got.AllowedProviderScopes["stripe"][0] != "charges." {
				t.Errorf("scopes = %v", got.AllowedProviderScopes)
			}

			if err := backend.DeleteRiskPolicy(ctx, "acme"); err != nil {
				t.Fatalf("DeleteRiskPolicy failed: %v", err)
			}
			if got, _ := backend.GetRiskPolicy(ctx, "acme"); got != nil {
				t.Errorf("policy still present after delete")
			}
		})
	}
}

// TestBackend_PolicyValidation tests that invalid policies are rejected
func TestBackend_PolicyValidation(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := backend.PutRiskPolicy(ctx, &guardrail.RiskPolicy{}); err == nil {
				t.Error("expected error for empty tenant")
			}
			if err := backend.PutRiskPolicy(ctx, &guardrail.RiskPolicy{TenantID: "t", MaxAllowedAmount: -1}); err == nil {
				t.Error("expected error for negative cap")
			}
		})
	}
}

// TestBackend_Rules tests rule storage and enabled filtering
func TestBackend_Rules(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rules := []*guardrail.ComplianceRule{
				{Key: "b-rule", Enabled: true, Severity: guardrail.RuleSeverityError,
					Logic: map[string]any{">": []any{map[string]any{"var": "amount"}, 10.0}}},
				{Key: "a-rule", Enabled: false, Severity: guardrail.RuleSeverityWarning,
					Logic: map[string]any{"==": []any{1.0, 1.0}}},
				{Key: "c-rule", Enabled: true, Severity: guardrail.RuleSeverityAdvisory, Jurisdiction: "EU",
					Logic: map[string]any{"==": []any{1.0, 2.0}}},
			}
			for _, r := range rules {
				if err := backend.PutRule(ctx, "acme", r); err != nil {
					t.Fatalf("PutRule failed: %v", err)
				}
			}

			all, err := backend.ListRules(ctx, "acme")
			if err != nil {
				t.Fatalf("ListRules failed: %v", err)
			}
			if len(all) != 3 || all[0].Key != "a-rule" || all[2].Key != "c-rule" {
				t.Fatalf("ListRules = %v", ruleKeys(all))
			}

			enabled, err := backend.ListEnabledRules(ctx, "acme")
			if err != nil {
				t.Fatalf("ListEnabledRules failed: %v", err)
			}
			if len(enabled) != 2 || enabled[0].Key != "b-rule" || enabled[1].Key != "c-rule" {
				t.Fatalf("ListEnabledRules = %v", ruleKeys(enabled))
			}
			if enabled[1].Jurisdiction != "EU" || enabled[0].Severity != guardrail.RuleSeverityError {
				t.Errorf("rule fields not preserved: %+v %+v", enabled[0], enabled[1])
			}
			if enabled[0].Logic == nil {
				t.Error("rule logic not preserved")
			}

			// Replacing a rule updates enabled state.
			rules[1].Enabled = true
			if err := backend.PutRule(ctx, "acme", rules[1]); err != nil {
				t.Fatalf("PutRule failed: %v", err)
			}
			if err := backend.DeleteRule(ctx, "acme", "c-rule"); err != nil {
				t.Fatalf("DeleteRule failed: %v", err)
			}
			enabled, _ = backend.ListEnabledRules(ctx, "acme")
			if len(enabled) != 2 || enabled[0].Key != "a-rule" || enabled[1].Key != "b-rule" {
				t.Errorf("ListEnabledRules after update = %v", ruleKeys(enabled))
			}

			other, _ := backend.ListEnabledRules(ctx, "other")
			if len(other) != 0 {
				t.Errorf("other tenant rules = %v", ruleKeys(other))
			}
		})
	}
}

// TestBackend_ActionLog tests counting and cleanup of the action log
func TestBackend_ActionLog(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

			times := []time.Time{
				day.Add(-2 * time.Hour),
				day,
				day.Add(3 * time.Hour),
				day.Add(5 * time.Hour),
			}
			for i, at := range times {
				if err := backend.RecordAction(ctx, "acme", "step", at); err != nil {
					t.Fatalf("RecordAction %d failed: %v", i, err)
				}
			}
			if err := backend.RecordAction(ctx, "other", "step", day.Add(time.Hour)); err != nil {
				t.Fatalf("RecordAction failed: %v", err)
			}

			count, err := backend.CountActions(ctx, "acme", day)
			if err != nil {
				t.Fatalf("CountActions failed: %v", err)
			}
			if count != 3 {
				t.Errorf("CountActions = %d, want 3", count)
			}

			deleted, err := backend.Cleanup(ctx, day)
			if err != nil {
				t.Fatalf("Cleanup failed: %v", err)
			}
			if deleted != 1 {
				t.Errorf("Cleanup deleted %d, want 1", deleted)
			}

			count, _ = backend.CountActions(ctx, "acme", day.Add(-24*time.Hour))
			if count != 3 {
				t.Errorf("CountActions after cleanup = %d, want 3", count)
			}
		})
	}
}

// TestSQLiteBackend_Persistence tests that data survives reopening the database
func TestSQLiteBackend_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	backend, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	if err := backend.PutRiskPolicy(ctx, &guardrail.RiskPolicy{TenantID: "acme", MaxDailyActions: 7}); err != nil {
		t.Fatalf("PutRiskPolicy failed: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent.
	if err := backend.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	reopened, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetRiskPolicy(ctx, "acme")
	if err != nil || got == nil || got.MaxDailyActions != 7 {
		t.Errorf("GetRiskPolicy after reopen = %+v, %v", got, err)
	}
}

// TestBackend_WithEngine tests a backend wired into the guardrail engine
func TestBackend_WithEngine(t *testing.T) {
	backend := newTestSQLiteBackend(t)
	ctx := context.Background()

	if err := backend.PutRiskPolicy(ctx, &guardrail.RiskPolicy{TenantID: "acme", MaxDailyActions: 2}); err != nil {
		t.Fatalf("PutRiskPolicy failed: %v", err)
	}

	now := time.Now()
	cfg := guardrail.DefaultEngineConfig()
	cfg.Now = func() time.Time { return now }
	engine, err := guardrail.NewEngine(cfg, backend, backend, backend, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	run := &guardrail.Run{ID: "r1", TenantID: "acme"}
	step := &guardrail.Step{ID: "s1"}
	for i := 0; i < 2; i++ {
		if v := engine.Evaluate(ctx, run, step, nil); v.Blocked {
			t.Fatalf("evaluation %d blocked: %s", i, v.Summary)
		}
		if err := backend.RecordAction(ctx, "acme", "s1", now); err != nil {
			t.Fatalf("RecordAction failed: %v", err)
		}
	}

	v := engine.Evaluate(ctx, run, step, nil)
	if !v.Blocked || v.Findings[0].Kind != guardrail.KindDailyQuota {
		t.Errorf("expected daily quota block, got %+v", v)
	}
}

func ruleKeys(rules []*guardrail.ComplianceRule) []string {
	keys := make([]string, len(rules))
	for i, r := range rules {
		keys[i] = r.Key
	}
	return keys
}
