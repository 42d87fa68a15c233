package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/stepguard/pkg/guardrail"
	"mercator-hq/stepguard/pkg/rules"
)

const acmeDocument = `
tenants:
  acme:
    policy:
      max_daily_actions: 100
      require_approval_above: 500
      max_allowed_amount: 2000
      block_high_risk_steps: true
      allowed_provider_scopes:
        stripe: ["charges."]
    rules:
      - key: us-large
        name: Large US transfer
        jurisdiction: US
        severity: error
        enabled: true
        logic:
          and:
            - ">=": [{var: amount}, 100]
            - "==": [{var: country}, US]
      - key: disabled-rule
        severity: critical
        enabled: false
        logic: {"==": [1, 1]}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

// TestFileStore_Load tests loading a single document
func TestFileStore_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	writeFile(t, path, acmeDocument)

	store, err := NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	policy, err := store.GetRiskPolicy(ctx, "acme")
	if err != nil || policy == nil {
		t.Fatalf("GetRiskPolicy = %v, %v", policy, err)
	}
	if policy.TenantID != "acme" || policy.MaxDailyActions != 100 || policy.MaxAllowedAmount != 2000 {
		t.Errorf("policy = %+v", policy)
	}
	if scopes := policy.AllowedProviderScopes["stripe"]; len(scopes) != 1 || scopes[0] != "charges." {
		t.Errorf("scopes = %v", policy.AllowedProviderScopes)
	}

	enabled, _ := store.ListEnabledRules(ctx, "acme")
	if len(enabled) != 1 || enabled[0].Key != "us-large" {
		t.Fatalf("enabled rules = %v", ruleKeys(enabled))
	}

	violated, err := rules.Evaluate(enabled[0].Logic, map[string]any{"amount": 150, "country": "US"})
	if err != nil || !violated {
		t.Errorf("rule evaluation = %v, %v; want true", violated, err)
	}

	if tenants := store.Tenants(); len(tenants) != 1 || tenants[0] != "acme" {
		t.Errorf("Tenants() = %v", tenants)
	}
	if p, _ := store.GetRiskPolicy(ctx, "nobody"); p != nil {
		t.Errorf("unknown tenant policy = %+v", p)
	}
}

// TestFileStore_Directory tests loading and merging a directory of documents
func TestFileStore_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acme.yaml"), acmeDocument)
	writeFile(t, filepath.Join(dir, "globex.yml"), `
tenants:
  globex:
    policy:
      kill_switch: true
  acme:
    rules:
      - key: a-extra
        severity: advisory
        enabled: true
        logic: {"var": "flagged"}
`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a policy")
	if err := os.Mkdir(filepath.Join(dir, ".hidden"), 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	writeFile(t, filepath.Join(dir, ".hidden", "broken.yaml"), "tenants: [")

	store, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	ctx := context.Background()
	globex, _ := store.GetRiskPolicy(ctx, "globex")
	if globex == nil || !globex.KillSwitch {
		t.Errorf("globex policy = %+v", globex)
	}

	enabled, _ := store.ListEnabledRules(ctx, "acme")
	if len(enabled) != 2 || enabled[0].Key != "a-extra" || enabled[1].Key != "us-large" {
		t.Errorf("merged rules = %v", ruleKeys(enabled))
	}
}

// TestFileStore_RejectsInvalidDocument tests that a bad reload keeps the previous snapshot
func TestFileStore_RejectsInvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	writeFile(t, path, acmeDocument)

	store, err := NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	writeFile(t, path, `
tenants:
  acme:
    rules:
      - key: broken
        severity: error
        enabled: true
        logic: {">=": [1]}
`)
	err = store.Reload(context.Background())
	if !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("Reload() error = %v, want ErrInvalidDocument", err)
	}

	policy, _ := store.GetRiskPolicy(context.Background(), "acme")
	if policy == nil || policy.MaxDailyActions != 100 {
		t.Errorf("previous snapshot lost: %+v", policy)
	}
}

// TestFileStore_UnknownOperatorAccepted tests that unknown operators load with a warning
func TestFileStore_UnknownOperatorAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	writeFile(t, path, `
tenants:
  acme:
    rules:
      - key: regex
        severity: warning
        enabled: true
        logic: {matches: [{var: name}, "^x"]}
`)

	store, err := NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	enabled, _ := store.ListEnabledRules(context.Background(), "acme")
	if len(enabled) != 1 {
		t.Errorf("rules = %v", ruleKeys(enabled))
	}
}

// TestDocument_Lint tests problem reporting
func TestDocument_Lint(t *testing.T) {
	doc, err := ParseDocument([]byte(`
tenants:
  acme:
    policy:
      require_approval_above: -5
    rules:
      - key: dup
        severity: warning
        logic: {"==": [1, 1]}
      - key: dup
        severity: loud
        logic: {"==": [1, 1]}
      - severity: warning
        logic: {"==": [1, 1]}
      - key: nologic
        severity: warning
      - key: unknown
        severity: warning
        logic: {regex: [1, 2]}
`))
	if err != nil {
		t.Fatalf("ParseDocument failed: %v", err)
	}

	problems := doc.Lint("test.yaml")
	// negative threshold, duplicate key, bad severity, missing key, missing logic, unknown op
	if len(problems) != 6 {
		t.Fatalf("Lint() returned %d problems, want 6: %v", len(problems), problems)
	}

	var unknown *rules.UnknownOperatorError
	if !errors.As(problems[5], &unknown) || unknown.Operator != "regex" {
		t.Errorf("last problem = %v, want unknown operator regex", problems[5])
	}
}

// TestLintPath tests linting a directory of documents
func TestLintPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acme.yaml"), acmeDocument)
	writeFile(t, filepath.Join(dir, "broken.yml"), "tenants: [")
	writeFile(t, filepath.Join(dir, "bad.yaml"), `
tenants:
  globex:
    rules:
      - key: r1
        severity: loud
        logic: {"==": [1, 1]}
`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	results, err := LintPath(dir)
	if err != nil {
		t.Fatalf("LintPath failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("LintPath returned %d results, want 3", len(results))
	}

	want := map[string]int{"acme.yaml": 0, "bad.yaml": 1, "broken.yml": 1}
	for _, r := range results {
		if got := len(r.Problems); got != want[filepath.Base(r.Path)] {
			t.Errorf("%s: %d problems, want %d: %v", r.Path, got, want[filepath.Base(r.Path)], r.Problems)
		}
	}

	if _, err := LintPath(filepath.Join(dir, "missing")); err == nil {
		t.Error("LintPath on a missing path should fail")
	}
}

// TestWatcher_ReloadsOnChange tests hot reload through fsnotify
func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	writeFile(t, path, acmeDocument)

	store, err := NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	watcher, err := NewWatcher(store, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	reloaded := make(chan error, 10)
	watcher.OnReload = func(err error) { reloaded <- err }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchErr := make(chan error, 1)
	go func() { watchErr <- watcher.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)

	writeFile(t, path, `
tenants:
  acme:
    policy:
      kill_switch: true
`)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-reloaded:
			if err != nil {
				t.Fatalf("reload failed: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
		policy, _ := store.GetRiskPolicy(context.Background(), "acme")
		if policy != nil && policy.KillSwitch {
			break
		}
	}

	engine, err := guardrail.NewEngine(nil, store, store, NewMemoryBackend(), nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if v := engine.Evaluate(context.Background(), &guardrail.Run{TenantID: "acme"}, &guardrail.Step{ID: "s"}, nil); !v.Blocked {
		t.Error("reloaded kill switch did not block")
	}

	if err := watcher.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := <-watchErr; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}

// TestDebouncer_CoalescesBursts tests that a burst triggers one callback
func TestDebouncer_CoalescesBursts(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	calls := make(chan int, 10)
	for i := 0; i < 5; i++ {
		n := i
		d.Trigger(func() { calls <- n })
	}

	select {
	case n := <-calls:
		if n != 4 {
			t.Errorf("callback %d ran, want the last one (4)", n)
		}
	case <-time.After(time.Second):
		t.Fatal("debounced callback never ran")
	}

	select {
	case n := <-calls:
		t.Errorf("unexpected extra callback %d", n)
	case <-time.After(100 * time.Millisecond):
	}
}
