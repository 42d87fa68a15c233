package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"mercator-hq/stepguard/pkg/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
	}
	return m
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantError bool
	}{
		{name: "json", cfg: Config{Level: "info", Format: "json"}},
		{name: "text", cfg: Config{Level: "DEBUG", Format: "text"}},
		{name: "defaults", cfg: Config{}},
		{name: "bad level", cfg: Config{Level: "verbose"}, wantError: true},
		{name: "bad format", cfg: Config{Format: "xml"}, wantError: true},
		{
			name:      "bad pattern",
			cfg:       Config{RedactPII: true, RedactPatterns: []config.RedactPattern{{Name: "broken", Pattern: "("}}},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Writer = &bytes.Buffer{}
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantError {
				t.Fatalf("New() error = %v, wantError %v", err, tt.wantError)
			}
			if !tt.wantError && logger == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %s", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn record missing: %s", buf.String())
	}
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := WithTenant(context.Background(), "acme")
	ctx = WithRun(ctx, "run-1")
	ctx = WithStep(ctx, "s1")
	ctx = WithRequestID(ctx, "req-9")
	logger.InfoContext(ctx, "step blocked", "decision", "block")

	line := decodeLine(t, &buf)
	want := map[string]string{
		"tenant_id":  "acme",
		"run_id":     "run-1",
		"step_id":    "s1",
		"request_id": "req-9",
		"decision":   "block",
	}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("%s = %v, want %q", k, line[k], v)
		}
	}
	if GetTenant(ctx) != "acme" || GetRequestID(ctx) != "req-9" {
		t.Error("context getters returned wrong values")
	}
}

func TestLogger_Redaction(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   any
		want    string
		notWant string
	}{
		{name: "sensitive key", key: "api_key", value: "abcd1234efgh5678", want: "abcd***", notWant: "efgh5678"},
		{name: "short secret", key: "password", value: "hunter2", want: "***", notWant: "hunter2"},
		{name: "bearer token", key: "header", value: "Bearer eyJhbGciOi.abc", want: "Bearer ***", notWant: "eyJhbGciOi"},
		{name: "api key in message", key: "detail", value: "used sk-live1234567890", notWant: "sk-live1234567890"},
		{name: "email", key: "contact", value: "jane.doe@example.com", want: "j***@example.com", notWant: "jane.doe"},
		{name: "error value", key: "error", value: errors.New("password=topsecret rejected"), notWant: "topsecret"},
		{name: "plain value", key: "provider", value: "payments", want: "payments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(Config{RedactPII: true, Writer: &buf})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			logger.Info("msg", tt.key, tt.value)

			out := buf.String()
			if tt.want != "" && !strings.Contains(out, tt.want) {
				t.Errorf("output %q does not contain %q", out, tt.want)
			}
			if tt.notWant != "" && strings.Contains(out, tt.notWant) {
				t.Errorf("output %q leaks %q", out, tt.notWant)
			}
		})
	}
}

func TestLogger_RedactionWithAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{
		RedactPII:      true,
		Writer:         &buf,
		RedactPatterns: []config.RedactPattern{{Name: "account", Pattern: `ACCT-\d+`, Replacement: "ACCT-***"}},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.With("token", "tok_0123456789").Info("msg",
		slog.Group("req", slog.String("secret", "abcdefghij"), slog.String("account", "ACCT-42")),
	)

	out := buf.String()
	for _, leak := range []string{"0123456789", "efghij", "ACCT-42"} {
		if strings.Contains(out, leak) {
			t.Errorf("output %q leaks %q", out, leak)
		}
	}
	if !strings.Contains(out, "ACCT-***") {
		t.Errorf("custom pattern not applied: %s", out)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.LoggingConfig{Level: "debug", Format: "text", AddSource: true, RedactPII: true})
	if cfg.Level != "debug" || cfg.Format != "text" || !cfg.AddSource || !cfg.RedactPII {
		t.Errorf("unexpected config: %+v", cfg)
	}
}
