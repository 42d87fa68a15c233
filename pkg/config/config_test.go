package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stepguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := Validate(cfg); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("expected listen address %q, got %q", DefaultListenAddress, cfg.Server.ListenAddress)
	}
	if cfg.Resilience.Defaults.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("expected max attempts %d, got %d", DefaultMaxAttempts, cfg.Resilience.Defaults.MaxAttempts)
	}
	if cfg.Resilience.Defaults.TimeoutScope != "total" {
		t.Errorf("expected timeout scope total, got %q", cfg.Resilience.Defaults.TimeoutScope)
	}
	if !cfg.Telemetry.Metrics.Enabled || !cfg.Telemetry.Logging.RedactPII {
		t.Error("expected metrics and redaction enabled by default")
	}
	if cfg.Idempotency.PruneSchedule != DefaultIdempotencyPruneSchedule {
		t.Errorf("expected prune schedule %q, got %q", DefaultIdempotencyPruneSchedule, cfg.Idempotency.PruneSchedule)
	}
	if cfg.Guardrail.Location() != time.UTC {
		t.Errorf("expected UTC location, got %v", cfg.Guardrail.Location())
	}
	if cfg.Telemetry.Tracing.Enabled {
		t.Error("expected tracing disabled by default")
	}
	if cfg.Telemetry.Tracing.Sampler != DefaultTracingSampler || cfg.Telemetry.Tracing.SampleRatio != DefaultTracingSampleRatio {
		t.Errorf("unexpected tracing sampler %q ratio %v", cfg.Telemetry.Tracing.Sampler, cfg.Telemetry.Tracing.SampleRatio)
	}
}

func TestApplyDefaults_PreservesValues(t *testing.T) {
	cfg := &Config{
		Server:     ServerConfig{ListenAddress: "0.0.0.0:7000"},
		Resilience: ResilienceConfig{Defaults: DependencyConfig{MaxAttempts: 7, TimeoutScope: "per_attempt"}},
	}
	ApplyDefaults(cfg)
	ApplyDefaults(cfg)

	if cfg.Server.ListenAddress != "0.0.0.0:7000" {
		t.Errorf("listen address overwritten: %q", cfg.Server.ListenAddress)
	}
	if cfg.Resilience.Defaults.MaxAttempts != 7 || cfg.Resilience.Defaults.TimeoutScope != "per_attempt" {
		t.Errorf("resilience defaults overwritten: %+v", cfg.Resilience.Defaults)
	}
	if cfg.Resilience.Defaults.BaseDelay != DefaultBaseDelay {
		t.Errorf("expected base delay %v, got %v", DefaultBaseDelay, cfg.Resilience.Defaults.BaseDelay)
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:9191"
  read_timeout: "5s"

guardrail:
  source: sqlite
  sqlite_path: /var/lib/stepguard/guardrail.db
  timezone: Europe/Berlin
  run_risk_block_threshold: 90

resilience:
  defaults:
    max_attempts: 4
    base_delay: 100ms
  dependencies:
    payments:
      failure_threshold: 2
      timeout: 3s
      timeout_scope: per_attempt

idempotency:
  backend: redis
  redis:
    address: redis:6379
    db: 2
  retention: 48h

telemetry:
  logging:
    level: debug
    format: text
  metrics:
    enabled: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9191" || cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Server.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("expected default write timeout, got %v", cfg.Server.WriteTimeout)
	}
	if cfg.Guardrail.Source != "sqlite" || cfg.Guardrail.RunRiskBlockThreshold != 90 {
		t.Errorf("unexpected guardrail config: %+v", cfg.Guardrail)
	}
	if cfg.Guardrail.RunRiskApprovalThreshold != DefaultRunRiskApprovalThreshold {
		t.Errorf("expected default approval threshold, got %v", cfg.Guardrail.RunRiskApprovalThreshold)
	}
	if cfg.Guardrail.Location().String() != "Europe/Berlin" {
		t.Errorf("expected Europe/Berlin, got %v", cfg.Guardrail.Location())
	}
	if cfg.Resilience.Defaults.MaxAttempts != 4 || cfg.Resilience.Defaults.BaseDelay != 100*time.Millisecond {
		t.Errorf("unexpected resilience defaults: %+v", cfg.Resilience.Defaults)
	}

	payments, ok := cfg.Resilience.Dependencies["payments"]
	if !ok {
		t.Fatal("expected payments override")
	}
	if payments.FailureThreshold != 2 || payments.Timeout != 3*time.Second || payments.TimeoutScope != "per_attempt" {
		t.Errorf("unexpected payments override: %+v", payments)
	}
	if payments.MaxAttempts != 0 {
		t.Errorf("override should stay sparse, got max attempts %d", payments.MaxAttempts)
	}

	if cfg.Idempotency.Backend != "redis" || cfg.Idempotency.Redis.DB != 2 || cfg.Idempotency.Retention != 48*time.Hour {
		t.Errorf("unexpected idempotency config: %+v", cfg.Idempotency)
	}
	if cfg.Idempotency.Redis.Prefix != DefaultRedisPrefix {
		t.Errorf("expected default redis prefix, got %q", cfg.Idempotency.Redis.Prefix)
	}
	if cfg.Telemetry.Metrics.Enabled {
		t.Error("expected metrics disabled")
	}
	if !cfg.Telemetry.Logging.RedactPII {
		t.Error("omitted redact_pii should keep its default")
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			content: "server: [unclosed",
			wantErr: "failed to parse",
		},
		{
			name:    "unknown field",
			content: "server:\n  listen_adress: 127.0.0.1:1\n",
			wantErr: "listen_adress",
		},
		{
			name:    "invalid backend",
			content: "idempotency:\n  backend: etcd\n",
			wantErr: "idempotency.backend",
		},
		{
			name:    "invalid timeout scope",
			content: "resilience:\n  dependencies:\n    crm:\n      timeout_scope: forever\n",
			wantErr: "resilience.dependencies.crm.timeout_scope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: expected ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("empty file should load defaults: %v", err)
	}
	if cfg.Guardrail.Source != DefaultGuardrailSource {
		t.Errorf("expected default source, got %q", cfg.Guardrail.Source)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:9000"
idempotency:
  backend: memory
`)

	t.Setenv("STEPGUARD_SERVER_LISTEN_ADDRESS", "0.0.0.0:9999")
	t.Setenv("STEPGUARD_RESILIENCE_MAX_ATTEMPTS", "6")
	t.Setenv("STEPGUARD_RESILIENCE_TIMEOUT", "750ms")
	t.Setenv("STEPGUARD_GUARDRAIL_WATCH", "true")
	t.Setenv("STEPGUARD_TELEMETRY_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9999" {
		t.Errorf("expected env listen address, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Resilience.Defaults.MaxAttempts != 6 || cfg.Resilience.Defaults.Timeout != 750*time.Millisecond {
		t.Errorf("unexpected resilience defaults: %+v", cfg.Resilience.Defaults)
	}
	if !cfg.Guardrail.Watch {
		t.Error("expected watch enabled")
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("expected level warn, got %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Idempotency.Backend != "memory" {
		t.Errorf("file value lost: backend %q", cfg.Idempotency.Backend)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidValue(t *testing.T) {
	t.Setenv("STEPGUARD_RESILIENCE_MAX_ATTEMPTS", "many")

	_, err := LoadConfigWithEnvOverrides("")
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Errors[0].Field != "STEPGUARD_RESILIENCE_MAX_ATTEMPTS" {
		t.Errorf("unexpected field %q", verr.Errors[0].Field)
	}
}
