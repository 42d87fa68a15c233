package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:9090"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second

	// Guardrail defaults
	DefaultGuardrailSource          = "file"
	DefaultGuardrailFilePath        = "./guardrails"
	DefaultGuardrailWatchDebounce   = 100 * time.Millisecond
	DefaultGuardrailSQLitePath      = "data/guardrail.db"
	DefaultRunRiskBlockThreshold    = 80.0
	DefaultRunRiskApprovalThreshold = 60.0
	DefaultGuardrailTimezone        = "UTC"
	DefaultGuardrailLoadTimeout     = 2 * time.Second
	DefaultGuardrailActionRetention = 72 * time.Hour

	// Resilience defaults
	DefaultFailureThreshold  = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultMaxAttempts       = 3
	DefaultBaseDelay         = 200 * time.Millisecond
	DefaultDependencyTimeout = 10 * time.Second
	DefaultTimeoutScope      = "total"

	// Idempotency defaults
	DefaultIdempotencyBackend       = "sqlite"
	DefaultIdempotencySQLitePath    = "data/idempotency.db"
	DefaultRedisAddress             = "localhost:6379"
	DefaultRedisPrefix              = "stepguard:idem:"
	DefaultIdempotencyRetention     = 7 * 24 * time.Hour
	DefaultIdempotencyPruneSchedule = "0 3 * * *"
	DefaultIdempotencyTimeout       = 30 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultLoggingRedactPII = true
	DefaultMetricsEnabled   = true
	DefaultPrometheusPath   = "/metrics"
	DefaultMetricsNamespace = "stepguard"

	// Tracing defaults
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingServiceName = "stepguard"
	DefaultTracingTimeout     = 10 * time.Second
)

// DefaultEvaluationDurationBuckets are the default guardrail latency
// histogram buckets in seconds.
var DefaultEvaluationDurationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

// Default returns a configuration with every default applied, including
// boolean fields whose default is true. LoadConfig decodes on top of it so
// that omitted booleans keep their defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Idempotency.Retention = DefaultIdempotencyRetention
	cfg.Idempotency.PruneSchedule = DefaultIdempotencyPruneSchedule
	cfg.Guardrail.ActionRetention = DefaultGuardrailActionRetention
	cfg.Telemetry.Logging.RedactPII = DefaultLoggingRedactPII
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Guardrail defaults
	g := &cfg.Guardrail
	if g.Source == "" {
		g.Source = DefaultGuardrailSource
	}
	if g.FilePath == "" {
		g.FilePath = DefaultGuardrailFilePath
	}
	if g.WatchDebounce == 0 {
		g.WatchDebounce = DefaultGuardrailWatchDebounce
	}
	if g.SQLitePath == "" {
		g.SQLitePath = DefaultGuardrailSQLitePath
	}
	if g.RunRiskBlockThreshold == 0 {
		g.RunRiskBlockThreshold = DefaultRunRiskBlockThreshold
	}
	if g.RunRiskApprovalThreshold == 0 {
		g.RunRiskApprovalThreshold = DefaultRunRiskApprovalThreshold
	}
	if g.Timezone == "" {
		g.Timezone = DefaultGuardrailTimezone
	}
	if g.LoadTimeout == 0 {
		g.LoadTimeout = DefaultGuardrailLoadTimeout
	}

	// Resilience defaults. Per-dependency overrides stay sparse; zero
	// fields inherit the defaults when the pipelines are built.
	d := &cfg.Resilience.Defaults
	if d.FailureThreshold == 0 {
		d.FailureThreshold = DefaultFailureThreshold
	}
	if d.ResetTimeout == 0 {
		d.ResetTimeout = DefaultResetTimeout
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = DefaultMaxAttempts
	}
	if d.BaseDelay == 0 {
		d.BaseDelay = DefaultBaseDelay
	}
	if d.Timeout == 0 {
		d.Timeout = DefaultDependencyTimeout
	}
	if d.TimeoutScope == "" {
		d.TimeoutScope = DefaultTimeoutScope
	}

	// Idempotency defaults
	i := &cfg.Idempotency
	if i.Backend == "" {
		i.Backend = DefaultIdempotencyBackend
	}
	if i.SQLitePath == "" {
		i.SQLitePath = DefaultIdempotencySQLitePath
	}
	if i.Redis.Address == "" {
		i.Redis.Address = DefaultRedisAddress
	}
	if i.Redis.Prefix == "" {
		i.Redis.Prefix = DefaultRedisPrefix
	}
	if i.Timeout == 0 {
		i.Timeout = DefaultIdempotencyTimeout
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Telemetry.Metrics.EvaluationDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.EvaluationDurationBuckets = append([]float64(nil), DefaultEvaluationDurationBuckets...)
	}

	tr := &cfg.Telemetry.Tracing
	if tr.Sampler == "" {
		tr.Sampler = DefaultTracingSampler
	}
	if tr.Sampler == DefaultTracingSampler && tr.SampleRatio == 0 {
		tr.SampleRatio = DefaultTracingSampleRatio
	}
	if tr.Endpoint == "" {
		tr.Endpoint = DefaultTracingEndpoint
	}
	if tr.ServiceName == "" {
		tr.ServiceName = DefaultTracingServiceName
	}
	if tr.Timeout == 0 {
		tr.Timeout = DefaultTracingTimeout
	}
}
