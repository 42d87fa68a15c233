package config

import "time"

// Config is the root configuration structure for stepguard.
type Config struct {
	// Server contains the admin HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Guardrail contains the decision engine configuration including the
	// policy source and risk thresholds.
	Guardrail GuardrailConfig `yaml:"guardrail"`

	// Resilience contains breaker, retry and timeout settings, with
	// optional per-dependency overrides.
	Resilience ResilienceConfig `yaml:"resilience"`

	// Idempotency contains the idempotency store configuration.
	Idempotency IdempotencyConfig `yaml:"idempotency"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the admin HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 60s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GuardrailConfig contains configuration for the guardrail engine and
// its policy source.
type GuardrailConfig struct {
	// Source selects where tenant policies and rules are read from.
	// Options: "file", "sqlite", "memory"
	// Default: "file"
	Source string `yaml:"source"`

	// FilePath is a YAML policy document or a directory of them.
	// Only used when Source is "file".
	// Default: "./guardrails"
	FilePath string `yaml:"file_path"`

	// Watch reloads the file source when it changes.
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce coalesces bursts of file events.
	// Default: 100ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// SQLitePath is the database holding policies, rules and the action
	// log. With the file source it still holds the action log.
	// Default: "data/guardrail.db"
	SQLitePath string `yaml:"sqlite_path"`

	// RunRiskBlockThreshold is the run risk score at or above which steps
	// are blocked.
	// Default: 80
	RunRiskBlockThreshold float64 `yaml:"run_risk_block_threshold"`

	// RunRiskApprovalThreshold is the run risk score at or above which
	// steps need approval.
	// Default: 60
	RunRiskApprovalThreshold float64 `yaml:"run_risk_approval_threshold"`

	// Timezone is the IANA zone defining the daily quota day boundary.
	// Default: "UTC"
	Timezone string `yaml:"timezone"`

	// LoadTimeout bounds each store lookup during evaluation.
	// Default: 2s
	LoadTimeout time.Duration `yaml:"load_timeout"`

	// ActionRetention is how long action-log entries are kept. Must cover
	// at least one quota day. Zero keeps them forever.
	// Default: 72h
	ActionRetention time.Duration `yaml:"action_retention"`
}

// ResilienceConfig contains configuration for the resilience pipelines.
type ResilienceConfig struct {
	// Defaults apply to every dependency.
	Defaults DependencyConfig `yaml:"defaults"`

	// Dependencies holds per-dependency overrides keyed by provider name.
	// Zero fields inherit Defaults.
	Dependencies map[string]DependencyConfig `yaml:"dependencies"`
}

// DependencyConfig configures the pipeline guarding one dependency.
type DependencyConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// breaker.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// ResetTimeout is how long an open breaker rejects calls.
	// Default: 30s
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// MaxAttempts is the total number of attempts including the first.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the backoff before the first retry.
	// Default: 200ms
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps a single backoff. Zero means no cap.
	// Default: 0
	MaxDelay time.Duration `yaml:"max_delay"`

	// Timeout bounds the call. Zero disables the bound.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// TimeoutScope selects what Timeout bounds.
	// Options: "total", "per_attempt"
	// Default: "total"
	TimeoutScope string `yaml:"timeout_scope"`
}

// IdempotencyConfig contains configuration for the idempotency store.
type IdempotencyConfig struct {
	// Backend selects the store.
	// Options: "memory", "sqlite", "redis"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	// Default: "data/idempotency.db"
	SQLitePath string `yaml:"sqlite_path"`

	// Redis contains settings for the redis backend.
	Redis RedisConfig `yaml:"redis"`

	// Retention is how long records are kept. Zero keeps them forever.
	// Default: 168h (7 days)
	Retention time.Duration `yaml:"retention"`

	// PruneSchedule is the cron expression for retention pruning. Empty
	// disables scheduled pruning.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`

	// Timeout bounds the lookup, factory and insert shared by concurrent
	// callers of one key. It applies even after the first caller gives up.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	// Address is the Redis server address.
	// Default: "localhost:6379"
	Address string `yaml:"address"`

	// Password is the Redis password, if any.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	// Default: 0
	DB int `yaml:"db"`

	// Prefix is prepended to every key.
	// Default: "stepguard:idem:"
	Prefix string `yaml:"prefix"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII masks API keys, emails and similar values in log
	// attributes.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns contains custom redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "stepguard"
	Namespace string `yaml:"namespace"`

	// EvaluationDurationBuckets defines histogram buckets for guardrail
	// evaluation latency (seconds).
	// Default: [0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1]
	EvaluationDurationBuckets []float64 `yaml:"evaluation_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "stepguard"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS to the collector.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// Location returns the quota day location, falling back to UTC when the
// timezone cannot be loaded.
func (c *GuardrailConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
