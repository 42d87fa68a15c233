package config

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateGuardrail(&cfg.Guardrail)...)
	errs = append(errs, validateResilience(&cfg.Resilience)...)
	errs = append(errs, validateIdempotency(&cfg.Idempotency)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid address %q: %v", cfg.ListenAddress, err),
		})
	}

	for field, d := range map[string]time.Duration{
		"server.read_timeout":     cfg.ReadTimeout,
		"server.write_timeout":    cfg.WriteTimeout,
		"server.idle_timeout":     cfg.IdleTimeout,
		"server.shutdown_timeout": cfg.ShutdownTimeout,
	} {
		if d < 0 {
			errs = append(errs, FieldError{Field: field, Message: "timeout must be non-negative"})
		}
	}
	sortFieldErrors(errs)
	return errs
}

func validateGuardrail(cfg *GuardrailConfig) []FieldError {
	var errs []FieldError

	switch cfg.Source {
	case "file":
		if cfg.FilePath == "" {
			errs = append(errs, FieldError{Field: "guardrail.file_path", Message: "file path is required when source is file"})
		}
	case "sqlite", "memory":
		if cfg.Watch {
			errs = append(errs, FieldError{Field: "guardrail.watch", Message: "watch is only supported with the file source"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "guardrail.source",
			Message: fmt.Sprintf("invalid source %q (must be file, sqlite or memory)", cfg.Source),
		})
	}

	if cfg.WatchDebounce < 0 {
		errs = append(errs, FieldError{Field: "guardrail.watch_debounce", Message: "debounce must be non-negative"})
	}
	if cfg.RunRiskBlockThreshold < 0 || cfg.RunRiskApprovalThreshold < 0 {
		errs = append(errs, FieldError{Field: "guardrail.run_risk_block_threshold", Message: "risk thresholds must be non-negative"})
	}
	if cfg.RunRiskApprovalThreshold > cfg.RunRiskBlockThreshold {
		errs = append(errs, FieldError{
			Field: "guardrail.run_risk_approval_threshold",
			Message: fmt.Sprintf("approval threshold (%v) exceeds block threshold (%v)",
				cfg.RunRiskApprovalThreshold, cfg.RunRiskBlockThreshold),
		})
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, FieldError{Field: "guardrail.timezone", Message: fmt.Sprintf("unknown timezone %q", cfg.Timezone)})
	}
	if cfg.LoadTimeout < 0 {
		errs = append(errs, FieldError{Field: "guardrail.load_timeout", Message: "load timeout must be non-negative"})
	}
	if cfg.ActionRetention < 0 {
		errs = append(errs, FieldError{Field: "guardrail.action_retention", Message: "retention must be non-negative"})
	} else if cfg.ActionRetention > 0 && cfg.ActionRetention < 24*time.Hour {
		errs = append(errs, FieldError{Field: "guardrail.action_retention", Message: "retention must cover at least one quota day (24h)"})
	}
	return errs
}

func validateResilience(cfg *ResilienceConfig) []FieldError {
	errs := validateDependency("resilience.defaults", &cfg.Defaults)

	names := make([]string, 0, len(cfg.Dependencies))
	for name := range cfg.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, FieldError{Field: "resilience.dependencies", Message: "dependency name cannot be empty"})
			continue
		}
		dep := cfg.Dependencies[name]
		errs = append(errs, validateDependency("resilience.dependencies."+name, &dep)...)
	}
	return errs
}

// validateDependency checks one dependency block. Zero values are allowed
// so that overrides can stay sparse.
func validateDependency(prefix string, cfg *DependencyConfig) []FieldError {
	var errs []FieldError

	if cfg.FailureThreshold < 0 {
		errs = append(errs, FieldError{Field: prefix + ".failure_threshold", Message: "failure threshold must be non-negative"})
	}
	if cfg.ResetTimeout < 0 {
		errs = append(errs, FieldError{Field: prefix + ".reset_timeout", Message: "reset timeout must be non-negative"})
	}
	if cfg.MaxAttempts < 0 {
		errs = append(errs, FieldError{Field: prefix + ".max_attempts", Message: "max attempts must be non-negative"})
	}
	if cfg.BaseDelay < 0 {
		errs = append(errs, FieldError{Field: prefix + ".base_delay", Message: "base delay must be non-negative"})
	}
	if cfg.MaxDelay < 0 {
		errs = append(errs, FieldError{Field: prefix + ".max_delay", Message: "max delay must be non-negative"})
	}
	if cfg.MaxDelay > 0 && cfg.BaseDelay > cfg.MaxDelay {
		errs = append(errs, FieldError{Field: prefix + ".max_delay", Message: "max delay must not be less than base delay"})
	}
	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{Field: prefix + ".timeout", Message: "timeout must be non-negative"})
	}
	switch cfg.TimeoutScope {
	case "", "total", "per_attempt":
	default:
		errs = append(errs, FieldError{
			Field:   prefix + ".timeout_scope",
			Message: fmt.Sprintf("invalid timeout scope %q (must be total or per_attempt)", cfg.TimeoutScope),
		})
	}
	return errs
}

func validateIdempotency(cfg *IdempotencyConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLitePath == "" {
			errs = append(errs, FieldError{Field: "idempotency.sqlite_path", Message: "sqlite path is required for the sqlite backend"})
		}
	case "redis":
		if cfg.Redis.Address == "" {
			errs = append(errs, FieldError{Field: "idempotency.redis.address", Message: "redis address is required for the redis backend"})
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{Field: "idempotency.redis.db", Message: "redis db must be non-negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "idempotency.backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory, sqlite or redis)", cfg.Backend),
		})
	}

	if cfg.Retention < 0 {
		errs = append(errs, FieldError{Field: "idempotency.retention", Message: "retention must be non-negative"})
	}
	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{Field: "idempotency.timeout", Message: "timeout must be non-negative"})
	}
	if cfg.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "idempotency.prune_schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.PruneSchedule, err),
			})
		}
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn or error)", cfg.Logging.Level),
		})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json or text)", cfg.Logging.Format),
		})
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if p.Pattern == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: "pattern is required",
			})
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
	}
	buckets := cfg.Metrics.EvaluationDurationBuckets
	for i := 1; i < len(buckets); i++ {
		if buckets[i] <= buckets[i-1] {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.evaluation_duration_buckets",
				Message: "buckets must be strictly increasing",
			})
			break
		}
	}

	tr := cfg.Tracing
	switch tr.Sampler {
	case "always", "never", "ratio":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q (must be always, never or ratio)", tr.Sampler),
		})
	}
	if tr.SampleRatio < 0 || tr.SampleRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: fmt.Sprintf("sample ratio must be between 0 and 1, got %v", tr.SampleRatio),
		})
	}
	if tr.Enabled && tr.Endpoint == "" {
		errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
	}
	return errs
}

func sortFieldErrors(errs []FieldError) {
	sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
}
