package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STEPGUARD_"

// LoadConfig loads configuration from a YAML file at the specified path.
// Omitted fields keep their defaults. The result is validated; environment
// variables are not consulted, use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes a YAML document on top of the defaults. Unknown keys are
// rejected. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and
// applies environment variable overrides. Environment variables follow the
// naming convention STEPGUARD_SECTION_FIELD (e.g.
// STEPGUARD_SERVER_LISTEN_ADDRESS) and take precedence over the file.
//
// An empty path skips the file and starts from the defaults.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envSetter applies one environment variable to the configuration.
type envSetter func(cfg *Config, val string) error

func stringVar(field func(*Config) *string) envSetter {
	return func(cfg *Config, val string) error {
		*field(cfg) = val
		return nil
	}
}

func boolVar(field func(*Config) *bool) envSetter {
	return func(cfg *Config, val string) error {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		*field(cfg) = b
		return nil
	}
}

func intVar(field func(*Config) *int) envSetter {
	return func(cfg *Config, val string) error {
		i, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		*field(cfg) = i
		return nil
	}
}

func floatVar(field func(*Config) *float64) envSetter {
	return func(cfg *Config, val string) error {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		*field(cfg) = f
		return nil
	}
}

func durationVar(field func(*Config) *time.Duration) envSetter {
	return func(cfg *Config, val string) error {
		d, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*field(cfg) = d
		return nil
	}
}

// envOverrides maps variable names without EnvPrefix to their fields.
var envOverrides = map[string]envSetter{
	"SERVER_LISTEN_ADDRESS":   stringVar(func(c *Config) *string { return &c.Server.ListenAddress }),
	"SERVER_READ_TIMEOUT":     durationVar(func(c *Config) *time.Duration { return &c.Server.ReadTimeout }),
	"SERVER_WRITE_TIMEOUT":    durationVar(func(c *Config) *time.Duration { return &c.Server.WriteTimeout }),
	"SERVER_SHUTDOWN_TIMEOUT": durationVar(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout }),

	"GUARDRAIL_SOURCE":                      stringVar(func(c *Config) *string { return &c.Guardrail.Source }),
	"GUARDRAIL_FILE_PATH":                   stringVar(func(c *Config) *string { return &c.Guardrail.FilePath }),
	"GUARDRAIL_WATCH":                       boolVar(func(c *Config) *bool { return &c.Guardrail.Watch }),
	"GUARDRAIL_SQLITE_PATH":                 stringVar(func(c *Config) *string { return &c.Guardrail.SQLitePath }),
	"GUARDRAIL_RUN_RISK_BLOCK_THRESHOLD":    floatVar(func(c *Config) *float64 { return &c.Guardrail.RunRiskBlockThreshold }),
	"GUARDRAIL_RUN_RISK_APPROVAL_THRESHOLD": floatVar(func(c *Config) *float64 { return &c.Guardrail.RunRiskApprovalThreshold }),
	"GUARDRAIL_TIMEZONE":                    stringVar(func(c *Config) *string { return &c.Guardrail.Timezone }),
	"GUARDRAIL_ACTION_RETENTION":            durationVar(func(c *Config) *time.Duration { return &c.Guardrail.ActionRetention }),

	"RESILIENCE_FAILURE_THRESHOLD": intVar(func(c *Config) *int { return &c.Resilience.Defaults.FailureThreshold }),
	"RESILIENCE_RESET_TIMEOUT":     durationVar(func(c *Config) *time.Duration { return &c.Resilience.Defaults.ResetTimeout }),
	"RESILIENCE_MAX_ATTEMPTS":      intVar(func(c *Config) *int { return &c.Resilience.Defaults.MaxAttempts }),
	"RESILIENCE_BASE_DELAY":        durationVar(func(c *Config) *time.Duration { return &c.Resilience.Defaults.BaseDelay }),
	"RESILIENCE_MAX_DELAY":         durationVar(func(c *Config) *time.Duration { return &c.Resilience.Defaults.MaxDelay }),
	"RESILIENCE_TIMEOUT":           durationVar(func(c *Config) *time.Duration { return &c.Resilience.Defaults.Timeout }),
	"RESILIENCE_TIMEOUT_SCOPE":     stringVar(func(c *Config) *string { return &c.Resilience.Defaults.TimeoutScope }),

	"IDEMPOTENCY_BACKEND":        stringVar(func(c *Config) *string { return &c.Idempotency.Backend }),
	"IDEMPOTENCY_SQLITE_PATH":    stringVar(func(c *Config) *string { return &c.Idempotency.SQLitePath }),
	"IDEMPOTENCY_REDIS_ADDRESS":  stringVar(func(c *Config) *string { return &c.Idempotency.Redis.Address }),
	"IDEMPOTENCY_REDIS_PASSWORD": stringVar(func(c *Config) *string { return &c.Idempotency.Redis.Password }),
	"IDEMPOTENCY_REDIS_DB":       intVar(func(c *Config) *int { return &c.Idempotency.Redis.DB }),
	"IDEMPOTENCY_RETENTION":      durationVar(func(c *Config) *time.Duration { return &c.Idempotency.Retention }),
	"IDEMPOTENCY_PRUNE_SCHEDULE": stringVar(func(c *Config) *string { return &c.Idempotency.PruneSchedule }),
	"IDEMPOTENCY_TIMEOUT":        durationVar(func(c *Config) *time.Duration { return &c.Idempotency.Timeout }),

	"TELEMETRY_LOGGING_LEVEL":      stringVar(func(c *Config) *string { return &c.Telemetry.Logging.Level }),
	"TELEMETRY_LOGGING_FORMAT":     stringVar(func(c *Config) *string { return &c.Telemetry.Logging.Format }),
	"TELEMETRY_LOGGING_REDACT_PII": boolVar(func(c *Config) *bool { return &c.Telemetry.Logging.RedactPII }),
	"TELEMETRY_METRICS_ENABLED":    boolVar(func(c *Config) *bool { return &c.Telemetry.Metrics.Enabled }),
	"TELEMETRY_METRICS_PATH":       stringVar(func(c *Config) *string { return &c.Telemetry.Metrics.Path }),

	"TELEMETRY_TRACING_ENABLED":      boolVar(func(c *Config) *bool { return &c.Telemetry.Tracing.Enabled }),
	"TELEMETRY_TRACING_SAMPLER":      stringVar(func(c *Config) *string { return &c.Telemetry.Tracing.Sampler }),
	"TELEMETRY_TRACING_SAMPLE_RATIO": floatVar(func(c *Config) *float64 { return &c.Telemetry.Tracing.SampleRatio }),
	"TELEMETRY_TRACING_ENDPOINT":     stringVar(func(c *Config) *string { return &c.Telemetry.Tracing.Endpoint }),
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. A malformed value is reported as a ValidationError
// naming the variable.
func applyEnvOverrides(cfg *Config) error {
	var errs []FieldError
	for name, set := range envOverrides {
		val, ok := os.LookupEnv(EnvPrefix + name)
		if !ok || val == "" {
			continue
		}
		if err := set(cfg, val); err != nil {
			errs = append(errs, FieldError{
				Field:   EnvPrefix + name,
				Message: fmt.Sprintf("invalid value %q: %v", val, err),
			})
		}
	}
	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
