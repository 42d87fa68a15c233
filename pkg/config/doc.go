// Package config provides configuration management for stepguard.
//
// Configuration is read from YAML, decoded on top of the defaults, then
// overridden from the environment and validated:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("stepguard.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention STEPGUARD_SECTION_FIELD:
//
//   - STEPGUARD_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - STEPGUARD_RESILIENCE_MAX_ATTEMPTS overrides resilience.defaults.max_attempts
//   - STEPGUARD_IDEMPOTENCY_BACKEND overrides idempotency.backend
//
// A malformed value fails loading instead of being ignored.
//
// # Validation
//
// Validation collects every problem before failing:
//
//	configuration validation failed with 2 errors:
//	  - guardrail.timezone: unknown timezone "Mars/Olympus"
//	  - resilience.dependencies.crm.timeout_scope: invalid timeout scope "sometimes" (must be total or per_attempt)
//
// # Example Configuration
//
//	server:
//	  listen_address: "127.0.0.1:9090"
//
//	guardrail:
//	  source: file
//	  file_path: ./guardrails
//	  watch: true
//
//	resilience:
//	  defaults:
//	    failure_threshold: 5
//	    reset_timeout: 30s
//	    max_attempts: 3
//	    base_delay: 200ms
//	    timeout: 10s
//	  dependencies:
//	    payments:
//	      timeout: 2s
//	      timeout_scope: per_attempt
//
//	idempotency:
//	  backend: sqlite
//	  sqlite_path: data/idempotency.db
//	  retention: 168h
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
//
// Per-dependency overrides are sparse: zero fields inherit resilience.defaults.
package config
