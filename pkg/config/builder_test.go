package config

import "time"

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts with default values and allows selective overrides.
type ConfigBuilder struct {
	cfg *Config
}

// NewTestConfig creates a ConfigBuilder whose configuration is valid and
// uses in-memory stores.
func NewTestConfig() *ConfigBuilder {
	cfg := Default()
	cfg.Guardrail.Source = "memory"
	cfg.Idempotency.Backend = "memory"
	return &ConfigBuilder{cfg: cfg}
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

// WithListenAddress sets the server listen address.
func (b *ConfigBuilder) WithListenAddress(addr string) *ConfigBuilder {
	b.cfg.Server.ListenAddress = addr
	return b
}

// WithGuardrailSource sets the guardrail source.
func (b *ConfigBuilder) WithGuardrailSource(source string) *ConfigBuilder {
	b.cfg.Guardrail.Source = source
	return b
}

// WithDependency adds a per-dependency override.
func (b *ConfigBuilder) WithDependency(name string, dep DependencyConfig) *ConfigBuilder {
	if b.cfg.Resilience.Dependencies == nil {
		b.cfg.Resilience.Dependencies = make(map[string]DependencyConfig)
	}
	b.cfg.Resilience.Dependencies[name] = dep
	return b
}

// WithIdempotencyBackend sets the idempotency backend.
func (b *ConfigBuilder) WithIdempotencyBackend(backend string) *ConfigBuilder {
	b.cfg.Idempotency.Backend = backend
	return b
}

// WithRetention sets the idempotency retention.
func (b *ConfigBuilder) WithRetention(d time.Duration) *ConfigBuilder {
	b.cfg.Idempotency.Retention = d
	return b
}
