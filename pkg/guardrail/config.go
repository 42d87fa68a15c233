package guardrail

import (
	"fmt"
	"time"
)

// EngineConfig contains configuration for the guardrail engine.
type EngineConfig struct {
	// RunRiskBlockThreshold is the run risk score at or above which a step
	// is blocked.
	// Default: 80.
	RunRiskBlockThreshold float64

	// RunRiskApprovalThreshold is the run risk score at or above which a
	// step needs approval.
	// Default: 60.
	RunRiskApprovalThreshold float64

	// Location defines the day boundary for the daily quota.
	// Default: UTC.
	Location *time.Location

	// LoadTimeout bounds each policy, rule and counter lookup. Zero means
	// the caller's context alone applies.
	// Default: 2s.
	LoadTimeout time.Duration

	// Now returns the current time. Tests replace it.
	Now func() time.Time
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		RunRiskBlockThreshold:    80,
		RunRiskApprovalThreshold: 60,
		Location:                 time.UTC,
		LoadTimeout:              2 * time.Second,
		Now:                      time.Now,
	}
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	if c.RunRiskApprovalThreshold < 0 || c.RunRiskBlockThreshold < 0 {
		return fmt.Errorf("%w: run risk thresholds must be non-negative", ErrInvalidConfig)
	}
	if c.RunRiskApprovalThreshold > c.RunRiskBlockThreshold {
		return fmt.Errorf("%w: run risk approval threshold (%v) exceeds block threshold (%v)",
			ErrInvalidConfig, c.RunRiskApprovalThreshold, c.RunRiskBlockThreshold)
	}
	if c.LoadTimeout < 0 {
		return fmt.Errorf("%w: load timeout must be non-negative", ErrInvalidConfig)
	}
	return nil
}

func (c *EngineConfig) applyDefaults() {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
