package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/stepguard/pkg/resilience/breaker"
	"mercator-hq/stepguard/pkg/resilience/retry"
	"mercator-hq/stepguard/pkg/resilience/timeout"
)

// Settings configures the pipeline for one dependency. In an override,
// zero fields inherit the defaults.
type Settings struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Timeout          time.Duration
	Scope            Scope
}

// DefaultSettings returns the default per-dependency settings.
func DefaultSettings() Settings {
	bc := breaker.DefaultConfig()
	rp := retry.DefaultPolicy()
	return Settings{
		FailureThreshold: bc.FailureThreshold,
		ResetTimeout:     bc.ResetTimeout,
		MaxAttempts:      rp.MaxAttempts,
		BaseDelay:        rp.BaseDelay,
		Timeout:          10 * time.Second,
		Scope:            ScopeTotal,
	}
}

// Validate checks the settings.
func (s Settings) Validate() error {
	if s.FailureThreshold < 0 {
		return fmt.Errorf("failure threshold must be non-negative, got %d", s.FailureThreshold)
	}
	if s.ResetTimeout < 0 {
		return fmt.Errorf("reset timeout must be non-negative, got %s", s.ResetTimeout)
	}
	p := Pipeline{
		Timeout: s.Timeout,
		Scope:   s.Scope,
		Retry:   retry.Policy{MaxAttempts: s.MaxAttempts, BaseDelay: s.BaseDelay, MaxDelay: s.MaxDelay},
	}
	return p.Validate()
}

// merge returns s with zero fields taken from defaults.
func (s Settings) merge(defaults Settings) Settings {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = defaults.FailureThreshold
	}
	if s.ResetTimeout == 0 {
		s.ResetTimeout = defaults.ResetTimeout
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = defaults.MaxAttempts
	}
	if s.BaseDelay == 0 {
		s.BaseDelay = defaults.BaseDelay
	}
	if s.MaxDelay == 0 {
		s.MaxDelay = defaults.MaxDelay
	}
	if s.Timeout == 0 {
		s.Timeout = defaults.Timeout
	}
	if s.Scope == "" {
		s.Scope = defaults.Scope
	}
	return s
}

// Recorder receives measurements from every stage of a pipeline.
type Recorder interface {
	breaker.Recorder
	retry.Recorder
	timeout.Recorder
}

// Set builds and caches one pipeline per dependency. It owns the breaker
// registry, so every caller of a dependency shares one breaker.
type Set struct {
	defaults  Settings
	overrides map[string]Settings
	breakers  *breaker.Registry
	recorder  Recorder
	logger    *slog.Logger

	mu        sync.Mutex
	pipelines map[string]*Pipeline
}

// NewSet creates a set. Overrides are keyed by dependency name. A nil
// recorder disables metrics.
func NewSet(defaults Settings, overrides map[string]Settings, recorder Recorder, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "resilience")

	defaults = defaults.merge(DefaultSettings())
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default settings: %w", err)
	}

	s := &Set{
		defaults:  defaults,
		overrides: make(map[string]Settings, len(overrides)),
		recorder:  recorder,
		logger:    logger,
		pipelines: make(map[string]*Pipeline),
	}
	s.breakers = breaker.NewRegistry(s.breakerConfig(defaults))

	for name, o := range overrides {
		merged := o.merge(defaults)
		if err := merged.Validate(); err != nil {
			return nil, fmt.Errorf("invalid settings for %q: %w", name, err)
		}
		s.overrides[name] = merged
		s.breakers.Configure(name, s.breakerConfig(merged))
	}
	return s, nil
}

// Breakers returns the breaker registry.
func (s *Set) Breakers() *breaker.Registry {
	return s.breakers
}

// Settings returns the effective settings for a dependency.
func (s *Set) Settings(name string) Settings {
	if o, ok := s.overrides[name]; ok {
		return o
	}
	return s.defaults
}

// Pipeline returns the pipeline for a dependency, creating it on first use.
func (s *Set) Pipeline(name string) *Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pipelines[name]; ok {
		return p
	}

	settings := s.Settings(name)
	p := &Pipeline{
		Name:    name,
		Breaker: s.breakers.Get(name),
		Retry: retry.Policy{
			Name:        name,
			MaxAttempts: settings.MaxAttempts,
			BaseDelay:   settings.BaseDelay,
			MaxDelay:    settings.MaxDelay,
			Logger:      s.logger,
		},
		Timeout: settings.Timeout,
		Scope:   settings.Scope,
	}
	if s.recorder != nil {
		p.Retry.Recorder = s.recorder
		p.TimeoutRecorder = s.recorder
	}
	s.pipelines[name] = p
	return p
}

func (s *Set) breakerConfig(settings Settings) breaker.Config {
	cfg := breaker.Config{
		FailureThreshold: settings.FailureThreshold,
		ResetTimeout:     settings.ResetTimeout,
		OnStateChange: func(name string, from, to breaker.State) {
			level := slog.LevelInfo
			if to == breaker.StateOpen {
				level = slog.LevelWarn
			}
			s.logger.Log(context.Background(), level, "circuit breaker state changed",
				"dependency", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	if s.recorder != nil {
		cfg.Recorder = s.recorder
	}
	return cfg
}
