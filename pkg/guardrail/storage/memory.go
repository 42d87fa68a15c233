package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/stepguard/pkg/guardrail"
)

// MemoryBackend implements Backend using in-memory maps.
// All data is lost when the process exits.
type MemoryBackend struct {
	mu sync.RWMutex

	policies map[string]*guardrail.RiskPolicy
	rules    map[string]map[string]*guardrail.ComplianceRule
	actions  map[string][]time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		policies: make(map[string]*guardrail.RiskPolicy),
		rules:    make(map[string]map[string]*guardrail.ComplianceRule),
		actions:  make(map[string][]time.Time),
	}
}

// GetRiskPolicy returns a copy of the tenant's policy, or nil if none.
func (m *MemoryBackend) GetRiskPolicy(ctx context.Context, tenantID string) (*guardrail.RiskPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[tenantID]
	if !ok {
		return nil, nil
	}
	return clonePolicy(p), nil
}

// PutRiskPolicy creates or replaces the tenant's policy.
func (m *MemoryBackend) PutRiskPolicy(ctx context.Context, policy *guardrail.RiskPolicy) error {
	if policy == nil {
		return fmt.Errorf("policy cannot be nil")
	}
	if err := validateTenant(policy.TenantID); err != nil {
		return err
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[policy.TenantID] = clonePolicy(policy)
	return nil
}

// DeleteRiskPolicy removes the tenant's policy.
func (m *MemoryBackend) DeleteRiskPolicy(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.policies, tenantID)
	return nil
}

// PutRule creates or replaces a rule.
func (m *MemoryBackend) PutRule(ctx context.Context, tenantID string, rule *guardrail.ComplianceRule) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}
	if rule == nil || rule.Key == "" {
		return fmt.Errorf("rule key cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.rules[tenantID]
	if !ok {
		set = make(map[string]*guardrail.ComplianceRule)
		m.rules[tenantID] = set
	}
	r := *rule
	set[rule.Key] = &r
	return nil
}

// DeleteRule removes a rule.
func (m *MemoryBackend) DeleteRule(ctx context.Context, tenantID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules[tenantID], key)
	return nil
}

// ListRules returns all rules for the tenant ordered by key.
func (m *MemoryBackend) ListRules(ctx context.Context, tenantID string) ([]*guardrail.ComplianceRule, error) {
	return m.listRules(tenantID, false), nil
}

// ListEnabledRules returns the tenant's enabled rules ordered by key.
func (m *MemoryBackend) ListEnabledRules(ctx context.Context, tenantID string) ([]*guardrail.ComplianceRule, error) {
	return m.listRules(tenantID, true), nil
}

func (m *MemoryBackend) listRules(tenantID string, enabledOnly bool) []*guardrail.ComplianceRule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*guardrail.ComplianceRule, 0, len(m.rules[tenantID]))
	for _, r := range m.rules[tenantID] {
		if enabledOnly && !r.Enabled {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RecordAction appends an action to the tenant's log.
func (m *MemoryBackend) RecordAction(ctx context.Context, tenantID, stepID string, at time.Time) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[tenantID] = append(m.actions[tenantID], at)
	return nil
}

// CountActions returns the number of actions at or after since.
func (m *MemoryBackend) CountActions(ctx context.Context, tenantID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, at := range m.actions[tenantID] {
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

// Cleanup removes action log entries older than the cutoff.
func (m *MemoryBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for tenant, log := range m.actions {
		kept := log[:0]
		for _, at := range log {
			if at.Before(olderThan) {
				deleted++
				continue
			}
			kept = append(kept, at)
		}
		if len(kept) == 0 {
			delete(m.actions, tenant)
			continue
		}
		m.actions[tenant] = kept
	}
	return deleted, nil
}

// Close releases any resources held by the backend.
func (m *MemoryBackend) Close() error {
	return nil
}

func clonePolicy(p *guardrail.RiskPolicy) *guardrail.RiskPolicy {
	c := *p
	if p.AllowedProviderScopes != nil {
		c.AllowedProviderScopes = make(map[string][]string, len(p.AllowedProviderScopes))
		for provider, scopes := range p.AllowedProviderScopes {
			c.AllowedProviderScopes[provider] = append([]string(nil), scopes...)
		}
	}
	return &c
}
