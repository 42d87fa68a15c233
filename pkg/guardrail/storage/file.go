package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"mercator-hq/stepguard/pkg/guardrail"
	"mercator-hq/stepguard/pkg/rules"
)

// Document is the on-disk format of a policy file:
//
//	tenants:
//	  acme:
//	    policy:
//	      max_daily_actions: 200
//	      require_approval_above: 500
//	    rules:
//	      - key: us-large-transfer
//	        severity: error
//	        enabled: true
//	        logic: {">=": [{var: amount}, 10000]}
type Document struct {
	Tenants map[string]TenantDocument `yaml:"tenants"`
}

// TenantDocument holds one tenant's policy and rules.
type TenantDocument struct {
	Policy *guardrail.RiskPolicy       `yaml:"policy,omitempty"`
	Rules  []*guardrail.ComplianceRule `yaml:"rules,omitempty"`
}

// ParseDocument decodes a policy document.
func ParseDocument(data []byte) (*Document, error) {
	doc := &Document{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return doc, nil
}

// LoadDocumentFile reads and decodes a policy document.
func LoadDocumentFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", path, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, &DocumentError{Path: path, Cause: err}
	}
	return doc, nil
}

// Lint reports every problem in the document: invalid policies, missing
// or duplicate rule keys, unknown severities, malformed logic and unknown
// operators. path labels the problems.
func (d *Document) Lint(path string) []error {
	var problems []error

	tenants := make([]string, 0, len(d.Tenants))
	for tenant := range d.Tenants {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)

	for _, tenant := range tenants {
		td := d.Tenants[tenant]
		if td.Policy != nil {
			if err := td.Policy.Validate(); err != nil {
				problems = append(problems, &DocumentError{Path: path, Tenant: tenant, Cause: err})
			}
		}

		seen := make(map[string]bool, len(td.Rules))
		for i, rule := range td.Rules {
			if rule == nil || rule.Key == "" {
				problems = append(problems, &DocumentError{Path: path, Tenant: tenant, Cause: fmt.Errorf("rule %d has no key", i)})
				continue
			}
			if seen[rule.Key] {
				problems = append(problems, &DocumentError{Path: path, Tenant: tenant, RuleKey: rule.Key, Cause: errors.New("duplicate rule key")})
			}
			seen[rule.Key] = true

			if !rule.Severity.IsValid() {
				problems = append(problems, &DocumentError{Path: path, Tenant: tenant, RuleKey: rule.Key, Cause: fmt.Errorf("unknown severity %q", rule.Severity)})
			}
			if rule.Logic == nil {
				problems = append(problems, &DocumentError{Path: path, Tenant: tenant, RuleKey: rule.Key, Cause: errors.New("missing logic")})
				continue
			}
			for _, err := range rules.Validate(rule.Logic) {
				problems = append(problems, &DocumentError{Path: path, Tenant: tenant, RuleKey: rule.Key, Cause: err})
			}
		}
	}
	return problems
}

// LintResult is the outcome of linting one file.
type LintResult struct {
	Path     string
	Problems []error
}

// LintPath lints the file at path, or every policy document under it when
// it is a directory. A file that cannot be read or parsed is reported as
// a problem of that file.
func LintPath(path string) ([]LintResult, error) {
	files, err := documentFiles(path)
	if err != nil {
		return nil, err
	}

	results := make([]LintResult, 0, len(files))
	for _, file := range files {
		doc, err := LoadDocumentFile(file)
		if err != nil {
			results = append(results, LintResult{Path: file, Problems: []error{err}})
			continue
		}
		results = append(results, LintResult{Path: file, Problems: doc.Lint(file)})
	}
	return results, nil
}

// snapshot is an immutable view of all loaded documents.
type snapshot struct {
	policies map[string]*guardrail.RiskPolicy
	rules    map[string][]*guardrail.ComplianceRule
}

// FileStore serves policies and rules from YAML documents. The path may be
// a single file or a directory of .yaml/.yml files. Reload swaps in a new
// snapshot atomically; readers never observe a partial load.
type FileStore struct {
	path   string
	logger *slog.Logger
	snap   atomic.Pointer[snapshot]
}

// NewFileStore creates a file store and performs the initial load.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{path: path, logger: logger}
	if err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the watched path.
func (s *FileStore) Path() string {
	return s.path
}

// Reload re-reads every document. On error the previous snapshot stays in
// place. Documents with structural rule errors are rejected; unknown
// operators are logged and accepted.
func (s *FileStore) Reload(ctx context.Context) error {
	files, err := documentFiles(s.path)
	if err != nil {
		return err
	}

	next := &snapshot{
		policies: make(map[string]*guardrail.RiskPolicy),
		rules:    make(map[string][]*guardrail.ComplianceRule),
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		doc, err := LoadDocumentFile(file)
		if err != nil {
			return err
		}

		for _, problem := range doc.Lint(file) {
			var unknown *rules.UnknownOperatorError
			if errors.As(problem, &unknown) {
				s.logger.Warn("rule uses unknown operator", "error", problem)
				continue
			}
			return problem
		}

		for tenant, td := range doc.Tenants {
			if td.Policy != nil {
				if _, dup := next.policies[tenant]; dup {
					return &DocumentError{Path: file, Tenant: tenant, Cause: errors.New("policy defined in more than one file")}
				}
				p := clonePolicy(td.Policy)
				p.TenantID = tenant
				next.policies[tenant] = p
			}
			next.rules[tenant] = append(next.rules[tenant], td.Rules...)
		}
	}

	for tenant := range next.rules {
		sort.SliceStable(next.rules[tenant], func(i, j int) bool {
			return next.rules[tenant][i].Key < next.rules[tenant][j].Key
		})
	}

	s.snap.Store(next)

	s.logger.Info("loaded policy documents",
		"path", s.path,
		"files", len(files),
		"tenants", len(next.policies),
	)
	return nil
}

// GetRiskPolicy returns the tenant's policy, or nil if none.
func (s *FileStore) GetRiskPolicy(ctx context.Context, tenantID string) (*guardrail.RiskPolicy, error) {
	p, ok := s.snap.Load().policies[tenantID]
	if !ok {
		return nil, nil
	}
	return clonePolicy(p), nil
}

// ListEnabledRules returns the tenant's enabled rules ordered by key.
func (s *FileStore) ListEnabledRules(ctx context.Context, tenantID string) ([]*guardrail.ComplianceRule, error) {
	all := s.snap.Load().rules[tenantID]
	out := make([]*guardrail.ComplianceRule, 0, len(all))
	for _, r := range all {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

// Tenants returns the tenants with a policy or rules, sorted.
func (s *FileStore) Tenants() []string {
	snap := s.snap.Load()
	seen := make(map[string]struct{})
	for t := range snap.policies {
		seen[t] = struct{}{}
	}
	for t := range snap.rules {
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// documentFiles lists the policy documents under path.
func documentFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path %q: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && p != path {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if isDocumentFile(name) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %q: %w", path, err)
	}

	sort.Strings(files)
	return files, nil
}

func isDocumentFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
