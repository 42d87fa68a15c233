package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mercator-hq/stepguard/pkg/cli"
	"mercator-hq/stepguard/pkg/guardrail"
	"mercator-hq/stepguard/pkg/guardrail/storage"
)

var evaluateFlags struct {
	fixture      string
	policies     string
	actionsToday int
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a step against guardrail policies",
	Long: `Evaluate a single step fixture offline and print the verdict.

The fixture is a YAML or JSON document with run, step and data keys.
Policies come from --policies; without it the built-in risk policy
applies. The exit code is 0 for allow, 2 for require_approval and 3 for
block.

Examples:
  # Evaluate against a policy directory
  stepguard evaluate --fixture step.yaml --policies ./policies/

  # Simulate a tenant that already ran 499 actions today
  stepguard evaluate --fixture step.yaml --policies policies.yaml --actions-today 499

  # JSON verdict for scripting
  stepguard evaluate --fixture step.yaml -o json`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&evaluateFlags.fixture, "fixture", "f", "", "step fixture file (YAML or JSON)")
	evaluateCmd.Flags().StringVarP(&evaluateFlags.policies, "policies", "p", "", "policy document or directory")
	evaluateCmd.Flags().IntVar(&evaluateFlags.actionsToday, "actions-today", 0, "actions already recorded for the tenant today")
	_ = evaluateCmd.MarkFlagRequired("fixture")
}

// stepFixture is the input of the evaluate command.
type stepFixture struct {
	Run  *guardrail.Run  `json:"run"`
	Step *guardrail.Step `json:"step"`
	Data map[string]any  `json:"data"`
}

// loadFixture reads a YAML or JSON fixture. YAML is converted through a
// generic value so the json tags of the guardrail types apply.
func loadFixture(path string) (*stepFixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	encoded, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}

	var fx stepFixture
	if err := json.Unmarshal(encoded, &fx); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	switch {
	case fx.Run == nil:
		return nil, fmt.Errorf("fixture %s: missing run", path)
	case fx.Step == nil:
		return nil, fmt.Errorf("fixture %s: missing step", path)
	case fx.Run.TenantID == "":
		return nil, fmt.Errorf("fixture %s: run.tenant_id is required", path)
	}
	return &fx, nil
}

// verdictResult renders a verdict.
type verdictResult struct {
	Decision guardrail.Decision `json:"decision"`
	*guardrail.Verdict
}

func (v verdictResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Decision: %s\n", v.Decision)
	fmt.Fprintf(w, "Summary:  %s\n", v.Summary)
	if v.PolicyFallback {
		fmt.Fprintln(w, "Policy:   built-in (tenant policy unavailable)")
	}
	if len(v.Findings) == 0 {
		return nil
	}

	table := cli.Table{Headers: []string{"KIND", "SEVERITY", "BLOCKING", "REASON"}}
	for _, f := range v.Findings {
		table.Rows = append(table.Rows, []string{
			string(f.Kind), string(f.Severity), fmt.Sprint(f.Blocking), f.Reason,
		})
	}
	fmt.Fprintln(w)
	return table.RenderText(w)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	fx, err := loadFixture(evaluateFlags.fixture)
	if err != nil {
		return cli.NewCommandError("evaluate", err)
	}

	ctx := cmd.Context()
	counter := storage.NewMemoryBackend()
	defer counter.Close()

	var (
		policies guardrail.PolicyStore = counter
		ruleSet  guardrail.RuleStore   = counter
	)
	if evaluateFlags.policies != "" {
		fs, err := storage.NewFileStore(evaluateFlags.policies, logger)
		if err != nil {
			return cli.NewCommandError("evaluate", err)
		}
		policies, ruleSet = fs, fs
	}

	now := time.Now()
	for i := 0; i < evaluateFlags.actionsToday; i++ {
		if err := counter.RecordAction(ctx, fx.Run.TenantID, fmt.Sprintf("fixture-%d", i), now); err != nil {
			return cli.NewCommandError("evaluate", err)
		}
	}

	gc := cfg.Guardrail
	engine, err := guardrail.NewEngine(&guardrail.EngineConfig{
		RunRiskBlockThreshold:    gc.RunRiskBlockThreshold,
		RunRiskApprovalThreshold: gc.RunRiskApprovalThreshold,
		Location:                 gc.Location(),
		LoadTimeout:              gc.LoadTimeout,
	}, policies, ruleSet, counter, logger)
	if err != nil {
		return cli.NewCommandError("evaluate", err)
	}

	verdict := engine.Evaluate(ctx, fx.Run, fx.Step, fx.Data)
	if err := printResult(cmd, verdictResult{Decision: verdict.Decision(), Verdict: verdict}); err != nil {
		return err
	}

	switch verdict.Decision() {
	case guardrail.DecisionBlock:
		return &cli.ExitError{Code: cli.ExitBlocked}
	case guardrail.DecisionRequireApproval:
		return &cli.ExitError{Code: cli.ExitApprovalRequired}
	}
	return nil
}
