package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mercator-hq/stepguard/pkg/cli"
	"mercator-hq/stepguard/pkg/guardrail/storage"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Work with guardrail policy documents",
}

var rulesLintCmd = &cobra.Command{
	Use:   "lint [paths...]",
	Short: "Validate policy documents",
	Long: `Validate policy documents without loading them into a running service.

Each file is parsed and every tenant policy and compliance rule is checked:
policy thresholds, rule severities, duplicate keys and rule expressions.
Without arguments the configured guardrail.file_path is linted.

Examples:
  # Lint the configured policy path
  stepguard rules lint --config stepguard.yaml

  # Lint several files and directories
  stepguard rules lint policies/ extra.yaml`,
	RunE: runRulesLint,
}

func init() {
	rulesCmd.AddCommand(rulesLintCmd)
	rootCmd.AddCommand(rulesCmd)
}

type lintFile struct {
	Path     string   `json:"path"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

type lintReport struct {
	Files    []lintFile `json:"files"`
	Problems int        `json:"problems"`
}

func (r lintReport) RenderText(w io.Writer) error {
	for _, f := range r.Files {
		if f.Valid {
			fmt.Fprintf(w, "✓ %s\n", f.Path)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", f.Path)
		for _, p := range f.Problems {
			fmt.Fprintf(w, "    %s\n", p)
		}
	}
	_, err := fmt.Fprintf(w, "\n%d file(s), %d problem(s)\n", len(r.Files), r.Problems)
	return err
}

func runRulesLint(cmd *cobra.Command, args []string) error {
	paths := args
	if len(paths) == 0 {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Guardrail.FilePath == "" {
			return cli.NewConfigError("guardrail.file_path", "no path given and none configured")
		}
		paths = []string{cfg.Guardrail.FilePath}
	}

	var report lintReport
	for _, path := range paths {
		results, err := storage.LintPath(path)
		if err != nil {
			return cli.NewCommandError("rules lint", err)
		}
		for _, res := range results {
			f := lintFile{Path: res.Path, Valid: len(res.Problems) == 0}
			for _, p := range res.Problems {
				f.Problems = append(f.Problems, p.Error())
			}
			report.Problems += len(res.Problems)
			report.Files = append(report.Files, f)
		}
	}

	if err := printResult(cmd, report); err != nil {
		return err
	}
	if report.Problems > 0 {
		return &cli.ExitError{Code: cli.ExitFailure}
	}
	return nil
}
