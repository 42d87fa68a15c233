package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mercator-hq/stepguard/pkg/cli"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired idempotency records and action log entries",
	Long: `Run the retention pruner once and exit.

Idempotency records older than idempotency.retention and action log
entries older than guardrail.action_retention are deleted. Use this from
an external scheduler when idempotency.prune_schedule is empty.

Examples:
  stepguard prune --config stepguard.yaml
  stepguard prune -o json`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

type pruneResult struct {
	Deleted int64 `json:"deleted"`
}

func (r pruneResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "✓ Pruned %d record(s)\n", r.Deleted)
	return err
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	c, err := wire(cmd.Context(), cfg, logger)
	if err != nil {
		return cli.NewCommandError("prune", err)
	}
	defer c.Close()

	deleted, err := c.pruner.Prune(cmd.Context())
	if err != nil {
		return cli.NewCommandError("prune", err)
	}
	return printResult(cmd, pruneResult{Deleted: deleted})
}
