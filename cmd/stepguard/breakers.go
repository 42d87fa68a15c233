package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/stepguard/pkg/cli"
	"mercator-hq/stepguard/pkg/resilience/breaker"
)

// defaultAdminURL matches the default server listen address.
const defaultAdminURL = "http://127.0.0.1:9090"

var breakersFlags struct {
	adminURL string
	all      bool
	timeout  time.Duration
}

var breakersCmd = &cobra.Command{
	Use:   "breakers",
	Short: "Inspect and reset circuit breakers on a running service",
	Long: `Inspect and reset the circuit breakers of a running stepguard service
through its admin API.

Examples:
  # List every breaker
  stepguard breakers list

  # Close the stripe breaker after an incident
  stepguard breakers reset stripe

  # Close every breaker
  stepguard breakers reset --all --admin http://10.0.0.5:9090`,
}

var breakersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List circuit breakers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp breakerList
		if err := adminRequest(cmd.Context(), http.MethodGet, "/breakers", &resp); err != nil {
			return cli.NewCommandError("breakers list", err)
		}
		return printResult(cmd, resp)
	},
}

var breakersResetCmd = &cobra.Command{
	Use:   "reset [NAME]",
	Short: "Force a circuit breaker closed",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBreakersReset,
}

func init() {
	breakersCmd.PersistentFlags().StringVar(&breakersFlags.adminURL, "admin", defaultAdminURL, "admin API base URL")
	breakersCmd.PersistentFlags().DurationVar(&breakersFlags.timeout, "timeout", 10*time.Second, "request timeout")
	breakersResetCmd.Flags().BoolVar(&breakersFlags.all, "all", false, "reset every breaker")

	breakersCmd.AddCommand(breakersListCmd)
	breakersCmd.AddCommand(breakersResetCmd)
	rootCmd.AddCommand(breakersCmd)
}

type breakerList struct {
	Breakers []breaker.Status `json:"breakers"`
}

func (l breakerList) RenderText(w io.Writer) error {
	if len(l.Breakers) == 0 {
		_, err := fmt.Fprintln(w, "No breakers")
		return err
	}
	table := cli.Table{Headers: []string{"NAME", "STATE", "FAILURES", "CALLS", "REJECTED", "NEXT ATTEMPT"}}
	for _, s := range l.Breakers {
		table.Rows = append(table.Rows, breakerRow(s))
	}
	return table.RenderText(w)
}

type breakerStatus struct {
	breaker.Status
}

func (s breakerStatus) RenderText(w io.Writer) error {
	table := cli.Table{
		Headers: []string{"NAME", "STATE", "FAILURES", "CALLS", "REJECTED", "NEXT ATTEMPT"},
		Rows:    [][]string{breakerRow(s.Status)},
	}
	return table.RenderText(w)
}

func breakerRow(s breaker.Status) []string {
	next := "-"
	if !s.NextAttemptAt.IsZero() {
		next = s.NextAttemptAt.Format(time.RFC3339)
	}
	return []string{
		s.Name,
		s.State.String(),
		fmt.Sprint(s.FailureCount),
		fmt.Sprint(s.TotalCalls),
		fmt.Sprint(s.TotalRejections),
		next,
	}
}

func runBreakersReset(cmd *cobra.Command, args []string) error {
	switch {
	case breakersFlags.all && len(args) > 0:
		return cli.NewConfigError("all", "--all cannot be combined with a breaker name")
	case breakersFlags.all:
		var resp breakerList
		if err := adminRequest(cmd.Context(), http.MethodPost, "/breakers/reset", &resp); err != nil {
			return cli.NewCommandError("breakers reset", err)
		}
		return printResult(cmd, resp)
	case len(args) == 0:
		return cli.NewConfigError("name", "breaker name or --all is required")
	}

	var resp breaker.Status
	path := "/breakers/" + url.PathEscape(args[0]) + "/reset"
	if err := adminRequest(cmd.Context(), http.MethodPost, path, &resp); err != nil {
		return cli.NewCommandError("breakers reset", err)
	}
	return printResult(cmd, breakerStatus{resp})
}

// adminRequest calls the admin API and decodes the JSON response into out.
func adminRequest(ctx context.Context, method, path string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, breakersFlags.timeout)
	defer cancel()

	base := strings.TrimSuffix(breakersFlags.adminURL, "/")
	req, err := http.NewRequestWithContext(ctx, method, base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("admin API unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		return errors.New(body.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
