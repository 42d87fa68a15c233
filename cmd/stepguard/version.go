package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mercator-hq/stepguard/pkg/telemetry/health"
)

var (
	// Version is the semantic version (set by build flags)
	Version = "0.1.0"
	// GitCommit is the git commit hash (set by build flags)
	GitCommit = "unknown"
	// BuildDate is the build timestamp (set by build flags)
	BuildDate = "unknown"
)

// versionResult renders build information.
type versionResult struct {
	health.VersionInfo
}

func (v versionResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Stepguard %s\nGit Commit: %s\nBuild Date: %s\nGo Version: %s\n",
		v.Version, v.Commit, v.BuildTime, v.GoVersion)
	return err
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResult(cmd, versionResult{buildInfo()})
	},
}

func buildInfo() health.VersionInfo {
	return health.NewVersionInfo(Version, GitCommit, BuildDate)
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
