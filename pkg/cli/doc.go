/*
Package cli provides helpers shared by the stepguard commands.

Output formatting:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, verdict); err != nil {
		return err
	}

Results that implement TextRenderer control their text form; Table is a
ready-made renderer for columnar output.

Exit codes: commands return an *ExitError to select a code, and main
calls ExitCode. A blocked verdict exits 3, a verdict requiring approval
exits 2.

Signal handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
	for range cli.NotifyReload(ctx) {
		// reload guardrail files
	}
*/
package cli
