// Stepguard gates workflow steps against tenant guardrails and runs the
// allowed ones behind circuit breakers, retries, timeouts and idempotent
// run creation.
//
// Usage:
//
//	# Start the admin server, file watcher and retention scheduler
//	stepguard run --config stepguard.yaml
//
//	# Print the verdict for a step fixture
//	stepguard evaluate --fixture step.yaml --policies ./guardrails
//
//	# Validate guardrail policy files
//	stepguard rules lint ./guardrails
//
//	# Inspect or reset circuit breakers on a running instance
//	stepguard breakers list --admin http://127.0.0.1:9090
//
//	# Prune expired idempotency records and action log entries once
//	stepguard prune
package main

import "os"

func main() {
	os.Exit(Execute())
}
