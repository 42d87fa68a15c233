// Package retention deletes expired idempotency records and guardrail
// action-log entries on a schedule.
//
// A Pruner holds one Target per store, each with its own retention window;
// a zero window keeps entries forever. A Scheduler runs the pruner on a
// cron expression:
//
//   - "0 3 * * *": daily at 3 AM (default)
//   - "0 */6 * * *": every 6 hours
//   - "@every 10m": every ten minutes
//
// An empty schedule leaves the scheduler idle and Start returns nil.
package retention
