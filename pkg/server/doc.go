// Package server exposes stepguard's admin HTTP surface.
//
// Routes:
//
//	GET  /healthz                 liveness
//	GET  /readyz                  readiness of registered component checks
//	GET  /version                 build information
//	GET  /breakers                status of every circuit breaker
//	GET  /breakers/{name}         status of one breaker
//	POST /breakers/{name}/reset   force a breaker closed
//	POST /breakers/reset          force every breaker closed
//	POST /v1/evaluate             guardrail verdict for {run, step, data}
//	POST /v1/runs                 create a run once per Idempotency-Key
//	GET  /metrics                 Prometheus exposition (path configurable)
//
// Unknown breaker names answer 404. Every response carries X-Request-ID,
// and the ID is attached to log records written while serving it.
package server
