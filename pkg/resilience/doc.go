// Package resilience composes the circuit breaker, retry controller and
// timeout wrapper into a per-dependency Pipeline.
//
// Calls nest Timeout → Retry → Breaker, outermost first. Scope decides
// whether the timeout bounds the whole retry budget (ScopeTotal) or each
// attempt (ScopePerAttempt); WorstCaseLatency reports the resulting bound.
//
// A Set owns the breaker registry and hands out one cached Pipeline per
// dependency name, so every caller of a provider shares one breaker.
package resilience
