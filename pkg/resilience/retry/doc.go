// Package retry retries a unit of work with exponential backoff and
// bounded jitter.
//
// The delay between attempt i and i+1 (0-indexed) is BaseDelay·2^i plus a
// uniform jitter in [0, 0.3·BaseDelay·2^i). Full jitter is not used, so the
// worst-case latency of a call stays bounded.
//
// Failures are classified before each retry. Authentication and
// authorization failures, HTTP 4xx other than 429, context cancellation
// and errors marked with Permanent return a *NonRetryableError immediately.
// When every attempt fails, an *ExhaustedError carries the attempt count
// and the last failure.
//
// HTTPDoer applies the same policy to outbound HTTP requests and honors
// Retry-After on 429 responses.
package retry
