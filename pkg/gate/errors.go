package gate

import "errors"

var (
	// ErrInvalidStep is returned when ExecuteStep is called without a run,
	// a step or an operation.
	ErrInvalidStep = errors.New("invalid step")

	// ErrNoIdempotency is returned by StartRun when the gate has no
	// idempotency controller.
	ErrNoIdempotency = errors.New("idempotency controller not configured")
)
