package domain

import "errors"

// Error taxonomy. Services wrap these sentinels so callers can branch with
// errors.Is instead of driving retry logic through exceptions-as-control-flow.
var (
	// ErrTransientService marks a retryable generation-service failure
	// (network error, timeout, throttling, server error).
	ErrTransientService = errors.New("transient generation service error")

	// ErrSchemaValidation marks generation output that does not match the
	// fixed document schema. Gets one repair retry, then a caller decision.
	ErrSchemaValidation = errors.New("generation output failed schema validation")

	// ErrPersistence marks a durable-store write failure. Never retried
	// automatically; the round is left in its pre-operation state.
	ErrPersistence = errors.New("persistence failure")

	// ErrInconsistentState marks on-disk artifacts that contradict the
	// recorded round state. Detected at resume, never auto-resolved.
	ErrInconsistentState = errors.New("artifacts inconsistent with recorded round state")

	// ErrInvariantViolation marks a request rejected synchronously at the
	// API boundary, before anything is persisted.
	ErrInvariantViolation = errors.New("invariant violation")
)
