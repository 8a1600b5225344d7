package domain

import (
	"errors"
	"fmt"
)

// Boundary errors surfaced to callers as distinct conditions.
var (
	// ErrTaskNotFound means the task id is unknown to the store.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidState means the requested lifecycle transition is not
	// legal from the task's current state.
	ErrInvalidState = errors.New("invalid task state")

	// ErrResultNotReady means the task exists but has not completed.
	ErrResultNotReady = errors.New("result not ready")

	// ErrResultMissing means the task completed but its result artifact
	// cannot be read.
	ErrResultMissing = errors.New("result missing")

	// ErrDocumentUnreadable means the source file cannot be parsed into
	// pages. Fatal for the whole task.
	ErrDocumentUnreadable = errors.New("document unreadable")

	// ErrMalformedResponse means the inference service answered, but not
	// with the expected list of records.
	ErrMalformedResponse = errors.New("malformed inference response")
)

// InferenceError wraps a failed inference service call. It is recovered
// locally by the extraction stage as an empty result and never propagates
// past it.
type InferenceError struct {
	Task  InferenceTask
	Cause error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Task, e.Cause)
}

func (e *InferenceError) Unwrap() error {
	return e.Cause
}
