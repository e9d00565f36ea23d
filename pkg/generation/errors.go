package generation

import (
	"errors"
	"fmt"
)

// Error types for job lifecycle violations.
var (
	// ErrJobNotFound is returned when no job exists for the given id.
	ErrJobNotFound = errors.New("generation job not found")

	// ErrInvalidTransition is returned when a lifecycle operation is
	// applied to a job in a state that does not permit it. This always
	// indicates a caller or concurrency bug and is never coerced into a
	// no-op, with one exception: repeating an identical terminal report
	// is idempotent.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrRetriesExhausted is returned by Retry when the configured retry
	// cap has been reached.
	ErrRetriesExhausted = errors.New("retry limit reached")

	// ErrSubmissionFailed wraps backend errors from starting the external
	// operation. The job is left in the failed state and may be retried.
	ErrSubmissionFailed = errors.New("backend submission failed")
)

// TransitionError describes a rejected state transition with enough
// context to debug the offending caller.
type TransitionError struct {
	// JobID is the job the transition was attempted on.
	JobID string

	// From is the job's current status.
	From Status

	// To is the status the caller attempted to move to.
	To Status
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for job %s: %s -> %s", e.JobID, e.From, e.To)
}

// Unwrap allows errors.Is(err, ErrInvalidTransition).
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
