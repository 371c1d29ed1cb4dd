package domain

import "errors"

var (
	// ErrNotFound is returned when a job id is unknown to every available tier.
	ErrNotFound = errors.New("analysis not found")

	// ErrNotReady is returned by result reads for a job that exists but has
	// not completed. Distinct from ErrNotFound.
	ErrNotReady = errors.New("analysis not completed")

	// ErrAlreadyTerminal signals a cancel or update against a job that has
	// already reached a final state.
	ErrAlreadyTerminal = errors.New("analysis already in terminal state")

	// ErrInvalidTransition is the state machine's rejection of an illegal
	// status change. Workers log it and move on; it never crashes a caller.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrResultMissing marks a completed job whose result blob could not be
	// read from any tier. This is a data-consistency defect, not a routine
	// miss, and is logged distinctly.
	ErrResultMissing = errors.New("result missing for completed analysis")

	// ErrInvalidMediaType is returned for submissions outside the supported set.
	ErrInvalidMediaType = errors.New("unsupported media type")
)
