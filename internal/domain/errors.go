package domain

import "errors"

var (
	// ErrInvalidTask is returned when task_name is not in the allow-list
	ErrInvalidTask = errors.New("invalid task name")

	// ErrWorkerNotFound is returned when no worker matches the given worker id
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrMachineNotManaged is returned when the worker has no bound machine
	ErrMachineNotManaged = errors.New("machine not managed")

	// ErrMachineBusy is returned when the machine already has a non-terminal job
	ErrMachineBusy = errors.New("machine already has a job in progress")

	// ErrScheduleFailed is returned when the task message could not be queued
	ErrScheduleFailed = errors.New("failed to schedule job")

	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when a job is not in queued status
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in queued status")

	// ErrInvalidTransition is returned when a status update would regress
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidMessage is returned when a queue message cannot be decoded
	ErrInvalidMessage = errors.New("invalid task message")

	ErrNotApplicable    = errors.New("driver not applicable to machine")
	ErrDriverFailed     = errors.New("driver attempt failed")
	ErrProbeTimeout     = errors.New("liveness probe timed out")
	ErrAllDriversFailed = errors.New("all reboot methods failed")
	ErrBugFilingFailed  = errors.New("bug filing failed")
	ErrRunTimeout       = errors.New("run exceeded hard time limit")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
