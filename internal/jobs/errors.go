package jobs

import "errors"

var (
	ErrInvalidConfig   = errors.New("jobs: invalid config")
	ErrSchedulerClosed = errors.New("jobs: scheduling a new job after closing")
	ErrNilFunc         = errors.New("jobs: job func is nil")

	// ErrCloseTimeout is reported through the exception handler when a closed
	// job does not return within the scheduler's close timeout.
	ErrCloseTimeout = errors.New("jobs: job closing timed out")

	// ErrPanic wraps a recovered panic from a job computation.
	ErrPanic = errors.New("jobs: job panicked")
)
