package jobs

import (
	"context"
	"time"
)

// Func is the unit of work wrapped by a Job.
//
// ctx is cancelled when the job is closed; the func should return promptly
// (typically with ctx.Err()) after running its cleanup.
type Func func(ctx context.Context) (any, error)

type State int

const (
	StatePending State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ExceptionContext describes a failure nobody observed.
type ExceptionContext struct {
	Message string
	Job     *Job
	Err     error
}

// ExceptionHandler receives unobserved job failures. It runs on the goroutine
// that closed the job and must not block for long. The job's Done channel is
// still open while the handler runs, so the handler must not Wait on or
// Close the job it was given.
type ExceptionHandler func(ExceptionContext)

// JobEvent is published on the event bus for job lifecycle transitions.
type JobEvent struct {
	ID        uint64        `json:"id"`
	Name      string        `json:"name,omitempty"`
	State     string        `json:"state"`
	Duration  time.Duration `json:"duration,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Snapshot is a point-in-time view of a scheduler for diagnostics.
type Snapshot struct {
	Limit        int
	PendingLimit int
	CloseTimeout time.Duration
	Closed       bool

	Active  int
	Pending int

	Spawned   uint64
	Completed uint64
	Failed    uint64
	Cancelled uint64
	Reported  uint64
}
