package jobs

import (
	"fmt"
	"time"

	"jobsched/internal/eventbus"
	logx "jobsched/pkg/logx"
)

// Option configures a Scheduler.
type Option func(*Scheduler) error

// WithLimit caps the number of active jobs. 0 means unbounded.
func WithLimit(n int) Option {
	return func(s *Scheduler) error {
		if n < 0 {
			return fmt.Errorf("%w: limit must be >= 0, got %d", ErrInvalidConfig, n)
		}
		s.limit = n
		return nil
	}
}

// WithPendingLimit caps the pending queue. Spawn blocks while the queue is
// full. 0 means unbounded.
func WithPendingLimit(n int) Option {
	return func(s *Scheduler) error {
		if n < 0 {
			return fmt.Errorf("%w: pending limit must be >= 0, got %d", ErrInvalidConfig, n)
		}
		s.pendingLimit = n
		return nil
	}
}

// WithCloseTimeout bounds how long Job.Close waits for a cancelled
// computation to return. 0 waits indefinitely.
func WithCloseTimeout(d time.Duration) Option {
	return func(s *Scheduler) error {
		if d < 0 {
			return fmt.Errorf("%w: close timeout must be >= 0, got %s", ErrInvalidConfig, d)
		}
		s.closeTimeout = d
		return nil
	}
}

func WithExceptionHandler(h ExceptionHandler) Option {
	return func(s *Scheduler) error {
		s.handler = h
		return nil
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) error {
		s.log = log
		return nil
	}
}

// WithBus publishes job lifecycle events (job.spawned, job.started,
// job.closed, job.failed) to bus.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) error {
		s.bus = bus
		return nil
	}
}

// SpawnOption configures a single Spawn call.
type SpawnOption func(*Job)

func WithName(name string) SpawnOption {
	return func(j *Job) { j.name = name }
}

// Observed marks the job observed from the start, as if Wait had already
// been called. Use it when the caller waits on the job itself and a failure
// must never reach the exception handler.
func Observed() SpawnOption {
	return func(j *Job) { j.observed = true }
}
