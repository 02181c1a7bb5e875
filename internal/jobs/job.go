package jobs

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "jobsched/pkg/logx"
)

// Job is a handle to one spawned computation.
//
// State fields are guarded by the owning scheduler's mutex. value and err
// are written once before done is closed and only read after it.
type Job struct {
	s    *Scheduler
	id   uint64
	name string
	fn   Func

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	state     State
	elem      *list.Element
	holdsSlot bool
	observed  bool
	cancelled bool
	abandoned bool
	startedAt time.Time

	value any
	err   error
}

func (j *Job) ID() uint64 { return j.id }

// Name returns the name given at spawn time, if any.
func (j *Job) Name() string { return j.name }

func (j *Job) State() State {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	return j.state
}

func (j *Job) Active() bool  { return j.State() == StateActive }
func (j *Job) Pending() bool { return j.State() == StatePending }
func (j *Job) Closed() bool  { return j.State() == StateClosed }

// Cancelled reports whether the job was closed before its computation
// produced an outcome of its own.
func (j *Job) Cancelled() bool {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	return j.cancelled
}

// Done is closed once the job is closed and its outcome is fixed.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job is closed and returns its outcome: the value on
// success, the computation's own error on failure, and (nil, nil) if the
// job was cancelled. Calling Wait marks the job observed, which suppresses
// the unobserved-failure report even if ctx ends before the job does.
//
// If ctx ends first, Wait returns ctx.Err() and the job keeps running.
func (j *Job) Wait(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	j.s.mu.Lock()
	j.observed = true
	j.s.mu.Unlock()

	select {
	case <-j.done:
		return j.value, j.err
	default:
	}
	select {
	case <-j.done:
		return j.value, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the job. A pending job is dropped from the queue without
// running. An active job has its context cancelled and Close waits for the
// computation to return, bounded by the scheduler's close timeout and ctx.
// Closing a closed job is a no-op.
//
// If the close timeout expires first, the job is closed anyway: ErrCloseTimeout
// goes to the exception handler, the job's slot is freed, waiters see it as
// cancelled, and whatever the computation later returns is discarded.
//
// Close never returns the computation's error; an unobserved failure goes
// to the exception handler instead. The only error Close returns is
// ctx.Err() when ctx ends before teardown finishes.
func (j *Job) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s := j.s

	s.mu.Lock()
	switch j.state {
	case StateClosed:
		s.mu.Unlock()
		<-j.done
		return nil
	case StatePending:
		s.closePendingLocked(j)
		s.mu.Unlock()
		s.onPendingClosed(j)
		return nil
	}
	s.mu.Unlock()

	j.cancel()

	var timeout <-chan time.Time
	if s.closeTimeout > 0 {
		t := time.NewTimer(s.closeTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-j.done:
		return nil
	case <-timeout:
		s.abandon(j)
		<-j.done
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// String renders the job with its id and state only. An active job carries
// neither the pending nor the closed marker. The name is left out since it
// is caller text; logs carry it as a field.
func (j *Job) String() string {
	return fmt.Sprintf("Job(id=%d state=%s)", j.id, j.State())
}

// call runs the computation, converting a panic into an error.
func (j *Job) call() (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			j.s.log.Error("job.panic", logx.Job(j.id, j.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return j.fn(j.ctx)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
