package jobs

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"jobsched/internal/eventbus"
	logx "jobsched/pkg/logx"
)

// Scheduler admits jobs into a bounded active set and queues the rest in
// FIFO order.
//
// mu guards the active set, the pending queue, and every job's state, so a
// job's state and the scheduler's bookkeeping always change together.
type Scheduler struct {
	limit        int
	pendingLimit int
	closeTimeout time.Duration
	handler      ExceptionHandler
	log          logx.Logger
	bus          eventbus.Bus

	mu      sync.Mutex
	active  map[uint64]*Job
	pending *list.List // of *Job
	closed  bool

	// pendingSlots is nil when the pending queue is unbounded.
	pendingSlots *semaphore.Weighted

	idSeq uint64

	spawned   uint64
	completed uint64
	failed    uint64
	cancelled uint64
	reported  uint64
}

func New(opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		log:     logx.Nop(),
		active:  make(map[uint64]*Job),
		pending: list.New(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.pendingLimit > 0 {
		s.pendingSlots = semaphore.NewWeighted(int64(s.pendingLimit))
	}
	return s, nil
}

func (s *Scheduler) Limit() int                  { return s.limit }
func (s *Scheduler) PendingLimit() int           { return s.pendingLimit }
func (s *Scheduler) CloseTimeout() time.Duration { return s.closeTimeout }

// Spawn wraps fn in a new Job. The job starts immediately when a slot is
// free, otherwise it joins the tail of the pending queue.
//
// Spawn only blocks when a pending limit is configured and the queue is
// full; ctx bounds that wait. The job itself is detached from ctx's
// cancellation but keeps its values.
func (s *Scheduler) Spawn(ctx context.Context, fn Func, opts ...SpawnOption) (*Job, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	j := s.newJobLocked(ctx, fn, opts)
	if s.hasSlotLocked() {
		s.activateLocked(j)
		s.mu.Unlock()
		s.onSpawned(j, StateActive)
		s.onStarted(j)
		return j, nil
	}
	if s.pendingSlots == nil || s.pendingSlots.TryAcquire(1) {
		s.enqueueLocked(j, s.pendingSlots != nil)
		s.mu.Unlock()
		s.onSpawned(j, StatePending)
		return j, nil
	}
	s.mu.Unlock()

	// Pending queue is full: wait for a slot in FIFO order with other spawners.
	if err := s.pendingSlots.Acquire(ctx, 1); err != nil {
		j.cancel()
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.pendingSlots.Release(1)
		j.cancel()
		return nil, ErrSchedulerClosed
	}
	if s.hasSlotLocked() {
		s.activateLocked(j)
		s.mu.Unlock()
		s.pendingSlots.Release(1)
		s.onSpawned(j, StateActive)
		s.onStarted(j)
		return j, nil
	}
	s.enqueueLocked(j, true)
	s.mu.Unlock()
	s.onSpawned(j, StatePending)
	return j, nil
}

// Shield spawns fn and waits for it. If ctx ends first, Shield returns
// ctx.Err() and the job keeps running.
func (s *Scheduler) Shield(ctx context.Context, fn Func, opts ...SpawnOption) (any, error) {
	j, err := s.Spawn(ctx, fn, append(opts[:len(opts):len(opts)], Observed())...)
	if err != nil {
		return nil, err
	}
	return j.Wait(ctx)
}

// Close stops accepting jobs, drops every pending job, closes every active
// job, and waits for them. It returns ctx.Err() if ctx ends first.
func (s *Scheduler) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.closed = true
	dropped := make([]*Job, 0, s.pending.Len())
	for s.pending.Len() > 0 {
		j := s.pending.Front().Value.(*Job)
		s.closePendingLocked(j)
		dropped = append(dropped, j)
	}
	running := s.activeLocked()
	s.mu.Unlock()

	for _, j := range dropped {
		s.onPendingClosed(j)
	}
	if len(dropped) > 0 || len(running) > 0 {
		s.log.Debug("scheduler.closing", logx.Int("active", len(running)), logx.Int("dropped", len(dropped)))
	}

	var g errgroup.Group
	for _, j := range running {
		j := j
		g.Go(func() error { return j.Close(ctx) })
	}
	return g.Wait()
}

// WaitAndClose stops accepting jobs and waits for every tracked job,
// including pending ones, to finish on its own. Waiting does not mark jobs
// observed, so their failures are still reported. If ctx ends first the
// remaining jobs are closed and ctx.Err() is returned.
func (s *Scheduler) WaitAndClose(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.closed = true
	tracked := s.jobsLocked()
	s.mu.Unlock()

	for _, j := range tracked {
		select {
		case <-j.done:
		case <-ctx.Done():
			s.log.Warn("scheduler.wait_and_close timed out; closing remaining jobs", logx.Err(ctx.Err()))
			_ = s.Close(ctx)
			return ctx.Err()
		}
	}
	return s.Close(ctx)
}

// CallExceptionHandler routes an unobserved failure to the configured
// handler. Without a handler the failure is only logged at debug level.
func (s *Scheduler) CallExceptionHandler(ec ExceptionContext) {
	atomic.AddUint64(&s.reported, 1)
	if s.handler == nil {
		fields := []logx.Field{logx.Err(ec.Err)}
		if ec.Job != nil {
			fields = append(fields, logx.Job(ec.Job.id, ec.Job.name))
		}
		s.log.Debug(ec.Message, fields...)
		return
	}
	s.handler(ec)
}

func (s *Scheduler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Len returns the number of tracked (active plus pending) jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) + s.pending.Len()
}

func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// Jobs returns the tracked jobs: active ones by spawn order, then pending
// ones in queue order.
func (s *Scheduler) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobsLocked()
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	active := len(s.active)
	pending := s.pending.Len()
	closed := s.closed
	s.mu.Unlock()

	return Snapshot{
		Limit:        s.limit,
		PendingLimit: s.pendingLimit,
		CloseTimeout: s.closeTimeout,
		Closed:       closed,
		Active:       active,
		Pending:      pending,
		Spawned:      atomic.LoadUint64(&s.spawned),
		Completed:    atomic.LoadUint64(&s.completed),
		Failed:       atomic.LoadUint64(&s.failed),
		Cancelled:    atomic.LoadUint64(&s.cancelled),
		Reported:     atomic.LoadUint64(&s.reported),
	}
}

func (s *Scheduler) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := "open"
	if s.closed {
		state = "closed"
	}
	return fmt.Sprintf("Scheduler(%s active=%d pending=%d limit=%d)", state, len(s.active), s.pending.Len(), s.limit)
}

func (s *Scheduler) newJobLocked(ctx context.Context, fn Func, opts []SpawnOption) *Job {
	s.idSeq++
	jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &Job{
		s:      s,
		id:     s.idSeq,
		fn:     fn,
		ctx:    jctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}
	return j
}

// hasSlotLocked reports whether a new job may skip the queue. Jobs already
// waiting always go first.
func (s *Scheduler) hasSlotLocked() bool {
	if s.limit == 0 {
		return true
	}
	return len(s.active) < s.limit && s.pending.Len() == 0
}

func (s *Scheduler) activateLocked(j *Job) {
	j.state = StateActive
	j.startedAt = time.Now()
	s.active[j.id] = j
	go s.run(j)
}

func (s *Scheduler) enqueueLocked(j *Job, holdsSlot bool) {
	j.state = StatePending
	j.holdsSlot = holdsSlot
	j.elem = s.pending.PushBack(j)
}

// closePendingLocked moves a queued job straight to closed. The caller
// must call onPendingClosed after releasing mu.
func (s *Scheduler) closePendingLocked(j *Job) {
	s.pending.Remove(j.elem)
	j.elem = nil
	j.state = StateClosed
	j.cancelled = true
	if j.holdsSlot {
		j.holdsSlot = false
		s.pendingSlots.Release(1)
	}
	atomic.AddUint64(&s.cancelled, 1)
}

func (s *Scheduler) onPendingClosed(j *Job) {
	j.cancel()
	close(j.done)
	s.log.Debug("job.closed", logx.Job(j.id, j.name), logx.Bool("pending", true))
	s.publish("job.closed", JobEvent{ID: j.id, Name: j.name, State: StateClosed.String(), Cancelled: true})
}

// promoteLocked fills free slots from the head of the pending queue.
func (s *Scheduler) promoteLocked() []*Job {
	var promoted []*Job
	for s.pending.Len() > 0 && (s.limit == 0 || len(s.active) < s.limit) {
		j := s.pending.Remove(s.pending.Front()).(*Job)
		j.elem = nil
		if j.holdsSlot {
			j.holdsSlot = false
			s.pendingSlots.Release(1)
		}
		s.activateLocked(j)
		promoted = append(promoted, j)
	}
	return promoted
}

func (s *Scheduler) activeLocked() []*Job {
	out := make([]*Job, 0, len(s.active))
	for _, j := range s.active {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].id < out[b].id })
	return out
}

func (s *Scheduler) jobsLocked() []*Job {
	out := s.activeLocked()
	for e := s.pending.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Job))
	}
	return out
}

// run executes an active job's computation and closes the job.
func (s *Scheduler) run(j *Job) {
	v, err := j.call()
	s.finish(j, v, err)
}

func (s *Scheduler) finish(j *Job, v any, err error) {
	cancelled := err != nil && j.ctx.Err() != nil && isCanceled(err)
	if cancelled {
		v, err = nil, nil
	}

	s.mu.Lock()
	if j.abandoned {
		s.mu.Unlock()
		s.log.Debug("job.returned_after_close", logx.Job(j.id, j.name), logx.Duration("dur", time.Since(j.startedAt)), logx.Err(err))
		return
	}
	delete(s.active, j.id)
	j.state = StateClosed
	j.value, j.err = v, err
	j.cancelled = cancelled
	report := err != nil && !j.observed
	promoted := s.promoteLocked()
	s.mu.Unlock()

	j.cancel()
	dur := time.Since(j.startedAt)

	switch {
	case cancelled:
		atomic.AddUint64(&s.cancelled, 1)
		s.log.Debug("job.closed", logx.Job(j.id, j.name), logx.Duration("dur", dur), logx.Bool("cancelled", true))
		s.publish("job.closed", JobEvent{ID: j.id, Name: j.name, State: StateClosed.String(), Duration: dur, Cancelled: true})
	case err != nil:
		atomic.AddUint64(&s.failed, 1)
		s.log.Debug("job.failed", logx.Job(j.id, j.name), logx.Duration("dur", dur), logx.Err(err), logx.Bool("observed", !report))
		s.publish("job.failed", JobEvent{ID: j.id, Name: j.name, State: StateClosed.String(), Duration: dur, Error: err.Error()})
	default:
		atomic.AddUint64(&s.completed, 1)
		s.log.Debug("job.closed", logx.Job(j.id, j.name), logx.Duration("dur", dur))
		s.publish("job.closed", JobEvent{ID: j.id, Name: j.name, State: StateClosed.String(), Duration: dur})
	}

	// Report before releasing waiters so a returning Close or Wait happens after the report.
	if report {
		s.CallExceptionHandler(ExceptionContext{Message: "job processing failed", Job: j, Err: err})
	}
	close(j.done)

	for _, p := range promoted {
		s.onStarted(p)
	}
}

// abandon closes an active job whose computation did not return within the
// close timeout. The job is released as cancelled and its slot goes to the
// pending head; finish later drops the computation's outcome. It is a no-op
// if the job closed in the meantime.
func (s *Scheduler) abandon(j *Job) {
	s.mu.Lock()
	if j.state == StateClosed {
		s.mu.Unlock()
		return
	}
	delete(s.active, j.id)
	j.state = StateClosed
	j.abandoned = true
	j.cancelled = true
	promoted := s.promoteLocked()
	s.mu.Unlock()

	atomic.AddUint64(&s.cancelled, 1)
	dur := time.Since(j.startedAt)
	s.log.Warn("job.close timed out", logx.Job(j.id, j.name), logx.Duration("timeout", s.closeTimeout))
	s.publish("job.closed", JobEvent{ID: j.id, Name: j.name, State: StateClosed.String(), Duration: dur, Cancelled: true})

	s.CallExceptionHandler(ExceptionContext{Message: "job closing timed out", Job: j, Err: ErrCloseTimeout})
	close(j.done)

	for _, p := range promoted {
		s.onStarted(p)
	}
}

func (s *Scheduler) onSpawned(j *Job, state State) {
	atomic.AddUint64(&s.spawned, 1)
	s.log.Debug("job.spawned", logx.Job(j.id, j.name), logx.String("state", state.String()))
	s.publish("job.spawned", JobEvent{ID: j.id, Name: j.name, State: state.String()})
}

func (s *Scheduler) onStarted(j *Job) {
	s.publish("job.started", JobEvent{ID: j.id, Name: j.name, State: StateActive.String()})
}

func (s *Scheduler) publish(typ string, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
