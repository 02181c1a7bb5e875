package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobsched/internal/jobs"
	logx "jobsched/pkg/logx"
)

// Def describes one trigger.
type Def struct {
	Name     string
	Schedule string
	Func     jobs.Func

	// Wait makes the trigger wait on each job it spawns and log the outcome
	// itself. Failures of such jobs never reach the exception handler.
	Wait bool
	// AllowOverlap spawns even while the previous job of this trigger is
	// still pending or active.
	AllowOverlap bool
}

type entry struct {
	def     Def
	parsed  Parsed
	entryID cron.EntryID

	last   *jobs.Job
	firing bool

	fired    uint64
	skipped  uint64
	failed   uint64
	lastFire time.Time
}

// Service registers triggers with a robfig/cron runner and spawns a job
// every time one fires.
type Service struct {
	sched *jobs.Scheduler
	log   logx.Logger

	mu      sync.Mutex
	loc     *time.Location
	c       *cron.Cron
	entries map[string]*entry
	runCtx  context.Context
	stopRun context.CancelFunc
}

func New(sched *jobs.Scheduler, loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		sched:   sched,
		log:     log,
		loc:     loc,
		entries: map[string]*entry{},
	}
}

// Apply replaces the registered trigger set. Triggers are matched by name:
// a trigger that keeps its name keeps its overlap state and counters, so a
// run still in flight is not duplicated across a reload. Nothing changes if
// any def is invalid.
func (s *Service) Apply(defs []Def) error {
	defs = append([]Def(nil), defs...)
	parsed := make([]Parsed, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for i, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return fmt.Errorf("trigger[%d]: name required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("trigger %q: duplicate name", name)
		}
		seen[name] = struct{}{}
		if d.Func == nil {
			return fmt.Errorf("trigger %q: %w", name, jobs.ErrNilFunc)
		}
		p, err := parse(d.Schedule)
		if err != nil {
			return fmt.Errorf("trigger %q: %w", name, err)
		}
		defs[i].Name = name
		parsed[i] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, e := range s.entries {
		if _, ok := seen[name]; ok {
			continue
		}
		s.unregisterLocked(e)
		delete(s.entries, name)
		s.log.Info("trigger.removed", logx.String("trigger", name))
	}
	for i, d := range defs {
		e, ok := s.entries[d.Name]
		if !ok {
			e = &entry{}
			s.entries[d.Name] = e
		}
		changed := !ok || e.parsed != parsed[i]
		e.def = d
		e.parsed = parsed[i]
		if changed && s.c != nil {
			s.unregisterLocked(e)
			s.registerLocked(e)
		}
		if changed {
			s.log.Info("trigger.registered", logx.String("trigger", d.Name), logx.String("spec", parsed[i].Spec()), logx.String("kind", parsed[i].Kind.String()))
		}
	}
	return nil
}

// Start begins firing triggers. Jobs spawned by the service carry ctx's
// values; Stop ends their spawning and any waits.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.stopRun = context.WithCancel(context.WithoutCancel(ctx))
	s.startCronLocked()
	s.log.Info("trigger service started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.entries)))
}

// Stop stops firing. Jobs already spawned keep running in the scheduler;
// Stop waits for in-progress firings until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	if s.stopRun != nil {
		s.stopRun()
	}
	for _, e := range s.entries {
		e.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger service stopped", logx.Duration("took", time.Since(start)))
}

// SetLocation changes the time zone cron triggers are evaluated in.
func (s *Service) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc.String() == loc.String() {
		return
	}
	s.loc = loc
	if s.c == nil {
		return
	}
	// Running firings hold no reference to the old runner, so it need not drain.
	s.c.Stop()
	for _, e := range s.entries {
		e.entryID = 0
	}
	s.startCronLocked()
	s.log.Info("trigger service restarted", logx.String("tz", loc.String()))
}

func (s *Service) startCronLocked() {
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	for _, e := range s.entries {
		s.registerLocked(e)
	}
	s.c.Start()
}

func (s *Service) registerLocked(e *entry) {
	name := e.def.Name
	job := cron.FuncJob(func() { s.fire(name) })

	var sched cron.Schedule
	if e.parsed.Kind == KindInterval {
		sched = intervalSchedule(e.parsed.Every, time.Now().In(s.loc), name)
	} else {
		var err error
		sched, err = cronParser.Parse(e.parsed.Cron)
		if err != nil {
			// Apply validated the spec already.
			s.log.Error("trigger register failed", logx.String("trigger", name), logx.Err(err))
			return
		}
	}
	e.entryID = s.c.Schedule(sched, job)
}

func (s *Service) unregisterLocked(e *entry) {
	if s.c != nil && e.entryID != 0 {
		s.c.Remove(e.entryID)
	}
	e.entryID = 0
}

// fire spawns one job for the named trigger unless its previous job is
// still tracked and overlap is not allowed.
func (s *Service) fire(name string) {
	s.mu.Lock()
	e := s.entries[name]
	ctx := s.runCtx
	if e == nil || ctx == nil || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if !e.def.AllowOverlap && (e.firing || (e.last != nil && !isDone(e.last))) {
		e.skipped++
		s.mu.Unlock()
		s.log.Debug("trigger.skipped", logx.String("trigger", name), logx.String("reason", "previous run still tracked"))
		return
	}
	e.firing = true
	def := e.def
	s.mu.Unlock()

	opts := []jobs.SpawnOption{jobs.WithName(def.Name)}
	if def.Wait {
		opts = append(opts, jobs.Observed())
	}
	j, err := s.sched.Spawn(ctx, def.Func, opts...)

	s.mu.Lock()
	e.firing = false
	if err == nil {
		e.last = j
		e.fired++
		e.lastFire = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, jobs.ErrSchedulerClosed) || ctx.Err() != nil {
			s.log.Debug("trigger.spawn skipped", logx.String("trigger", name), logx.Err(err))
			return
		}
		s.log.Warn("trigger.spawn failed", logx.String("trigger", name), logx.Err(err))
		return
	}
	s.log.Debug("trigger.fired", logx.String("trigger", name), logx.Uint64("job", j.ID()), logx.String("state", j.State().String()))

	if def.Wait {
		s.await(ctx, name, e, j)
	}
}

// await waits for j and logs its outcome.
func (s *Service) await(ctx context.Context, name string, e *entry, j *jobs.Job) {
	v, err := j.Wait(ctx)
	switch {
	case err != nil && ctx.Err() != nil && !isDone(j):
		return
	case j.Cancelled():
		s.log.Info("trigger.job cancelled", logx.String("trigger", name), logx.Uint64("job", j.ID()))
	case err != nil:
		s.mu.Lock()
		e.failed++
		s.mu.Unlock()
		s.log.Warn("trigger.job failed", logx.String("trigger", name), logx.Uint64("job", j.ID()), logx.Any("result", v), logx.Err(err))
	default:
		s.log.Info("trigger.job done", logx.String("trigger", name), logx.Uint64("job", j.ID()), logx.Any("result", v))
	}
}

func isDone(j *jobs.Job) bool {
	select {
	case <-j.Done():
		return true
	default:
		return false
	}
}

// Info is a point-in-time view of one trigger.
type Info struct {
	Name     string    `json:"name"`
	Spec     string    `json:"spec"`
	Kind     string    `json:"kind"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
	LastFire time.Time `json:"last_fire,omitempty"`
	LastJob  uint64    `json:"last_job,omitempty"`
	Running  bool      `json:"running"`
	Fired    uint64    `json:"fired"`
	Skipped  uint64    `json:"skipped"`
	Failed   uint64    `json:"failed"`
}

// Snapshot lists the registered triggers sorted by name.
func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.entries))
	for name, e := range s.entries {
		it := Info{
			Name:     name,
			Spec:     e.parsed.Spec(),
			Kind:     e.parsed.Kind.String(),
			LastFire: e.lastFire,
			Fired:    e.fired,
			Skipped:  e.skipped,
			Failed:   e.failed,
		}
		if e.last != nil {
			it.LastJob = e.last.ID()
			it.Running = !isDone(e.last)
		}
		if s.c != nil && e.entryID != 0 {
			ce := s.c.Entry(e.entryID)
			it.Next, it.Prev = ce.Next, ce.Prev
		}
		out = append(out, it)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
