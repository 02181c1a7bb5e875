// Package app wires the jobsched daemon: config, logging, the job
// scheduler, and the trigger service.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"jobsched/internal/config"
	"jobsched/internal/eventbus"
	"jobsched/internal/jobs"
	"jobsched/internal/runtime/supervisor"
	"jobsched/internal/trigger"
	logx "jobsched/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	rep      *reporter
	sched    *jobs.Scheduler
	triggers *trigger.Service

	shutdownTimeout time.Duration
	lastApplied     *config.Config
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateTriggers)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(loggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	ss, err := cfg.SchedulerSettings()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	rep := newReporter(log.With(logx.String("comp", "reporter")), ss.ReportRatePerSec)
	sched, err := jobs.New(
		jobs.WithLimit(ss.Limit),
		jobs.WithPendingLimit(ss.PendingLimit),
		jobs.WithCloseTimeout(ss.CloseTimeout),
		jobs.WithExceptionHandler(rep.handle),
		jobs.WithLogger(log.With(logx.String("comp", "jobs"))),
		jobs.WithBus(bus),
	)
	if err != nil {
		return nil, err
	}

	trig := trigger.New(sched, loc, log.With(logx.String("comp", "trigger")))
	defs, err := buildTriggers(cfg)
	if err != nil {
		return nil, err
	}
	if err := trig.Apply(defs); err != nil {
		return nil, err
	}

	return &App{
		cfgm:            cfgm,
		log:             log.With(logx.String("comp", "app")),
		logs:            logSvc,
		bus:             bus,
		rep:             rep,
		sched:           sched,
		triggers:        trig,
		shutdownTimeout: ss.ShutdownTimeout,
		lastApplied:     cfg,
	}, nil
}

func (a *App) Scheduler() *jobs.Scheduler { return a.sched }
func (a *App) Triggers() *trigger.Service { return a.triggers }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.triggers.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128, "job.")
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// Trace only; job transitions are already logged by the scheduler at debug.
				a.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Int("limit", a.sched.Limit()),
		logx.Int("pending_limit", a.sched.PendingLimit()),
		logx.Int("triggers", len(a.triggers.Snapshot())),
	)
	return nil
}

// applyConfig applies a validated config published by the watcher.
// Logging, timezone, triggers, and the report rate change live; scheduler
// limits need a restart.
func (a *App) applyConfig(newCfg *config.Config) {
	ch := config.SummarizeChange(a.lastApplied, newCfg)
	a.lastApplied = newCfg
	if ch.Empty() {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)...)

	if slices.Contains(ch.Sections, "logging") {
		a.logs.Apply(loggingConfig(newCfg))
	}

	if ch.RestartRequired {
		if ss, err := newCfg.SchedulerSettings(); err == nil {
			a.rep.setRate(ss.ReportRatePerSec)
			if ss.Limit != a.sched.Limit() || ss.PendingLimit != a.sched.PendingLimit() ||
				ss.CloseTimeout != a.sched.CloseTimeout() || ss.ShutdownTimeout != a.shutdownTimeout {
				a.log.Warn("scheduler settings changed; restart required for changes to take effect")
			}
		}
	}

	if slices.Contains(ch.Sections, "timezone") {
		if loc, err := newCfg.Location(); err != nil {
			a.log.Warn("invalid timezone; keeping previous", logx.Err(err))
		} else {
			a.triggers.SetLocation(loc)
		}
	}

	if slices.Contains(ch.Sections, "triggers") {
		if defs, err := buildTriggers(newCfg); err != nil {
			a.log.Warn("invalid triggers; keeping previous", logx.Err(err))
		} else if err := a.triggers.Apply(defs); err != nil {
			a.log.Warn("trigger apply failed; keeping previous", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)...)
}

// Stop stops triggering, closes every tracked job, and waits for the
// supervised loops. Each step is bounded so one component cannot stall
// the whole stop.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("triggers", 2*time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
	step("jobs", a.shutdownTimeout, a.sched.Close)
	step("supervisor", 2*time.Second, a.sup.Wait)

	snap := a.sched.Snapshot()
	rc := a.rep.counters()
	a.log.Info("stopped",
		logx.Uint64("spawned", snap.Spawned),
		logx.Uint64("completed", snap.Completed),
		logx.Uint64("failed", snap.Failed),
		logx.Uint64("cancelled", snap.Cancelled),
		logx.Uint64("reported", rc.Reported),
		logx.Uint64("suppressed", rc.Suppressed),
		logx.Uint64("events_dropped", a.bus.Dropped()),
	)
	_ = a.logs.Close()
	return errors.Join(errs...)
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
