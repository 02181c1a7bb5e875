package app

import (
	"errors"
	"sync/atomic"

	"golang.org/x/time/rate"

	"jobsched/internal/command"
	"jobsched/internal/jobs"
	logx "jobsched/pkg/logx"
)

// reporter is the scheduler's exception handler. It logs unobserved job
// failures, throttled so a failing trigger cannot flood the log.
type reporter struct {
	log logx.Logger
	lim *rate.Limiter

	reported   atomic.Uint64
	suppressed atomic.Uint64
	// pendingSuppressed is attached to the next report that gets through.
	pendingSuppressed atomic.Uint64
}

func newReporter(log logx.Logger, perSec int) *reporter {
	if perSec <= 0 {
		perSec = 1
	}
	return &reporter{log: log, lim: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

func (r *reporter) setRate(perSec int) {
	if perSec <= 0 {
		perSec = 1
	}
	r.lim.SetLimit(rate.Limit(perSec))
	r.lim.SetBurst(perSec)
}

func (r *reporter) handle(ec jobs.ExceptionContext) {
	if !r.lim.Allow() {
		r.suppressed.Add(1)
		r.pendingSuppressed.Add(1)
		return
	}
	r.reported.Add(1)

	fields := []logx.Field{logx.String("reason", ec.Message), logx.Err(ec.Err)}
	if ec.Job != nil {
		fields = append(fields, logx.Job(ec.Job.ID(), ec.Job.Name()))
	}
	var ee *command.ExitError
	if errors.As(ec.Err, &ee) {
		fields = append(fields, logx.Int("exit_code", ee.Code))
		if ee.Output != "" {
			fields = append(fields, logx.String("output", ee.Output))
		}
	}
	if n := r.pendingSuppressed.Swap(0); n > 0 {
		fields = append(fields, logx.Uint64("suppressed", n))
	}
	r.log.Error("job.unobserved_failure", fields...)
}

type reporterCounters struct {
	Reported   uint64 `json:"reported"`
	Suppressed uint64 `json:"suppressed"`
}

func (r *reporter) counters() reporterCounters {
	return reporterCounters{Reported: r.reported.Load(), Suppressed: r.suppressed.Load()}
}
