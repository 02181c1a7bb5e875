// Package jobs implements a concurrency-limited job scheduler.
//
// A Scheduler runs up to Limit jobs at once and queues the rest in spawn order.
// Each spawned computation is wrapped in a Job which moves through three states:
//
//	pending -> active -> closed
//	pending ---------> closed   (closed before it ever ran)
//
// Callers observe a job with Wait, or stop it with Close. Close never surfaces
// the computation's error; a failure that nobody waited for is routed to the
// scheduler's ExceptionHandler instead, exactly once.
//
// Cancellation is delivered through the job's context. A computation that
// returns context.Canceled after being closed is treated as cancelled, not failed.
package jobs
