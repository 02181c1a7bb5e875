// Package trigger fires configured schedules and spawns each firing as a
// named job in a jobs.Scheduler.
//
// Triggers only decide when to spawn. Concurrency, queueing, and failure
// reporting stay with the scheduler.
package trigger
