package config

// Config is the on-disk daemon configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Timezone is an IANA name used for cron triggers. Empty means local time.
	Timezone string          `json:"timezone,omitempty"`
	Triggers []TriggerConfig `json:"triggers,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig maps onto jobs.Scheduler options. Changing it requires a
// restart; a hot reload only logs the difference.
//
// Defaults (when fields are omitted/zero):
//   - limit: 0 (unbounded)
//   - pending_limit: 0 (unbounded)
//   - close_timeout: "0s" (wait for jobs to return)
//   - shutdown_timeout: "30s"
type SchedulerConfig struct {
	Limit           int    `json:"limit,omitempty"`
	PendingLimit    int    `json:"pending_limit,omitempty"`
	CloseTimeout    string `json:"close_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	// ReportRatePerSec bounds how many unobserved-failure reports are logged
	// per second. Default 5.
	ReportRatePerSec int `json:"report_rate_per_sec,omitempty"`
}

// TriggerConfig spawns Command as a job whenever Schedule fires.
//
// Example:
//
//	{ "name": "backup", "schedule": "0 3 * * *", "command": ["/usr/bin/backup", "--all"], "timeout": "10m" }
type TriggerConfig struct {
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"`
	Command  []string `json:"command"`
	Dir      string   `json:"dir,omitempty"`
	Env      []string `json:"env,omitempty"`

	// Timeout bounds a single run. "0s" disables it.
	Timeout string `json:"timeout,omitempty"`
	// Grace is how long a cancelled command gets between SIGTERM and SIGKILL. Default "5s".
	Grace string `json:"grace,omitempty"`

	// Wait makes the trigger observe its own jobs and log their outcome,
	// instead of leaving failures to the unobserved-failure reporter.
	Wait bool `json:"wait,omitempty"`
	// AllowOverlap spawns even while a previous run of this trigger is still tracked.
	AllowOverlap bool `json:"allow_overlap,omitempty"`
	Disabled     bool `json:"disabled,omitempty"`
}
