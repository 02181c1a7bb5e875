package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SchedulerSettings is SchedulerConfig with defaults applied and durations parsed.
type SchedulerSettings struct {
	Limit            int
	PendingLimit     int
	CloseTimeout     time.Duration
	ShutdownTimeout  time.Duration
	ReportRatePerSec int
}

// TriggerSettings is an enabled TriggerConfig with durations parsed.
type TriggerSettings struct {
	Name         string
	Schedule     string
	Command      []string
	Dir          string
	Env          []string
	Timeout      time.Duration
	Grace        time.Duration
	Wait         bool
	AllowOverlap bool
}

func (c *Config) SchedulerSettings() (SchedulerSettings, error) {
	sc := c.Scheduler
	if sc.Limit < 0 {
		return SchedulerSettings{}, fmt.Errorf("scheduler.limit: must be >= 0, got %d", sc.Limit)
	}
	if sc.PendingLimit < 0 {
		return SchedulerSettings{}, fmt.Errorf("scheduler.pending_limit: must be >= 0, got %d", sc.PendingLimit)
	}
	closeTimeout, err := ParseDurationField("scheduler.close_timeout", sc.CloseTimeout)
	if err != nil {
		return SchedulerSettings{}, err
	}
	shutdown, err := ParseDurationOrDefault("scheduler.shutdown_timeout", sc.ShutdownTimeout, 30*time.Second)
	if err != nil {
		return SchedulerSettings{}, err
	}
	rps := sc.ReportRatePerSec
	if rps <= 0 {
		rps = 5
	}
	return SchedulerSettings{
		Limit:            sc.Limit,
		PendingLimit:     sc.PendingLimit,
		CloseTimeout:     closeTimeout,
		ShutdownTimeout:  shutdown,
		ReportRatePerSec: rps,
	}, nil
}

// TriggerSettings returns the enabled triggers in file order.
func (c *Config) TriggerSettings() ([]TriggerSettings, error) {
	out := make([]TriggerSettings, 0, len(c.Triggers))
	seen := make(map[string]struct{}, len(c.Triggers))
	for i, tc := range c.Triggers {
		path := fmt.Sprintf("triggers[%d]", i)
		name := strings.TrimSpace(tc.Name)
		if name == "" {
			return nil, fmt.Errorf("%s.name: required", path)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%s.name: duplicate trigger %q", path, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(tc.Schedule) == "" {
			return nil, fmt.Errorf("%s.schedule: required", path)
		}
		if len(tc.Command) == 0 || strings.TrimSpace(tc.Command[0]) == "" {
			return nil, fmt.Errorf("%s.command: required", path)
		}
		timeout, err := ParseDurationField(path+".timeout", tc.Timeout)
		if err != nil {
			return nil, err
		}
		grace, err := ParseDurationOrDefault(path+".grace", tc.Grace, 5*time.Second)
		if err != nil {
			return nil, err
		}
		if tc.Disabled {
			continue
		}
		out = append(out, TriggerSettings{
			Name:         name,
			Schedule:     strings.TrimSpace(tc.Schedule),
			Command:      append([]string(nil), tc.Command...),
			Dir:          tc.Dir,
			Env:          append([]string(nil), tc.Env...),
			Timeout:      timeout,
			Grace:        grace,
			Wait:         tc.Wait,
			AllowOverlap: tc.AllowOverlap,
		})
	}
	return out, nil
}

// Location resolves Timezone, defaulting to time.Local.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// Validate checks everything that can be checked without other packages.
// Schedule syntax is validated by the caller's hook (see Manager.SetValidator).
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := cfg.SchedulerSettings(); err != nil {
		return err
	}
	if _, err := cfg.TriggerSettings(); err != nil {
		return err
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	return nil
}
