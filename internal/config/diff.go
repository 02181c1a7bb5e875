package config

import (
	"reflect"
	"sort"
	"strings"

	logx "jobsched/pkg/logx"
)

// Change summarizes the difference between two configs for reload logging.
type Change struct {
	// Sections lists changed top-level sections in a stable order.
	Sections []string
	// Fields are log attributes describing the new values.
	Fields []logx.Field

	TriggersAdded   []string
	TriggersRemoved []string
	TriggersChanged []string

	// RestartRequired is set when a scheduler setting changed; those only
	// take effect on the next start.
	RestartRequired bool
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		ch.Sections = append(ch.Sections, "scheduler")
		ch.RestartRequired = true
		ch.Fields = append(ch.Fields,
			logx.Int("scheduler.limit", newCfg.Scheduler.Limit),
			logx.Int("scheduler.pending_limit", newCfg.Scheduler.PendingLimit),
		)
	}
	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		ch.Sections = append(ch.Sections, "timezone")
		ch.Fields = append(ch.Fields, logx.String("timezone", newCfg.Timezone))
	}

	oldT := triggersByName(oldCfg.Triggers)
	newT := triggersByName(newCfg.Triggers)
	for name, nt := range newT {
		ot, ok := oldT[name]
		switch {
		case !ok:
			ch.TriggersAdded = append(ch.TriggersAdded, name)
		case !reflect.DeepEqual(ot, nt):
			ch.TriggersChanged = append(ch.TriggersChanged, name)
		}
	}
	for name := range oldT {
		if _, ok := newT[name]; !ok {
			ch.TriggersRemoved = append(ch.TriggersRemoved, name)
		}
	}
	sort.Strings(ch.TriggersAdded)
	sort.Strings(ch.TriggersRemoved)
	sort.Strings(ch.TriggersChanged)
	if len(ch.TriggersAdded)+len(ch.TriggersRemoved)+len(ch.TriggersChanged) > 0 {
		ch.Sections = append(ch.Sections, "triggers")
		ch.Fields = append(ch.Fields,
			logx.Strs("triggers.added", ch.TriggersAdded),
			logx.Strs("triggers.removed", ch.TriggersRemoved),
			logx.Strs("triggers.changed", ch.TriggersChanged),
		)
	}
	return ch
}

func triggersByName(in []TriggerConfig) map[string]TriggerConfig {
	m := make(map[string]TriggerConfig, len(in))
	for _, t := range in {
		m[strings.TrimSpace(t.Name)] = t
	}
	return m
}
