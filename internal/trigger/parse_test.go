package trigger

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   Kind
		source string
		every  time.Duration
		spec   string
	}{
		{name: "cron", raw: "*/5 * * * *", kind: KindCron, source: "cron", spec: "*/5 * * * *"},
		{name: "cron with seconds", raw: "0 */5 * * * *", kind: KindCron, source: "cron", spec: "0 */5 * * * *"},
		{name: "descriptor", raw: "@hourly", kind: KindCron, source: "cron", spec: "@hourly"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: KindCron, source: "cron", spec: "0 0 * * *"},
		{name: "duration", raw: "10m", kind: KindInterval, source: "duration", every: 10 * time.Minute, spec: "@every 10m0s"},
		{name: "prefixed interval", raw: "interval:45s", kind: KindInterval, source: "duration", every: 45 * time.Second, spec: "@every 45s"},
		{name: "every prefix hhmm", raw: "every: 02:30", kind: KindInterval, source: "hhmm", every: 150 * time.Minute, spec: "@every 2h30m0s"},
		{name: "hhmm", raw: "01:30", kind: KindInterval, source: "hhmm", every: 90 * time.Minute, spec: "@every 1h30m0s"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == KindInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
			if got.Spec() != tt.spec {
				t.Fatalf("Spec() = %q, want %q", got.Spec(), tt.spec)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:00", "01:75", "interval:", "interval:-5m", "cron:", "0s"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) succeeded, want error", raw)
		}
	}
}

func TestIntervalScheduleSpreadsFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sched := intervalSchedule(time.Minute, now, "backup")

	first := sched.Next(now)
	if first.Before(now.Add(time.Minute)) || !first.Before(now.Add(time.Minute+maxStartupSpread)) {
		t.Fatalf("first run %v outside [%v, %v)", first, now.Add(time.Minute), now.Add(time.Minute+maxStartupSpread))
	}
	second := sched.Next(first)
	if d := second.Sub(first); d < time.Minute-time.Second || d > time.Minute {
		t.Fatalf("second run %v after first, want about one interval", d)
	}
}

func TestValidateChecksCronFields(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"0 3 * * *", "*/10 * * * * *", "@daily", "cron:@every 5m", "90s"} {
		if err := Validate(ok); err != nil {
			t.Fatalf("Validate(%q) error: %v", ok, err)
		}
	}
	for _, bad := range []string{"61 * * * *", "* * *", "@fortnightly"} {
		if err := Validate(bad); err == nil {
			t.Fatalf("Validate(%q) succeeded, want error", bad)
		}
	}
}
