package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  limit: 2
  pending_limit: 10
  close_timeout: 3s
timezone: UTC
triggers:
  - name: backup
    schedule: "0 3 * * *"
    command: ["/usr/bin/backup", "--all"]
    timeout: 10m
  - name: off
    schedule: 5m
    command: ["true"]
    disabled: true
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "jobsched.yaml", sampleYAML)
	m := NewManager(path)

	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit the config")
	}
	ss, err := cfg.SchedulerSettings()
	if err != nil {
		t.Fatalf("SchedulerSettings error: %v", err)
	}
	if ss.Limit != 2 || ss.PendingLimit != 10 || ss.CloseTimeout != 3*time.Second {
		t.Fatalf("scheduler settings = %+v", ss)
	}
	if ss.ShutdownTimeout != 30*time.Second || ss.ReportRatePerSec != 5 {
		t.Fatalf("defaults not applied: %+v", ss)
	}
	ts, err := cfg.TriggerSettings()
	if err != nil {
		t.Fatalf("TriggerSettings error: %v", err)
	}
	if len(ts) != 1 || ts[0].Name != "backup" || ts[0].Timeout != 10*time.Minute || ts[0].Grace != 5*time.Second {
		t.Fatalf("trigger settings = %+v, want only backup with defaults", ts)
	}
	if loc, err := cfg.Location(); err != nil || loc.String() != "UTC" {
		t.Fatalf("Location = %v, %v", loc, err)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "unknown json field", path: "c.json", body: `{"logging":{"level":"info"},"bogus":1}`},
		{name: "unknown yaml field", path: "c.yaml", body: "scheduler:\n  limt: 3\n"},
		{name: "trailing json", path: "c.json", body: `{} {}`},
		{name: "bad yaml", path: "c.yml", body: "logging: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
				t.Fatalf("Decode(%q) succeeded, want error", tt.body)
			}
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("empty.yaml", nil)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("empty config should validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	cmd := []string{"true"}
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "negative limit", cfg: Config{Scheduler: SchedulerConfig{Limit: -1}}, want: "scheduler.limit"},
		{name: "negative pending", cfg: Config{Scheduler: SchedulerConfig{PendingLimit: -1}}, want: "scheduler.pending_limit"},
		{name: "bad close timeout", cfg: Config{Scheduler: SchedulerConfig{CloseTimeout: "soon"}}, want: "scheduler.close_timeout"},
		{name: "missing name", cfg: Config{Triggers: []TriggerConfig{{Schedule: "1m", Command: cmd}}}, want: "triggers[0].name"},
		{name: "duplicate name", cfg: Config{Triggers: []TriggerConfig{{Name: "a", Schedule: "1m", Command: cmd}, {Name: "a", Schedule: "2m", Command: cmd}}}, want: "duplicate"},
		{name: "missing command", cfg: Config{Triggers: []TriggerConfig{{Name: "a", Schedule: "1m"}}}, want: "triggers[0].command"},
		{name: "negative timeout", cfg: Config{Triggers: []TriggerConfig{{Name: "a", Schedule: "1m", Command: cmd, Timeout: "-1s"}}}, want: "triggers[0].timeout"},
		{name: "bad timezone", cfg: Config{Timezone: "Mars/Olympus"}, want: "timezone"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "jobsched.json", `{"scheduler":{"limit":1}}`)
	m := NewManager(path)
	rejectBig := errors.New("limit too big")
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Scheduler.Limit > 100 {
			return rejectBig
		}
		return nil
	})
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if changed, err := m.Reload(context.Background()); err != nil || changed {
		t.Fatalf("Reload of unchanged file = (%v, %v), want (false, nil)", changed, err)
	}

	writeFile(t, dir, "jobsched.json", `{"scheduler":{"limit":500}}`)
	if _, err := m.Reload(context.Background()); !errors.Is(err, rejectBig) {
		t.Fatalf("Reload error = %v, want validator error", err)
	}
	if m.Get().Scheduler.Limit != 1 {
		t.Fatalf("rejected config was committed")
	}

	writeFile(t, dir, "jobsched.json", `{"scheduler":{"limit":4}}`)
	changed, err := m.Reload(context.Background())
	if err != nil || !changed {
		t.Fatalf("Reload = (%v, %v), want (true, nil)", changed, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Scheduler.Limit != 4 {
			t.Fatalf("published limit = %d, want 4", cfg.Scheduler.Limit)
		}
	default:
		t.Fatal("subscriber did not receive the new config")
	}
}

func TestWatchPicksUpEdits(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "jobsched.yaml", "scheduler:\n  limit: 1\n")
	m := NewManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register before editing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "jobsched.yaml", "scheduler:\n  limit: 7\n")

	select {
	case cfg := <-sub:
		if cfg.Scheduler.Limit != 7 {
			t.Fatalf("published limit = %d, want 7", cfg.Scheduler.Limit)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not publish the edited config")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging:  LoggingConfig{Level: "info"},
		Triggers: []TriggerConfig{{Name: "a", Schedule: "1m"}, {Name: "b", Schedule: "1m"}},
	}
	newCfg := &Config{
		Logging:   LoggingConfig{Level: "debug"},
		Scheduler: SchedulerConfig{Limit: 3},
		Triggers:  []TriggerConfig{{Name: "a", Schedule: "2m"}, {Name: "c", Schedule: "1m"}},
	}
	ch := SummarizeChange(oldCfg, newCfg)
	if got := strings.Join(ch.Sections, ","); got != "logging,scheduler,triggers" {
		t.Fatalf("Sections = %s", got)
	}
	if !ch.RestartRequired {
		t.Fatal("scheduler change should require restart")
	}
	if strings.Join(ch.TriggersAdded, ",") != "c" || strings.Join(ch.TriggersRemoved, ",") != "b" || strings.Join(ch.TriggersChanged, ",") != "a" {
		t.Fatalf("trigger diff = +%v -%v ~%v", ch.TriggersAdded, ch.TriggersRemoved, ch.TriggersChanged)
	}
	if !SummarizeChange(newCfg, newCfg).Empty() {
		t.Fatal("identical configs should produce an empty change")
	}
}
