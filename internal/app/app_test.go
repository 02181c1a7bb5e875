package app

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"jobsched/internal/config"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestBuildTriggers(t *testing.T) {
	t.Parallel()
	cfg, err := config.Decode("c.yaml", []byte(`
triggers:
  - name: a
    schedule: 5m
    command: ["true"]
    wait: true
  - name: b
    schedule: "0 3 * * *"
    command: ["true"]
    allow_overlap: true
  - name: c
    schedule: 1m
    command: ["true"]
    disabled: true
`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	defs, err := buildTriggers(cfg)
	if err != nil {
		t.Fatalf("buildTriggers error: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("got %d defs, want 2 (disabled trigger skipped)", len(defs))
	}
	if defs[0].Name != "a" || !defs[0].Wait || defs[0].Func == nil {
		t.Fatalf("defs[0] = %+v", defs[0])
	}
	if defs[1].Name != "b" || !defs[1].AllowOverlap {
		t.Fatalf("defs[1] = %+v", defs[1])
	}
}

func TestValidateTriggersRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Triggers: []config.TriggerConfig{{Name: "x", Schedule: "99 * * * *", Command: []string{"true"}}}}
	err := validateTriggers(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), `"x"`) {
		t.Fatalf("validateTriggers error = %v, want one naming trigger x", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobsched.yaml")
	writeConfig(t, path, "scheduler:\n  limit: -2\n")
	if _, err := New(path); err == nil {
		t.Fatal("New succeeded with a negative limit")
	}
}

func TestAppRunsTriggersAndReloads(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "jobsched.yaml")
	writeConfig(t, path, `
logging:
  level: error
scheduler:
  limit: 2
triggers:
  - name: tick
    schedule: "* * * * * *"
    command: ["sh", "-c", "exit 0"]
    wait: true
`)

	a, err := New(path)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})

	waitFor(t, "tick to fire", func() bool {
		for _, it := range a.Triggers().Snapshot() {
			if it.Name == "tick" && it.Fired > 0 {
				return true
			}
		}
		return false
	})

	writeConfig(t, path, `
logging:
  level: error
scheduler:
  limit: 2
triggers:
  - name: tock
    schedule: 1h
    command: ["sh", "-c", "exit 0"]
`)
	waitFor(t, "reload to replace triggers", func() bool {
		snap := a.Triggers().Snapshot()
		return len(snap) == 1 && snap[0].Name == "tock"
	})

	select {
	case <-a.Done():
		t.Fatalf("app stopped unexpectedly: %v", a.Err())
	default:
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
