// Package command turns a configured command line into a job computation.
package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"jobsched/internal/jobs"
)

const (
	DefaultGrace       = 5 * time.Second
	DefaultOutputLimit = 4 << 10
)

// Spec describes one command invocation.
type Spec struct {
	Argv []string
	Dir  string
	// Env entries ("KEY=value") are added to the daemon's environment.
	Env []string
	// Timeout bounds a single run. 0 means no bound.
	Timeout time.Duration
	// Grace is how long a cancelled process gets between SIGTERM and SIGKILL.
	Grace time.Duration
	// OutputLimit caps the combined stdout/stderr tail kept in the Result.
	OutputLimit int
}

// Result is the value of a command job. Failed runs return it alongside
// the error.
type Result struct {
	ExitCode  int           `json:"exit_code"`
	Output    string        `json:"output,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Func returns a job computation that runs spec.
func Func(spec Spec) jobs.Func {
	return func(ctx context.Context) (any, error) {
		res, err := Run(ctx, spec)
		if res == nil {
			return nil, err
		}
		return res, err
	}
}

// Run executes spec and waits for it.
//
// When ctx is cancelled the process gets SIGTERM, then SIGKILL after the
// grace period, and Run returns ctx.Err() unwrapped so a closed job counts
// as cancelled rather than failed. A per-run timeout is a failure wrapping
// both ErrTimeout and context.DeadlineExceeded.
func Run(ctx context.Context, spec Spec) (*Result, error) {
	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return nil, ErrEmptyCommand
	}
	name := filepath.Base(spec.Argv[0])

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	limit := spec.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	out := newTailBuffer(limit)

	cmd := exec.CommandContext(runCtx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = spec.Grace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGrace
	}

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		ExitCode:  -1,
		Output:    out.String(),
		Truncated: out.Truncated(),
		Duration:  time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return res, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return res, fmt.Errorf("%w: %s after %s: %w", ErrTimeout, name, spec.Timeout, context.DeadlineExceeded)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() >= 0 {
		return res, &ExitError{Name: name, Code: ee.ExitCode(), Output: res.Output}
	}
	return res, fmt.Errorf("command %s: %w", name, err)
}
