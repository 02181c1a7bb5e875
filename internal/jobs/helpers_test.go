package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const testTimeout = 2 * time.Second

func newTestScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// blocking returns a func that runs until release is closed or the job is cancelled.
func blocking(release <-chan struct{}) Func {
	return func(ctx context.Context) (any, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func mustSpawn(t *testing.T, s *Scheduler, fn Func, opts ...SpawnOption) *Job {
	t.Helper()
	j, err := s.Spawn(context.Background(), fn, opts...)
	if err != nil {
		t.Fatalf("Spawn error: %v", err)
	}
	return j
}

// observe marks j observed without blocking on it.
func observe(t *testing.T, j *Job) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := j.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait on cancelled ctx = %v, want context.Canceled", err)
	}
}

type recorder struct {
	mu  sync.Mutex
	got []ExceptionContext
	ch  chan ExceptionContext
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan ExceptionContext, 16)}
}

func (r *recorder) handle(ec ExceptionContext) {
	r.mu.Lock()
	r.got = append(r.got, ec)
	r.mu.Unlock()
	select {
	case r.ch <- ec:
	default:
	}
}

func (r *recorder) calls() []ExceptionContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExceptionContext(nil), r.got...)
}

func (r *recorder) next(t *testing.T) ExceptionContext {
	t.Helper()
	select {
	case ec := <-r.ch:
		return ec
	case <-time.After(testTimeout):
		t.Fatal("exception handler was not called")
		return ExceptionContext{}
	}
}
