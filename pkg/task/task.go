// Package task runs long-lived background loops that can be started and
// stopped explicitly.
package task

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Func is the loop body. It must return once ctx is cancelled.
type Func func(ctx context.Context)

// Task owns one goroutine running a Func. Start and Stop are idempotent.
type Task struct {
	fn     Func
	logger log.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped task. A nil logger uses the logrus standard logger.
func New(name string, fn Func, logger log.FieldLogger) *Task {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Task{
		fn:     fn,
		logger: logger.WithField("task", name),
	}
}

// Start launches the loop under a context derived from parent.
// It reports false and does nothing if the loop is already running.
func (t *Task) Start(parent context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done != nil {
		t.logger.Info("already running")
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go func() {
		defer close(done)
		defer t.finished(done)
		t.fn(ctx)
	}()

	t.logger.Info("started")
	return true
}

// Stop cancels the loop and waits for it to return.
// Stopping a task that is not running is a no-op.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if done == nil {
		t.logger.Debug("not running")
		return
	}

	cancel()
	<-done
	t.logger.Info("stopped")
}

// Running reports whether the loop goroutine is alive.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done != nil
}

// finished clears the running state unless a newer run has replaced it.
func (t *Task) finished(done chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == done {
		t.cancel()
		t.cancel = nil
		t.done = nil
	}
}

// Every returns a Func calling fn immediately and then once per interval
// until the context is cancelled.
func Every(interval time.Duration, fn func(ctx context.Context)) Func {
	return func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			fn(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}
