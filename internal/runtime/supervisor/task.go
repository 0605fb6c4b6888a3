package supervisor

import (
	"context"
	"sync"

	logx "remindbot/pkg/logx"
)

// Task is a goroutine started by Spawn with its own cancel.
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (t *Task) Name() string { return t.name }

// Cancel asks the task to stop and returns immediately.
func (t *Task) Cancel() { t.cancel() }

// Done is closed after the task function returns.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err is the task's failure, valid once Done is closed.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Spawn runs fn under a child context. A failing task is logged and kept
// on the Task; it never cancels the supervisor.
func (s *Supervisor) Spawn(name string, fn func(ctx context.Context) error) (*Task, error) {
	if s.ctx.Err() != nil {
		return nil, ErrStopped
	}
	ctx, cancel := context.WithCancel(s.ctx)
	t := &Task{name: name, cancel: cancel, done: make(chan struct{})}
	s.launch(name, ctx, func(ctx context.Context) error {
		defer close(t.done)
		defer cancel()
		return fn(ctx)
	}, func(err error) {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		s.log.Warn("task failed", logx.String("name", name), logx.Err(err))
	})
	return t, nil
}
