// Package uiloop provides the single UI-affinity execution context.
//
// A Loop is a serialized, unbounded FIFO of work executed by exactly one
// goroutine locked to its OS thread. Input-event synthesis must only ever run
// there. When the process main goroutine calls Run (see main.go, which locks
// it to the main thread during init), the loop is the process main thread.
package uiloop

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// ErrClosed is returned when work is offered to a loop that has been closed.
var ErrClosed = errors.New("ui loop closed")

// Loop is a single-worker task queue.
type Loop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	tasks  map[*Task]struct{}
	closed bool
	done   chan struct{}
}

// New creates a loop. Nothing executes until Run is called.
func New() *Loop {
	l := &Loop{
		tasks: make(map[*Task]struct{}),
		done:  make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Run executes queued work on the calling goroutine until Close is called and
// the queue has drained. It must be called at most once.
func (l *Loop) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.exec(fn)
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered panic on UI loop", "panic", r)
		}
	}()
	fn()
}

// Post enqueues fn. It reports false if the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and cancels pending scheduled tasks. Tasks
// scheduled with flush set are queued to run immediately instead of being
// dropped. Work already queued still runs before Run returns.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for t := range l.tasks {
		delete(l.tasks, t)
		t.timer.Stop()
		if t.flush {
			l.queue = append(l.queue, t.fn)
		}
	}
	l.cond.Broadcast()
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Pending returns the number of scheduled tasks that have not fired yet.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Task is a unit of work scheduled to be posted onto the loop after a delay.
type Task struct {
	loop  *Loop
	fn    func()
	flush bool
	timer *time.Timer
}

// Schedule posts fn onto the loop once d has elapsed. When flush is set and
// the loop is closed before the task fires, fn runs during shutdown instead
// of being dropped. Returns nil if the loop is already closed.
func (l *Loop) Schedule(d time.Duration, fn func(), flush bool) *Task {
	t := &Task{loop: l, fn: fn, flush: flush}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.tasks[t] = struct{}{}
	t.timer = time.AfterFunc(d, t.fire)
	return t
}

func (t *Task) fire() {
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tasks[t]; !ok {
		return
	}
	delete(l.tasks, t)
	l.queue = append(l.queue, t.fn)
	l.cond.Signal()
}

// Cancel prevents a pending task from running. It reports whether the task
// was still pending.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tasks[t]; !ok {
		return false
	}
	delete(l.tasks, t)
	t.timer.Stop()
	return true
}
