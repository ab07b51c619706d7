package inject

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.olrik.dev/mediakey/internal/keys"
	"go.olrik.dev/mediakey/internal/uiloop"
)

// ReleaseDelay separates the down and up halves of a press.
const ReleaseDelay = 20 * time.Millisecond

// Dispatcher turns validated commands into down/up event pairs on the UI loop.
//
// Two presses arriving within ReleaseDelay of each other get independent
// release tasks; their relative order at the OS is not guaranteed, but each
// pair is internally ordered.
type Dispatcher struct {
	loop     *uiloop.Loop
	injector Injector
	delay    time.Duration

	dispatched  atomic.Uint64
	observer    func(keys.Command)
	unsupported sync.Once
}

// NewDispatcher binds an injector to the UI loop.
func NewDispatcher(loop *uiloop.Loop, injector Injector) *Dispatcher {
	return &Dispatcher{
		loop:     loop,
		injector: injector,
		delay:    ReleaseDelay,
	}
}

// SetObserver registers a callback invoked (off the UI loop) for every
// command accepted for dispatch.
func (d *Dispatcher) SetObserver(fn func(keys.Command)) {
	d.observer = fn
}

// Dispatch queues a press of cmd on the UI loop. It reports false if cmd is
// not a known command or the loop is shut down. Whether the host actually
// delivered the events is not observable here.
func (d *Dispatcher) Dispatch(cmd keys.Command) bool {
	if !cmd.Valid() {
		return false
	}
	if !d.loop.Post(func() { d.press(cmd) }) {
		slog.Debug("UI loop closed, dropping key command", "key", cmd)
		return false
	}
	if d.observer != nil {
		d.observer(cmd)
	}
	return true
}

// Dispatched returns how many presses have been emitted.
func (d *Dispatcher) Dispatched() uint64 {
	return d.dispatched.Load()
}

// press runs on the UI loop.
func (d *Dispatcher) press(cmd keys.Command) {
	d.post(Event{Code: cmd, Phase: PhaseDown})
	release := func() { d.post(Event{Code: cmd, Phase: PhaseUp}) }
	if d.loop.Schedule(d.delay, release, true) == nil {
		// The loop is draining after Close; release inline so the key
		// is never left down.
		time.Sleep(d.delay)
		release()
	}
	d.dispatched.Add(1)
}

func (d *Dispatcher) post(ev Event) {
	err := d.injector.Post(ev)
	if err == nil {
		slog.Debug("Posted key event", "event", ev.String(), "data1", ev.Data1())
		return
	}
	if errors.Is(err, ErrUnsupported) {
		d.unsupported.Do(func() {
			slog.Warn("Key injection is not available on this platform; commands will be ignored")
		})
		return
	}
	slog.Debug("Failed to post key event", "event", ev.String(), "error", err)
}

// Close releases the injector. Call it after the UI loop has stopped.
func (d *Dispatcher) Close() error {
	return d.injector.Close()
}
