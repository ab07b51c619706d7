package inject

import (
	"sync"
	"time"
)

// RecordedEvent is an event captured by a Recorder along with when it was
// posted.
type RecordedEvent struct {
	Event
	At time.Time
}

// Recorder is an Injector that keeps every posted event in memory. It stands
// in for the host in tests and in dry-run mode.
type Recorder struct {
	mu     sync.Mutex
	events []RecordedEvent
	notify chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Post(ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, RecordedEvent{Event: ev, At: time.Now()})
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything posted so far.
func (r *Recorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

// WaitFor blocks until at least n events were posted or the timeout expires,
// returning whatever was recorded.
func (r *Recorder) WaitFor(n int, timeout time.Duration) []RecordedEvent {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if events := r.Events(); len(events) >= n {
			return events
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return r.Events()
		}
	}
}
