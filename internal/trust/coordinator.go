// Package trust negotiates the host permission that allows synthetic input
// events to be delivered.
//
// The coordinator never gates dispatch. Without the grant the host silently
// drops injected events, so the state here only drives prompts, status and
// logs.
package trust

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.olrik.dev/mediakey/internal/uiloop"
)

// DefaultResetGrace is how long ResetAndReprompt waits before opening the
// settings pane.
const DefaultResetGrace = 1500 * time.Millisecond

// State is the permission state machine: Unknown, then Checking, then
// Granted or NotGranted.
type State int32

const (
	StateUnknown State = iota
	StateChecking
	StateGranted
	StateNotGranted
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateChecking:
		return "checking"
	case StateGranted:
		return "granted"
	case StateNotGranted:
		return "not granted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText renders the state by name in JSON status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateUnknown, StateChecking, StateGranted, StateNotGranted} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown permission state %q", text)
}

// TrustStore is the host's permission database.
type TrustStore interface {
	// IsTrusted reports the current grant without side effects.
	IsTrusted() bool
	// Prompt registers the process with the host's prompt mechanism and
	// returns the grant as it stands afterwards.
	Prompt() bool
	// Reset clears any recorded decision for identity.
	Reset(ctx context.Context, identity string) error
	// OpenSettings brings up the place where the user grants the permission.
	OpenSettings(ctx context.Context) error
}

// Coordinator owns the permission state. Transitions are serialized; reads
// are lock-free.
type Coordinator struct {
	store    TrustStore
	loop     *uiloop.Loop
	identity string

	state atomic.Int32
	grace atomic.Int64

	mu       sync.Mutex
	observer func(from, to State)
	fallback *uiloop.Task
}

// NewCoordinator creates a coordinator in StateUnknown. Check runs on the
// caller's goroutine; the Loop variants and the reset fallback run on loop.
func NewCoordinator(store TrustStore, loop *uiloop.Loop, identity string, grace time.Duration) *Coordinator {
	c := &Coordinator{
		store:    store,
		loop:     loop,
		identity: identity,
	}
	c.SetResetGrace(grace)
	return c
}

// SetObserver registers a callback for every state transition.
func (c *Coordinator) SetObserver(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

// SetResetGrace changes the delay before the settings fallback. Zero means
// DefaultResetGrace.
func (c *Coordinator) SetResetGrace(d time.Duration) {
	if d <= 0 {
		d = DefaultResetGrace
	}
	c.grace.Store(int64(d))
}

// State returns the current state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Identity is the bundle identity used for resets.
func (c *Coordinator) Identity() string {
	return c.identity
}

// Check is the passive check-and-prompt. It never resets the trust store
// and may be run any number of times.
func (c *Coordinator) Check() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.transition(StateChecking)
	if c.store.IsTrusted() {
		c.transition(StateGranted)
		return StateGranted
	}

	slog.Info("Input injection is not permitted yet, prompting")
	if c.store.Prompt() {
		c.transition(StateGranted)
		return StateGranted
	}
	c.transition(StateNotGranted)
	return StateNotGranted
}

// CheckOnLoop runs Check on the UI loop and waits for the result.
func (c *Coordinator) CheckOnLoop(ctx context.Context) (State, error) {
	var st State
	if err := c.loop.Call(ctx, func() { st = c.Check() }); err != nil {
		return c.State(), err
	}
	return st, nil
}

// ResetAndReprompt clears the stored decision, re-runs the check and, if the
// permission is still missing after the grace period, opens the settings
// pane. It is only ever triggered by an explicit user action. A reset
// failure is returned but the check still runs.
func (c *Coordinator) ResetAndReprompt(ctx context.Context) (State, error) {
	slog.Info("Resetting input injection permission", "identity", c.identity)
	resetErr := c.store.Reset(ctx, c.identity)
	if resetErr != nil {
		slog.Warn("Failed to reset permission", "identity", c.identity, "error", resetErr)
		resetErr = fmt.Errorf("reset permission: %w", resetErr)
	}

	st, err := c.CheckOnLoop(ctx)
	if err != nil {
		return st, err
	}

	grace := time.Duration(c.grace.Load())
	c.mu.Lock()
	c.fallback.Cancel()
	c.fallback = c.loop.Schedule(grace, c.openSettingsIfDenied, false)
	c.mu.Unlock()

	return st, resetErr
}

// openSettingsIfDenied runs on the UI loop.
func (c *Coordinator) openSettingsIfDenied() {
	if c.State() != StateNotGranted {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("Permission still not granted, opening settings")
	if err := c.store.OpenSettings(ctx); err != nil {
		slog.Warn("Failed to open permission settings", "error", err)
	}
}

// transition must be called with mu held.
func (c *Coordinator) transition(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	slog.Debug("Permission state changed", "from", from.String(), "to", to.String())
	if c.observer != nil {
		c.observer(from, to)
	}
}
