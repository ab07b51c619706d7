// Package inject synthesizes system-level key events.
//
// Every command becomes a down/up pair. The Dispatcher marshals each pair onto
// the UI loop; the platform Injector does the actual posting.
package inject

import (
	"errors"
	"fmt"

	"go.olrik.dev/mediakey/internal/keys"
)

// Phase marks an event as the press or the release half of a pair. The values
// are the NX key-state nibbles carried in the auxiliary event payload.
type Phase int

const (
	PhaseDown Phase = 0x0a
	PhaseUp   Phase = 0x0b
)

func (p Phase) String() string {
	switch p {
	case PhaseDown:
		return "down"
	case PhaseUp:
		return "up"
	default:
		return fmt.Sprintf("phase(%#x)", int(p))
	}
}

// ErrUnsupported is returned by the injector on platforms without an event
// injection backend.
var ErrUnsupported = errors.New("key injection not supported on this platform")

// Event is one half of a synthetic key press.
type Event struct {
	Code  keys.Command
	Phase Phase
}

// Data1 is the auxiliary control payload: the key code in the high 16 bits,
// the phase in bits 8-15.
func (e Event) Data1() int {
	return int(e.Code)<<16 | int(e.Phase)<<8
}

// Flags is the modifier value accompanying the event (0xa00 down, 0xb00 up).
func (e Event) Flags() int {
	return int(e.Phase) << 8
}

// Down reports whether this is the press half.
func (e Event) Down() bool {
	return e.Phase == PhaseDown
}

func (e Event) String() string {
	return fmt.Sprintf("%s/%s", e.Code, e.Phase)
}

// Injector posts synthetic events into the host's session-wide input stream.
// Post is only ever called from the UI loop.
type Injector interface {
	Post(ev Event) error
	Close() error
}
