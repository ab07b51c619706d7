// Package keys defines the closed set of key commands the relay accepts.
//
// Codes are the wire contract between the companion server and the relay
// socket. Most of them are the NX_KEYTYPE_* auxiliary control button codes
// from IOKit's ev_keymap.h; Mission Control has no auxiliary code and is sent
// as a plain virtual key code instead.
package keys

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Command is a validated key command code.
type Command int

const (
	VolumeUp               Command = 0
	VolumeDown             Command = 1
	BrightnessUp           Command = 2
	BrightnessDown         Command = 3
	Mute                   Command = 7
	Launchpad              Command = 13
	PlayPause              Command = 16
	Next                   Command = 17
	Previous               Command = 18
	KeyboardBrightnessUp   Command = 21
	KeyboardBrightnessDown Command = 22
	MissionControl         Command = 160
)

// Kind tells the injector which event family carries the command.
type Kind int

const (
	// KindAuxControl is a system-defined auxiliary control button event.
	KindAuxControl Kind = iota
	// KindKeyCode is an ordinary keyboard event with a virtual key code.
	KindKeyCode
)

var (
	// ErrUnknownCommand is returned for integers outside the known set.
	ErrUnknownCommand = errors.New("unknown key command")
	// ErrMalformed is returned for payloads that are not a decimal integer.
	ErrMalformed = errors.New("malformed key command")
)

type info struct {
	name string
	kind Kind
}

var table = map[Command]info{
	VolumeUp:               {"volume-up", KindAuxControl},
	VolumeDown:             {"volume-down", KindAuxControl},
	BrightnessUp:           {"brightness-up", KindAuxControl},
	BrightnessDown:         {"brightness-down", KindAuxControl},
	Mute:                   {"mute", KindAuxControl},
	Launchpad:              {"launchpad", KindAuxControl},
	PlayPause:              {"play-pause", KindAuxControl},
	Next:                   {"next", KindAuxControl},
	Previous:               {"previous", KindAuxControl},
	KeyboardBrightnessUp:   {"keyboard-brightness-up", KindAuxControl},
	KeyboardBrightnessDown: {"keyboard-brightness-down", KindAuxControl},
	MissionControl:         {"mission-control", KindKeyCode},
}

// Valid reports whether c is in the known set.
func (c Command) Valid() bool {
	_, ok := table[c]
	return ok
}

// Kind returns the event family for c. Unknown commands report KindAuxControl.
func (c Command) Kind() Kind {
	return table[c].kind
}

func (c Command) String() string {
	if i, ok := table[c]; ok {
		return i.name
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// Parse validates a raw relay payload: ASCII text, surrounding whitespace
// ignored, a decimal integer from the known set.
func Parse(payload []byte) (Command, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return 0, ErrMalformed
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, text)
	}
	c := Command(n)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownCommand, n)
	}
	return c, nil
}

// Lookup resolves either a command name ("mute") or a decimal code ("7").
func Lookup(s string) (Command, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, i := range table {
		if i.name == s {
			return c, nil
		}
	}
	return Parse([]byte(s))
}

// All returns every known command in ascending code order.
func All() []Command {
	all := make([]Command, 0, len(table))
	for c := range table {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}
