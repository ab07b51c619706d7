//go:build linux

package inject

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"go.olrik.dev/mediakey/internal/keys"
)

// UinputPath is the uinput character device. Write access to it is the Linux
// equivalent of the input-injection grant.
const UinputPath = "/dev/uinput"

// linux/uinput.h and linux/input-event-codes.h
const (
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565

	evSyn     = 0x00
	evKey     = 0x01
	synReport = 0

	busVirtual = 0x06
)

var linuxKeyCodes = map[keys.Command]uint16{
	keys.VolumeUp:               115, // KEY_VOLUMEUP
	keys.VolumeDown:             114, // KEY_VOLUMEDOWN
	keys.BrightnessUp:           225, // KEY_BRIGHTNESSUP
	keys.BrightnessDown:         224, // KEY_BRIGHTNESSDOWN
	keys.Mute:                   113, // KEY_MUTE
	keys.Launchpad:              204, // KEY_DASHBOARD
	keys.PlayPause:              164, // KEY_PLAYPAUSE
	keys.Next:                   163, // KEY_NEXTSONG
	keys.Previous:               165, // KEY_PREVIOUSSONG
	keys.KeyboardBrightnessUp:   230, // KEY_KBDILLUMUP
	keys.KeyboardBrightnessDown: 229, // KEY_KBDILLUMDOWN
	keys.MissionControl:         120, // KEY_SCALE
}

type uinputUserDev struct {
	Name         [80]byte
	Bustype      uint16
	Vendor       uint16
	Product      uint16
	Version      uint16
	FFEffectsMax uint32
	Absmax       [64]int32
	Absmin       [64]int32
	Absfuzz      [64]int32
	Absflat      [64]int32
}

type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// uinputInjector owns a virtual keyboard. The device is created lazily so a
// permission granted after startup takes effect on the next press.
type uinputInjector struct {
	path string
	dev  *os.File
}

// NewInjector returns the host injector.
func NewInjector() (Injector, error) {
	return &uinputInjector{path: UinputPath}, nil
}

func (u *uinputInjector) open() error {
	if u.dev != nil {
		return nil
	}
	f, err := os.OpenFile(u.path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", u.path, err)
	}
	fd := int(f.Fd())

	if err := unix.IoctlSetInt(fd, uiSetEvBit, evKey); err != nil {
		f.Close()
		return fmt.Errorf("UI_SET_EVBIT: %w", err)
	}
	for _, code := range linuxKeyCodes {
		if err := unix.IoctlSetInt(fd, uiSetKeyBit, int(code)); err != nil {
			f.Close()
			return fmt.Errorf("UI_SET_KEYBIT %d: %w", code, err)
		}
	}

	var dev uinputUserDev
	copy(dev.Name[:], "mediakey virtual keyboard")
	dev.Bustype = busVirtual
	dev.Vendor = 0x1
	dev.Product = 0x1
	dev.Version = 1
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, &dev); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("write uinput device: %w", err)
	}
	if err := unix.IoctlSetInt(fd, uiDevCreate, 0); err != nil {
		f.Close()
		return fmt.Errorf("UI_DEV_CREATE: %w", err)
	}

	// udev needs a moment to announce the new device before events are seen.
	time.Sleep(50 * time.Millisecond)
	slog.Info("Created uinput virtual keyboard", "path", u.path)
	u.dev = f
	return nil
}

func (u *uinputInjector) Post(ev Event) error {
	code, ok := linuxKeyCodes[ev.Code]
	if !ok {
		return fmt.Errorf("no input key code for %s", ev.Code)
	}
	if err := u.open(); err != nil {
		return err
	}

	value := int32(0)
	if ev.Down() {
		value = 1
	}
	var buf bytes.Buffer
	for _, e := range []inputEvent{
		{Type: evKey, Code: code, Value: value},
		{Type: evSyn, Code: synReport},
	} {
		e.Time = unix.NsecToTimeval(time.Now().UnixNano())
		if err := binary.Write(&buf, binary.NativeEndian, &e); err != nil {
			return err
		}
	}
	if _, err := u.dev.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s event: %w", ev, err)
	}
	return nil
}

func (u *uinputInjector) Close() error {
	if u.dev == nil {
		return nil
	}
	unix.IoctlSetInt(int(u.dev.Fd()), uiDevDestroy, 0)
	err := u.dev.Close()
	u.dev = nil
	return err
}
