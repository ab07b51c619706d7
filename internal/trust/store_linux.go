//go:build linux

package trust

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"go.olrik.dev/mediakey/internal/inject"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = "/org/freedesktop/Notifications"
	notifyMethod = "org.freedesktop.Notifications.Notify"
)

// Notifier shows a desktop notification.
type Notifier func(ctx context.Context, summary, body string) error

// uinputStore treats write access to the uinput device as the grant. There
// is no decision database to reset; the user fixes group membership or a
// udev rule.
type uinputStore struct {
	path   string
	notify Notifier
}

// NewStore returns the host trust store.
func NewStore() TrustStore {
	return &uinputStore{path: inject.UinputPath, notify: desktopNotify}
}

func (s *uinputStore) IsTrusted() bool {
	return unix.Access(s.path, unix.W_OK) == nil
}

func (s *uinputStore) Prompt() bool {
	if s.IsTrusted() {
		return true
	}
	body := fmt.Sprintf("Media keys need write access to %s. Add your user to the input group or install a udev rule, then run 'mediakey permission check'.", s.path)
	if err := s.notify(context.Background(), "Media key relay needs permission", body); err != nil {
		slog.Debug("Desktop notification failed", "error", err)
	}
	return s.IsTrusted()
}

func (s *uinputStore) Reset(context.Context, string) error {
	slog.Debug("No stored permission decision to reset on this platform")
	return nil
}

func (s *uinputStore) OpenSettings(ctx context.Context) error {
	slog.Warn("Grant write access to the uinput device to enable media keys", "path", s.path)
	return s.notify(ctx, "Media keys still disabled", fmt.Sprintf("%s is not writable by this user.", s.path))
}

func desktopNotify(ctx context.Context, summary, body string) error {
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}
	obj := conn.Object(notifyDest, dbus.ObjectPath(notifyPath))
	call := obj.CallWithContext(ctx, notifyMethod, 0,
		"mediakey",
		uint32(0),
		"input-keyboard",
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{},
		int32(-1),
	)
	return call.Err
}
