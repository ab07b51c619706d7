// Package relay is the local-only command relay between the companion server
// and the key dispatcher.
//
// The wire format is a single ASCII decimal key code per connection, at most
// MaxPayload bytes, no terminator, no reply. Trust is socket visibility: the
// socket file is only accessible to the owning user.
package relay

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.olrik.dev/mediakey/internal/keys"
)

const (
	// MaxPayload is the most a client may send on one connection.
	MaxPayload = 16
	// ReadTimeout bounds how long a single client can hold the accept loop.
	ReadTimeout = time.Second
)

// ErrOversized is reported for payloads longer than MaxPayload.
var ErrOversized = errors.New("relay payload too large")

// Dispatcher receives validated key commands.
type Dispatcher interface {
	Dispatch(cmd keys.Command) bool
}

// Listener accepts relay connections one at a time and forwards each decoded
// command to the dispatcher.
type Listener struct {
	path       string
	dispatcher Dispatcher

	mu   sync.Mutex
	ln   *net.UnixListener
	done chan struct{}

	handled atomic.Uint64
	dropped atomic.Uint64
}

// NewListener creates a listener for the socket at path. Nothing is bound
// until Start.
func NewListener(path string, dispatcher Dispatcher) *Listener {
	return &Listener{path: path, dispatcher: dispatcher}
}

// Path returns the socket path.
func (l *Listener) Path() string {
	return l.path
}

// Start removes any leftover socket file, binds, and runs the accept loop on
// its own goroutine. A bind failure leaves the relay disabled; the caller
// decides how loudly to report it.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return fmt.Errorf("relay already listening on %s", l.path)
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Could not remove stale relay socket", "path", l.path, "error", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: l.path, Net: "unix"})
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.path, err)
	}
	if err := os.Chmod(l.path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("failed to restrict %s: %w", l.path, err)
	}

	l.ln = ln
	l.done = make(chan struct{})
	go l.acceptLoop(ln, l.done)

	slog.Info("Relay listening", "path", l.path)
	return nil
}

// Listening reports whether the accept loop is running.
func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ln != nil
}

// Handled returns the number of commands forwarded to the dispatcher.
func (l *Listener) Handled() uint64 { return l.handled.Load() }

// Dropped returns the number of connections closed without dispatching.
func (l *Listener) Dropped() uint64 { return l.dropped.Load() }

// Close stops the accept loop and waits for the in-flight connection. The
// socket file is unlinked by the listener.
func (l *Listener) Close() error {
	l.mu.Lock()
	ln, done := l.ln, l.done
	l.ln = nil
	l.mu.Unlock()

	if ln == nil {
		return nil
	}
	err := ln.Close()
	<-done
	return err
}

func (l *Listener) acceptLoop(ln *net.UnixListener, done chan struct{}) {
	defer close(done)
	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("Error accepting relay connection", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	defer conn.Close()

	cmd, err := readCommand(conn)
	if err != nil {
		l.dropped.Add(1)
		slog.Debug("Dropped relay connection", "error", err)
		return
	}
	if !l.dispatcher.Dispatch(cmd) {
		l.dropped.Add(1)
		slog.Debug("Dispatcher refused key command", "key", cmd)
		return
	}
	l.handled.Add(1)
	slog.Debug("Relayed key command", "key", cmd)
}

// readCommand performs a single read of up to MaxPayload bytes. Senders
// must write the whole command in one call; a payload split across writes
// is parsed from whatever the first read returned.
func readCommand(conn net.Conn) (keys.Command, error) {
	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return 0, err
	}
	buf := make([]byte, MaxPayload+1)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return keys.Parse(nil)
		}
		return 0, fmt.Errorf("read: %w", err)
	}
	if n > MaxPayload {
		return 0, ErrOversized
	}
	return keys.Parse(buf[:n])
}
