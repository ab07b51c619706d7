// Package supervisor owns the companion web server process: it frees the
// companion's port from whoever holds it, launches the companion, and
// terminates it on shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultSettle is how long Start waits after signalling port owners.
const DefaultSettle = 400 * time.Millisecond

// ErrNotFound is returned by launchers when the companion executable is
// missing.
var ErrNotFound = errors.New("companion executable not found")

// State describes the companion process.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateNotFound State = "not found"
	StateFailed   State = "failed"
	StateExited   State = "exited"
	StateStopped  State = "stopped"
)

// Status is the snapshot reported to the control surface.
type Status struct {
	State     State     `json:"state"`
	Path      string    `json:"path"`
	Port      int       `json:"port"`
	Pid       int       `json:"pid,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	Preempted []int32   `json:"preempted,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Conflict is the set of processes found listening on the companion port.
type Conflict struct {
	Port int
	PIDs []int32
}

// PortProbe answers which processes are listening on a TCP port.
type PortProbe interface {
	ListeningPIDs(ctx context.Context, port int) ([]int32, error)
}

// ProcessLauncher starts the companion with its output appended to logPath.
type ProcessLauncher interface {
	Launch(path, logPath string) (*Handle, error)
}

// Signaler delivers a signal to a process by PID.
type Signaler func(pid int, sig os.Signal) error

// SignalPID is the default Signaler.
func SignalPID(pid int, sig os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

// Config describes the companion to supervise.
type Config struct {
	Path    string
	Port    int
	LogPath string
	Settle  time.Duration
}

// Supervisor manages exactly one companion launch per Start.
type Supervisor struct {
	cfg      Config
	probe    PortProbe
	launcher ProcessLauncher
	signal   Signaler
	self     int
	logEvent func(eventType, details string)

	mu     sync.Mutex
	handle *Handle
	status Status
}

// New creates a supervisor. A zero Settle means DefaultSettle.
func New(cfg Config, probe PortProbe, launcher ProcessLauncher, signal Signaler) *Supervisor {
	if cfg.Settle == 0 {
		cfg.Settle = DefaultSettle
	}
	if signal == nil {
		signal = SignalPID
	}
	return &Supervisor{
		cfg:      cfg,
		probe:    probe,
		launcher: launcher,
		signal:   signal,
		self:     os.Getpid(),
		status:   Status{State: StateIdle, Path: cfg.Path, Port: cfg.Port},
	}
}

// SetEventLogger registers a callback for lifecycle events.
func (s *Supervisor) SetEventLogger(fn func(eventType, details string)) {
	s.logEvent = fn
}

func (s *Supervisor) event(eventType, details string) {
	if s.logEvent != nil {
		s.logEvent(eventType, details)
	}
}

// Start frees the companion port, launches the companion and returns the
// resulting status. Failures are reported in the status, never as a panic.
// Calling Start while a companion is running returns the current status.
func (s *Supervisor) Start(ctx context.Context) Status {
	s.mu.Lock()
	if s.handle != nil && s.status.State == StateRunning {
		st := s.status
		s.mu.Unlock()
		return st
	}
	s.mu.Unlock()

	conflict := s.freePort(ctx)
	if len(conflict.PIDs) > 0 {
		select {
		case <-time.After(s.cfg.Settle):
		case <-ctx.Done():
		}
	}

	h, err := s.launcher.Launch(s.cfg.Path, s.cfg.LogPath)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Status{Path: s.cfg.Path, Port: s.cfg.Port, Preempted: conflict.PIDs}
	switch {
	case errors.Is(err, ErrNotFound):
		s.status.State = StateNotFound
		s.status.Error = err.Error()
		slog.Warn("Companion not found", "path", s.cfg.Path)
		s.event("companion_not_found", s.cfg.Path)
	case err != nil:
		s.status.State = StateFailed
		s.status.Error = err.Error()
		slog.Error("Failed to launch companion", "path", s.cfg.Path, "error", err)
		s.event("companion_failed", err.Error())
	default:
		s.handle = h
		s.status.State = StateRunning
		s.status.Pid = h.Pid
		s.status.StartTime = h.StartTime
		slog.Info("Companion started", "path", s.cfg.Path, "pid", h.Pid, "log", s.cfg.LogPath)
		s.event("companion_start", fmt.Sprintf("PID: %d", h.Pid))
		go s.monitor(h)
	}
	return s.status
}

// freePort sends SIGTERM to every listener on the companion port except
// this process. Probe and signal failures count as nothing to free.
func (s *Supervisor) freePort(ctx context.Context) Conflict {
	conflict := Conflict{Port: s.cfg.Port}
	pids, err := s.probe.ListeningPIDs(ctx, s.cfg.Port)
	if err != nil {
		slog.Warn("Could not determine port owners", "port", s.cfg.Port, "error", err)
		return conflict
	}

	for _, pid := range pids {
		if int(pid) == s.self {
			continue
		}
		slog.Info("Terminating process holding companion port",
			"port", s.cfg.Port,
			"pid", pid,
			"process", describeProcess(ctx, pid))
		if err := s.signal(int(pid), syscall.SIGTERM); err != nil {
			slog.Warn("Failed to signal port owner", "pid", pid, "error", err)
			continue
		}
		conflict.PIDs = append(conflict.PIDs, pid)
		s.event("port_preempted", fmt.Sprintf("port %d, PID: %d", s.cfg.Port, pid))
	}
	return conflict
}

// monitor records the companion's exit. The companion is never restarted.
func (s *Supervisor) monitor(h *Handle) {
	<-h.Done()
	err := h.Err()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != h {
		return
	}

	code := exitCode(err)
	if s.status.State == StateStopped {
		s.status.ExitCode = &code
		return
	}
	s.status.State = StateExited
	s.status.ExitCode = &code
	details := fmt.Sprintf("exit code %d", code)
	if err != nil {
		s.status.Error = err.Error()
		slog.Warn("Companion exited with error", "pid", h.Pid, "error", err)
	} else {
		slog.Info("Companion exited", "pid", h.Pid)
	}
	s.event("companion_exited", details)
}

// Stop sends SIGTERM to the running companion. It does not wait for the
// process to exit or escalate to SIGKILL.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.handle
	if h == nil || s.status.State != StateRunning {
		return nil
	}
	s.status.State = StateStopped
	slog.Info("Stopping companion", "pid", h.Pid)
	s.event("companion_stop", fmt.Sprintf("PID: %d", h.Pid))
	if err := s.signal(h.Pid, syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal companion: %w", err)
	}
	return nil
}

// Status returns a copy of the current status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Preempted = append([]int32(nil), s.status.Preempted...)
	return st
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
