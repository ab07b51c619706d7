package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.olrik.dev/mediakey/internal/core"
	"go.olrik.dev/mediakey/internal/db"
	"go.olrik.dev/mediakey/internal/supervisor"
	"go.olrik.dev/mediakey/internal/trust"
)

// ErrAlreadyRunning is returned by Start when another daemon answers on the
// control socket.
var ErrAlreadyRunning = errors.New("daemon is already running")

// DefaultEventLimit is how many journal entries EVENTS returns by default.
const DefaultEventLimit = 20

// permissionTimeout bounds PERMISSION_CHECK and PERMISSION_RESET, which wait
// for the UI loop.
const permissionTimeout = 10 * time.Second

// RelayStatus describes the command relay socket.
type RelayStatus struct {
	Path      string `json:"path"`
	Listening bool   `json:"listening"`
	Handled   uint64 `json:"handled"`
	Dropped   uint64 `json:"dropped"`
	Error     string `json:"error,omitempty"`
}

// AppStatus is the STATUS payload.
type AppStatus struct {
	Version        string            `json:"version"`
	Pid            int               `json:"pid"`
	StartTime      string            `json:"start_time"`
	Companion      supervisor.Status `json:"companion"`
	Permission     trust.State       `json:"permission"`
	Identity       string            `json:"identity"`
	Relay          RelayStatus       `json:"relay"`
	KeysDispatched uint64            `json:"keys_dispatched"`
	Host           HostInfo          `json:"host"`
	Journal        bool              `json:"journal"`
}

// PermissionResult is the payload of the PERMISSION_* commands.
type PermissionResult struct {
	State    string `json:"state"`
	Identity string `json:"identity"`
}

// EventsResult is the EVENTS payload.
type EventsResult struct {
	Events    []db.Event    `json:"events"`
	KeyCounts []db.KeyCount `json:"key_counts"`
}

// listenControl binds the control socket. A socket file that nobody answers
// on is left over from a crashed daemon and is replaced.
func (a *App) listenControl() error {
	socketPath := a.socketPath

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		if _, statErr := os.Stat(socketPath); statErr == nil {
			conn, dialErr := net.Dial("unix", socketPath)
			if dialErr == nil {
				conn.Close()
				return ErrAlreadyRunning
			}
			slog.Info(fmt.Sprintf("Removing stale socket file: %s", socketPath))
			if removeErr := os.Remove(socketPath); removeErr != nil {
				return fmt.Errorf("could not remove stale socket: %w", removeErr)
			}
			listener, err = net.Listen("unix", socketPath)
		}
		if err != nil {
			return fmt.Errorf("could not create socket listener: %w", err)
		}
	}

	a.mu.Lock()
	a.control = listener
	a.mu.Unlock()
	slog.Info(fmt.Sprintf("Daemon listening on %s", socketPath))
	return nil
}

func (a *App) serveControl() {
	a.mu.Lock()
	listener := a.control
	a.mu.Unlock()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Info(fmt.Sprintf("Error accepting connection: %v", err))
			}
			return
		}
		go a.handleConnection(conn)
	}
}

func (a *App) handleConnection(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		conn.Close()
		return
	}

	parts := strings.Fields(scanner.Text())
	if len(parts) == 0 {
		conn.Close()
		return
	}
	command, args := strings.ToUpper(parts[0]), parts[1:]

	if command != "VERSION" && command != "STATUS" {
		slog.Debug(fmt.Sprintf("Executing command: %s %v", command, args))
	}

	var response Response
	switch command {
	case "STATUS":
		response = a.getStatus()
	case "VERSION":
		response = a.getVersion()
	case "PERMISSION_CHECK":
		response = a.checkPermission()
	case "PERMISSION_RESET":
		response = a.resetPermission()
	case "EVENTS":
		response = a.getEvents(parseCount(args, DefaultEventLimit))
	case "LOGS":
		showHistory := !(len(args) > 0 && args[len(args)-1] == "no_history")
		a.handleLogs(conn, showHistory, parseCount(args, DefaultHistoryLines))
		return
	case "STOP":
		response.AddMessage("Stopping daemon...", StatusInfo)
		conn.Write([]byte(response.ToJSON()))
		conn.Close()
		slog.Info("Stop command received. Shutting down daemon.")
		go a.Shutdown()
		return
	default:
		response.AddMessage("Unknown command.", StatusError)
	}
	conn.Write([]byte(response.ToJSON()))
	conn.Close()
}

// parseCount reads an optional positive count from the first argument.
func parseCount(args []string, fallback int) int {
	if len(args) == 0 {
		return fallback
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// Status assembles the STATUS payload.
func (a *App) Status() AppStatus {
	a.mu.Lock()
	host := a.hostInfo
	relayErr := a.relayErr
	journal := a.database != nil
	a.mu.Unlock()

	st := AppStatus{
		Version:    core.Version,
		Pid:        os.Getpid(),
		StartTime:  a.startTime.Format(time.RFC3339),
		Companion:  a.supervisor.Status(),
		Permission: a.trust.State(),
		Identity:   a.trust.Identity(),
		Relay: RelayStatus{
			Path:      a.relay.Path(),
			Listening: a.relay.Listening(),
			Handled:   a.relay.Handled(),
			Dropped:   a.relay.Dropped(),
		},
		KeysDispatched: a.dispatcher.Dispatched(),
		Host:           host,
		Journal:        journal,
	}
	if relayErr != nil {
		st.Relay.Error = relayErr.Error()
	}
	return st
}

func (a *App) getStatus() Response {
	response := Response{}
	st := a.Status()

	switch st.Companion.State {
	case supervisor.StateRunning, supervisor.StateIdle:
	case supervisor.StateNotFound:
		response.AddMessage(fmt.Sprintf("Companion not found at %s", st.Companion.Path), StatusWarn)
	default:
		response.AddMessage(fmt.Sprintf("Companion %s", st.Companion.State), StatusWarn)
	}
	if st.Relay.Error != "" {
		response.AddMessage(fmt.Sprintf("Command relay disabled: %s", st.Relay.Error), StatusError)
	}
	if st.Permission == trust.StateNotGranted {
		response.AddMessage("Input injection permission not granted", StatusWarn)
	}
	if len(response.Messages) == 0 {
		response.AddMessage("OK", StatusInfo)
	}
	response.AddData(st)
	return response
}

func (a *App) getVersion() Response {
	response := Response{}
	response.AddMessage("OK", StatusInfo)
	bi := core.GetBuildInfo()
	response.AddData(map[string]interface{}{
		"version":    core.Version,
		"revision":   bi.Revision,
		"go_version": bi.GoVersion,
		"platform":   bi.Platform,
		"pid":        os.Getpid(),
	})
	return response
}

func (a *App) checkPermission() Response {
	response := Response{}
	ctx, cancel := context.WithTimeout(a.ctx, permissionTimeout)
	defer cancel()

	st, err := a.trust.CheckOnLoop(ctx)
	if err != nil {
		response.AddMessage(fmt.Sprintf("Permission check did not run: %v", err), StatusError)
		return response
	}
	response.AddMessage(permissionMessage(st), permissionStatus(st))
	response.AddData(PermissionResult{State: st.String(), Identity: a.trust.Identity()})
	return response
}

func (a *App) resetPermission() Response {
	response := Response{}
	ctx, cancel := context.WithTimeout(a.ctx, permissionTimeout)
	defer cancel()

	a.journalDaemon("permission_reset", a.trust.Identity())
	st, err := a.trust.ResetAndReprompt(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		response.AddMessage(fmt.Sprintf("Permission check did not run: %v", err), StatusError)
		return response
	}
	if err != nil {
		response.AddMessage(err.Error(), StatusWarn)
	}
	response.AddMessage(permissionMessage(st), permissionStatus(st))
	if st == trust.StateNotGranted {
		response.AddMessage("Settings will open if the permission is still missing shortly", StatusInfo)
	}
	response.AddData(PermissionResult{State: st.String(), Identity: a.trust.Identity()})
	return response
}

func permissionMessage(st trust.State) string {
	return fmt.Sprintf("Input injection permission: %s", st)
}

func permissionStatus(st trust.State) string {
	if st == trust.StateGranted {
		return StatusInfo
	}
	return StatusWarn
}

func (a *App) getEvents(limit int) Response {
	response := Response{}
	// Held across the queries so closeJournal cannot close the handle
	// underneath them.
	a.mu.Lock()
	defer a.mu.Unlock()
	database := a.database

	if database == nil {
		response.AddMessage("Event journal is disabled", StatusWarn)
		return response
	}

	events, err := database.RecentEvents(limit)
	if err != nil {
		response.AddMessage(fmt.Sprintf("Failed to read events: %v", err), StatusError)
		return response
	}
	counts, err := database.KeyCounts()
	if err != nil {
		response.AddMessage(fmt.Sprintf("Failed to read key counts: %v", err), StatusError)
		return response
	}
	response.AddMessage("OK", StatusInfo)
	response.AddData(EventsResult{Events: events, KeyCounts: counts})
	return response
}
