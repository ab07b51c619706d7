package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/mediakey/internal/core"
	"go.olrik.dev/mediakey/internal/daemon"
)

// Reconnect timing after the daemon drops the LOGS stream: the first retry
// waits one interval, and the follower gives up after reconnectAttempts.
const (
	reconnectInterval = 500 * time.Millisecond
	reconnectAttempts = 10
)

var errLogsInterrupted = errors.New("interrupted")

// logFollower streams LOGS from the daemon and keeps following it across
// daemon restarts.
type logFollower struct {
	socketPath string
	lines      int
	debug      bool
	filter     string
	noColor    bool
	out        io.Writer

	// ping reports whether the daemon answers on its control socket.
	ping     func() error
	interval time.Duration
	attempts int
}

func newLogFollower(cmd *cobra.Command, lines int) *logFollower {
	debug, _ := cmd.Flags().GetBool("debug")
	filter, _ := cmd.Flags().GetString("filter")
	noColor, _ := cmd.Flags().GetBool("no-color")
	return &logFollower{
		socketPath: core.GetSocketPath(),
		lines:      lines,
		debug:      debug,
		filter:     filter,
		noColor:    noColor,
		out:        os.Stdout,
		ping: func() error {
			_, err := daemon.SendCommand("STATUS")
			return err
		},
		interval: reconnectInterval,
		attempts: reconnectAttempts,
	}
}

// request builds the LOGS command line. History is replayed only on the
// first connection so a reconnect does not print it twice.
func (f *logFollower) request(reconnect bool) string {
	line := fmt.Sprintf("LOGS %d", f.lines)
	if reconnect {
		line += " no_history"
	}
	return line + "\n"
}

// copyLines writes every line from r that passes the debug and filter
// flags. It returns when r is exhausted or fails.
func (f *logFollower) copyLines(r io.Reader) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" && keepLogLine(line, f.debug, f.filter) {
			if f.noColor {
				line = stripANSI(line)
			}
			fmt.Fprint(f.out, line)
		}
		if err != nil {
			return
		}
	}
}

// streamOnce holds one LOGS connection open until the daemon closes it or
// stop fires. It returns errLogsInterrupted on stop.
func (f *logFollower) streamOnce(reconnect bool, stop <-chan os.Signal) error {
	conn, err := net.Dial("unix", f.socketPath)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, f.request(reconnect)); err != nil {
		return fmt.Errorf("failed to send LOGS command: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.copyLines(conn)
	}()

	select {
	case <-stop:
		conn.Close()
		<-done
		return errLogsInterrupted
	case <-done:
		return nil
	}
}

// waitForDaemon polls until the daemon answers again or attempts run out.
func (f *logFollower) waitForDaemon() bool {
	for i := 0; i < f.attempts; i++ {
		time.Sleep(f.interval)
		if f.ping() == nil {
			return true
		}
	}
	return false
}

// follow streams until interrupted or until the daemon stays away.
func (f *logFollower) follow(stop <-chan os.Signal) error {
	reconnect := false
	for {
		err := f.streamOnce(reconnect, stop)
		if errors.Is(err, errLogsInterrupted) {
			fmt.Fprintln(f.out, "\nDisconnected from daemon logs.")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(f.out, "Connection lost. Reconnecting...")
		if !f.waitForDaemon() {
			fmt.Fprintln(f.out, "Daemon not available. Exiting.")
			return nil
		}
		reconnect = true
	}
}

func NewLogsCommand() *cobra.Command {
	var lines int

	logsCmd := &cobra.Command{
		Use:     "logs",
		Aliases: []string{"log"},
		Short:   "Stream daemon logs in real-time",
		Long: `Stream daemon logs in real-time.

Press Ctrl+C to exit. By default, only shows INFO level and above.

Filter categories:
  relay      - Key commands received on the relay socket
  companion  - Companion process lifecycle
  permission - Input injection permission checks
  system     - Daemon start/stop and config reloads

Examples:
  mediakey logs                 # Stream INFO and above
  mediakey logs -d              # Include DEBUG logs
  mediakey logs -F companion    # Filter to companion events
  mediakey logs -F volume       # Filter by keyword
  mediakey logs -L 50           # Show 50 history lines on connect

Automatically reconnects if the daemon is restarted.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			follower := newLogFollower(cmd, lines)
			if err := follower.ping(); err != nil {
				slog.Error("Daemon is not running. Use 'mediakey run' to start it.")
				os.Exit(1)
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(stop)

			if err := follower.follow(stop); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
		},
	}

	logsCmd.Flags().BoolP("debug", "d", false, "Show DEBUG level logs")
	logsCmd.Flags().StringP("filter", "F", "", "Filter logs by category or keyword (relay, companion, permission, system)")
	logsCmd.Flags().Bool("no-color", false, "Disable colored output")
	logsCmd.Flags().IntVarP(&lines, "lines", "L", daemon.DefaultHistoryLines, "Number of history lines to show on connect")

	return logsCmd
}

// keepLogLine applies the debug and filter flags to one streamed line.
func keepLogLine(line string, debug bool, filter string) bool {
	if !debug && isDebugLog(line) {
		return false
	}
	return filter == "" || matchesFilter(line, filter)
}

// isDebugLog checks if a log line is a DEBUG level log
func isDebugLog(line string) bool {
	if strings.Contains(line, " DBG ") || strings.Contains(line, "\tDBG\t") {
		return true
	}
	// tint colours the level: \033[90mDBG\033[0m
	stripped := stripANSI(line)
	return strings.Contains(stripped, " DBG ") || strings.Contains(stripped, "\tDBG\t")
}

// matchesFilter checks if a log line matches the filter criteria
func matchesFilter(line, filter string) bool {
	filter = strings.ToLower(filter)
	lineLower := strings.ToLower(stripANSI(line))

	switch filter {
	case "relay":
		return strings.Contains(lineLower, "relay") ||
			strings.Contains(lineLower, "key command") ||
			strings.Contains(lineLower, "key event")
	case "companion":
		return strings.Contains(lineLower, "companion") ||
			strings.Contains(lineLower, "port")
	case "permission":
		return strings.Contains(lineLower, "permission") ||
			strings.Contains(lineLower, "trust") ||
			strings.Contains(lineLower, "settings")
	case "system":
		return strings.Contains(lineLower, "daemon") ||
			strings.Contains(lineLower, "configuration") ||
			strings.Contains(lineLower, "shutdown")
	default:
		return strings.Contains(lineLower, filter)
	}
}

// stripANSI removes ANSI escape codes from a string
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if s[i] == 'm' {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}
