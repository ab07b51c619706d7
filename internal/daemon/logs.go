package daemon

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// DefaultHistoryLines is how many buffered lines LOGS replays by default.
const DefaultHistoryLines = 20

// LogBroadcaster manages streaming logs to multiple clients
type LogBroadcaster struct {
	clients map[chan string]bool
	history []string // Ring buffer for recent messages
	maxHist int
	mu      sync.Mutex
}

// NewLogBroadcaster creates a new log broadcaster with the specified history size
func NewLogBroadcaster(historySize int) *LogBroadcaster {
	if historySize <= 0 {
		historySize = 1000
	}
	return &LogBroadcaster{
		clients: make(map[chan string]bool),
		history: make([]string, 0, historySize),
		maxHist: historySize,
	}
}

// Subscribe adds a new client and returns up to historyLines recent lines.
// The history is returned separately so a slow reader never blocks replay.
func (lb *LogBroadcaster) Subscribe(historyLines int) (chan string, []string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	ch := make(chan string, 100)
	lb.clients[ch] = true

	var history []string
	if historyLines > 0 && len(lb.history) > 0 {
		start := len(lb.history) - historyLines
		if start < 0 {
			start = 0
		}
		history = make([]string, len(lb.history)-start)
		copy(history, lb.history[start:])
	}
	return ch, history
}

// Unsubscribe removes a client from receiving broadcasts
func (lb *LogBroadcaster) Unsubscribe(ch chan string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if lb.clients[ch] {
		delete(lb.clients, ch)
		close(ch)
	}
}

// Broadcast records message in the history and hands it to every client.
// Clients with a full buffer miss the line.
func (lb *LogBroadcaster) Broadcast(message string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if len(lb.history) >= lb.maxHist {
		lb.history = lb.history[1:]
	}
	lb.history = append(lb.history, message)

	for ch := range lb.clients {
		select {
		case ch <- message:
		default:
		}
	}
}

// LogWriter is an io.Writer that broadcasts log messages
type LogWriter struct {
	broadcaster *LogBroadcaster
}

func (lw *LogWriter) Write(p []byte) (n int, err error) {
	lw.broadcaster.Broadcast(string(p))
	return len(p), nil
}

// LevelFor maps the configured verbosity to a slog level.
func LevelFor(verbose int) slog.Level {
	if verbose > 0 {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// NewLogHandler returns the tint handler used by both the daemon and the CLI.
// Colour is only enabled when f is a terminal.
func NewLogHandler(w io.Writer, f *os.File, level slog.Leveler) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    f == nil || !term.IsTerminal(int(f.Fd())),
	})
}

// setupLogging tees the daemon's log output into the broadcaster so LOGS
// clients see what stderr sees.
func (a *App) setupLogging() {
	logWriter := &LogWriter{broadcaster: a.logBroadcast}
	multiWriter := io.MultiWriter(os.Stderr, logWriter)
	slog.SetDefault(slog.New(NewLogHandler(multiWriter, os.Stderr, a.level)))
}

// handleLogs streams daemon logs to the client until they disconnect
func (a *App) handleLogs(conn net.Conn, showHistory bool, historyLines int) {
	defer conn.Close()

	if !showHistory {
		historyLines = 0
	}
	logChan, history := a.logBroadcast.Subscribe(historyLines)
	defer a.logBroadcast.Unsubscribe(logChan)

	initialMsg := "Connected to mediakey daemon logs. Press Ctrl+C to exit.\n"
	if _, err := conn.Write([]byte(initialMsg)); err != nil {
		slog.Debug(fmt.Sprintf("Failed to send initial message to logs client: %v", err))
		return
	}

	for _, msg := range history {
		if _, err := conn.Write([]byte(msg)); err != nil {
			return
		}
	}

	// The client never writes; EOF means it went away
	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, bufio.NewReader(conn))
		close(done)
	}()

	for {
		select {
		case logMsg, ok := <-logChan:
			if !ok {
				return
			}
			if _, err := conn.Write([]byte(logMsg)); err != nil {
				return
			}
		case <-done:
			return
		case <-a.ctx.Done():
			return
		}
	}
}
