package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStripANSI(t *testing.T) {
	tests := map[string]string{
		"plain":                           "plain",
		"\033[90mDBG\033[0m message":      "DBG message",
		"\033[1;32mok\033[0m and \033[2m": "ok and ",
		"":                                "",
	}
	for in, want := range tests {
		if got := stripANSI(in); got != want {
			t.Errorf("stripANSI(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKeepLogLine(t *testing.T) {
	const (
		debugLine     = "2026-03-01 12:00:00 \033[90mDBG\033[0m Relayed key command key=mute\n"
		relayLine     = "2026-03-01 12:00:00 INF Relay listening path=/tmp/mediakeycontrol.sock\n"
		companionLine = "2026-03-01 12:00:00 WRN Companion exited code=1\n"
		permLine      = "2026-03-01 12:00:00 INF Input injection permission: granted\n"
		stopLine      = "2026-03-01 12:00:00 INF Daemon stopped\n"
	)

	tests := []struct {
		name   string
		line   string
		debug  bool
		filter string
		want   bool
	}{
		{"debug hidden", debugLine, false, "", false},
		{"debug shown", debugLine, true, "", true},
		{"info passes", relayLine, false, "", true},
		{"relay category", relayLine, false, "relay", true},
		{"relay category excludes companion", companionLine, false, "relay", false},
		{"companion category", companionLine, false, "companion", true},
		{"permission category", permLine, false, "permission", true},
		{"system category", stopLine, false, "system", true},
		{"keyword", companionLine, false, "EXITED", true},
		{"keyword miss", permLine, false, "volume", false},
		{"debug relay line", debugLine, true, "relay", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keepLogLine(tt.line, tt.debug, tt.filter); got != tt.want {
				t.Errorf("keepLogLine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogFollowerRequest(t *testing.T) {
	f := &logFollower{lines: 50}
	if got := f.request(false); got != "LOGS 50\n" {
		t.Errorf("request(false) = %q", got)
	}
	if got := f.request(true); got != "LOGS 50 no_history\n" {
		t.Errorf("request(true) = %q", got)
	}
}

func TestLogFollowerCopyLines(t *testing.T) {
	input := "INF Relay listening\n12:00:00 \033[90mDBG\033[0m Relayed key command\nWRN \033[1mCompanion exited\033[0m"
	var out bytes.Buffer
	f := &logFollower{noColor: true, out: &out}
	f.copyLines(strings.NewReader(input))

	want := "INF Relay listening\nWRN Companion exited"
	if out.String() != want {
		t.Errorf("copied %q, want %q", out.String(), want)
	}
}

func TestLogFollowerWaitForDaemon(t *testing.T) {
	calls := 0
	f := &logFollower{
		interval: time.Millisecond,
		attempts: 5,
		ping: func() error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			return nil
		},
	}
	if !f.waitForDaemon() {
		t.Fatal("waitForDaemon() = false, want true once ping succeeds")
	}
	if calls != 3 {
		t.Errorf("ping called %d times, want 3", calls)
	}

	f.ping = func() error { return errors.New("gone") }
	calls = 0
	if f.waitForDaemon() {
		t.Error("waitForDaemon() = true with the daemon gone")
	}
}

func TestLogFollowerFollowUntilDaemonGone(t *testing.T) {
	dir, err := os.MkdirTemp("", "logs")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "d.sock")

	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	requests := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		requests <- line
		conn.Write([]byte("INF Daemon started\n"))
	}()

	var out bytes.Buffer
	f := &logFollower{
		socketPath: path,
		lines:      5,
		out:        &out,
		ping:       func() error { return errors.New("gone") },
		interval:   time.Millisecond,
		attempts:   2,
	}
	if err := f.follow(make(chan os.Signal)); err != nil {
		t.Fatalf("follow() error = %v", err)
	}

	if got := <-requests; got != "LOGS 5\n" {
		t.Errorf("request = %q, want first connection with history", got)
	}
	want := "INF Daemon started\nConnection lost. Reconnecting...\nDaemon not available. Exiting.\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestLogFollowerFollowFailsWithoutDaemon(t *testing.T) {
	f := &logFollower{socketPath: filepath.Join(t.TempDir(), "missing.sock"), out: &bytes.Buffer{}}
	if err := f.follow(make(chan os.Signal)); err == nil {
		t.Error("follow() should fail when the socket does not exist")
	}
}
