package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"go.olrik.dev/mediakey/internal/daemon"
	"go.olrik.dev/mediakey/internal/db"
)

func TestFormatEvents(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	result := daemon.EventsResult{
		// Newest first, as the journal returns them
		Events: []db.Event{
			{Source: db.SourceKey, EventType: "dispatch", Details: "play-pause", Timestamp: t0.Add(2 * time.Second)},
			{Source: db.SourceCompanion, EventType: "companion_start", Details: "PID: 4300", Timestamp: t0.Add(time.Second)},
			{Source: db.SourceDaemon, EventType: "start", Details: "daemon started", Timestamp: t0},
		},
		KeyCounts: []db.KeyCount{
			{Command: 16, Name: "play-pause", Count: 7},
			{Command: 0, Name: "volume-up", Count: 3},
		},
	}

	got := formatEvents(result, printer{})
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")

	wantPrefixes := []string{
		"2026-03-01 12:00:00  daemon      start",
		"2026-03-01 12:00:01  companion   companion_start",
		"2026-03-01 12:00:02  key         dispatch",
		"",
		"Key usage",
		"  play-pause",
		"  volume-up",
	}
	if len(lines) != len(wantPrefixes) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(wantPrefixes), got)
	}
	for i, want := range wantPrefixes {
		if !strings.HasPrefix(lines[i], want) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], want)
		}
	}
	if !strings.HasSuffix(lines[5], " 7") || !strings.HasSuffix(lines[6], " 3") {
		t.Errorf("key counts not rendered:\n%s", got)
	}
}

func TestFormatEventsEmpty(t *testing.T) {
	got := formatEvents(daemon.EventsResult{}, printer{})
	if got != "No events recorded\n" {
		t.Errorf("formatEvents() = %q", got)
	}
}

func TestPrintKeys(t *testing.T) {
	var buf bytes.Buffer
	printKeys(&buf)

	out := buf.String()
	for _, want := range []string{" CODE  NAME\n", "    0  volume-up\n", "   16  play-pause\n", "  160  mission-control\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
