package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.olrik.dev/mediakey/internal/core"
	"go.olrik.dev/mediakey/internal/inject"
	"go.olrik.dev/mediakey/internal/keys"
	"go.olrik.dev/mediakey/internal/relay"
	"go.olrik.dev/mediakey/internal/supervisor"
	"go.olrik.dev/mediakey/internal/trust"
)

func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { slog.SetDefault(old) })
}

// shortTempDir keeps socket paths under the platform length limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "mk-")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

type testStore struct {
	mu           sync.Mutex
	trusted      bool
	promptGrants bool
	resetGrants  bool
	prompts      int
	resets       []string
}

func (s *testStore) IsTrusted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trusted
}

func (s *testStore) Prompt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts++
	if s.promptGrants {
		s.trusted = true
	}
	return s.trusted
}

func (s *testStore) Reset(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, identity)
	if s.resetGrants {
		s.trusted = true
	}
	return nil
}

func (s *testStore) OpenSettings(context.Context) error { return nil }

type emptyProbe struct{}

func (emptyProbe) ListeningPIDs(context.Context, int) ([]int32, error) { return nil, nil }

type testEnv struct {
	app      *App
	cfg      *core.Configuration
	recorder *inject.Recorder
	store    *testStore
	dir      string
}

func fakeHosts() hostResolver {
	return hostResolver{
		localHostName: func(context.Context) (string, error) { return "studio", nil },
		dialUDP: func(context.Context, string) (net.Addr, error) {
			return &net.UDPAddr{IP: net.ParseIP("192.168.1.20"), Port: 50000}, nil
		},
	}
}

// newTestApp builds an App with in-memory capabilities. mutate may adjust
// the configuration and options before construction.
func newTestApp(t *testing.T, mutate func(*core.Configuration, *Options)) *testEnv {
	t.Helper()
	quietLogger(t)

	dir := shortTempDir(t)
	cfg := core.GetDefaultConfig(dir)
	cfg.Companion.Path = filepath.Join(dir, "missing-companion")
	cfg.Relay.SocketPath = filepath.Join(dir, "relay.sock")
	cfg.Permission.CheckDelay = 10 * time.Millisecond
	cfg.Permission.ResetGrace = time.Hour

	env := &testEnv{
		cfg:      cfg,
		recorder: inject.NewRecorder(),
		store:    &testStore{},
		dir:      dir,
	}
	opts := Options{
		Injector:     env.recorder,
		Store:        env.store,
		Probe:        emptyProbe{},
		Launcher:     supervisor.ExecLauncher{},
		SocketPath:   filepath.Join(dir, "d.sock"),
		PIDFilePath:  filepath.Join(dir, "d.pid"),
		DatabasePath: filepath.Join(dir, "journal.db"),
	}
	if mutate != nil {
		mutate(cfg, &opts)
	}

	a, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.hosts = fakeHosts()
	env.app = a
	return env
}

// start runs the App with its UI loop on a background goroutine and waits
// for the relay to come up.
func (e *testEnv) start(t *testing.T) {
	t.Helper()
	if err := e.app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go e.app.loop.Run()
	t.Cleanup(func() {
		e.app.Shutdown()
		<-e.app.Done()
	})

	select {
	case <-e.app.startupDone:
	case <-time.After(5 * time.Second):
		t.Fatal("startup did not finish")
	}
}

func (e *testEnv) send(t *testing.T, command string) Response {
	t.Helper()
	resp, err := SendCommandTo(e.app.socketPath, command)
	if err != nil {
		t.Fatalf("SendCommandTo(%q): %v", command, err)
	}
	return resp
}

func (e *testEnv) status(t *testing.T) AppStatus {
	t.Helper()
	resp := e.send(t, "STATUS")
	var st AppStatus
	if err := resp.DecodeData(&st); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	return st
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartReportsStatus(t *testing.T) {
	env := newTestApp(t, nil)
	env.start(t)

	st := env.status(t)
	if st.Companion.State != supervisor.StateNotFound {
		t.Errorf("companion state = %q, want %q", st.Companion.State, supervisor.StateNotFound)
	}
	if !st.Relay.Listening {
		t.Error("relay should be listening after startup")
	}
	if st.Relay.Path != env.cfg.Relay.SocketPath {
		t.Errorf("relay path = %q, want %q", st.Relay.Path, env.cfg.Relay.SocketPath)
	}
	if st.Host.BookmarkURL != "http://studio.local:8765" {
		t.Errorf("bookmark url = %q", st.Host.BookmarkURL)
	}
	if st.Host.IPURL != "http://192.168.1.20:8765" {
		t.Errorf("ip url = %q", st.Host.IPURL)
	}
	if !st.Journal {
		t.Error("journal should be open")
	}
	if st.Pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", st.Pid, os.Getpid())
	}
	if _, err := os.Stat(env.app.pidFilePath); err != nil {
		t.Errorf("pid file missing: %v", err)
	}
}

func TestStatusWarnsAboutMissingCompanion(t *testing.T) {
	env := newTestApp(t, nil)
	env.start(t)

	resp := env.send(t, "STATUS")
	found := false
	for _, m := range resp.Messages {
		if m.Status == StatusWarn && m.Message == "Companion not found at "+env.cfg.Companion.Path {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a missing companion warning, got %+v", resp.Messages)
	}
}

func TestRelayedCommandIsInjectedAndJournaled(t *testing.T) {
	env := newTestApp(t, nil)
	env.start(t)

	if err := relay.Send(context.Background(), env.cfg.Relay.SocketPath, keys.PlayPause); err != nil {
		t.Fatalf("relay.Send: %v", err)
	}

	events := env.recorder.WaitFor(2, 2*time.Second)
	if len(events) != 2 {
		t.Fatalf("got %d injected events, want 2", len(events))
	}
	if events[0].Code != keys.PlayPause || !events[0].Down() {
		t.Errorf("first event = %v, want play-pause down", events[0].Event)
	}
	if events[1].Code != keys.PlayPause || events[1].Down() {
		t.Errorf("second event = %v, want play-pause up", events[1].Event)
	}

	eventually(t, "key event in journal", func() bool {
		var res EventsResult
		resp := env.send(t, "EVENTS 50")
		if err := resp.DecodeData(&res); err != nil {
			return false
		}
		for _, c := range res.KeyCounts {
			if c.Command == int(keys.PlayPause) && c.Count == 1 {
				return true
			}
		}
		return false
	})

	if st := env.status(t); st.KeysDispatched != 1 || st.Relay.Handled != 1 {
		t.Errorf("keys dispatched = %d, handled = %d, want 1 and 1", st.KeysDispatched, st.Relay.Handled)
	}
}

func TestPassiveCheckRunsAfterDelay(t *testing.T) {
	env := newTestApp(t, nil)
	env.store.trusted = true
	env.start(t)

	eventually(t, "permission granted", func() bool {
		return env.status(t).Permission == trust.StateGranted
	})

	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	if len(env.store.resets) != 0 {
		t.Errorf("passive check must never reset, got %v", env.store.resets)
	}
}

func TestPermissionCheckCommand(t *testing.T) {
	env := newTestApp(t, nil)
	env.start(t)

	resp := env.send(t, "PERMISSION_CHECK")
	var res PermissionResult
	if err := resp.DecodeData(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.State != "not granted" {
		t.Errorf("state = %q, want %q", res.State, "not granted")
	}
	if res.Identity != core.DefaultBundleID {
		t.Errorf("identity = %q, want %q", res.Identity, core.DefaultBundleID)
	}
	if len(resp.Messages) == 0 || resp.Messages[0].Status != StatusWarn {
		t.Errorf("expected a warning, got %+v", resp.Messages)
	}

	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	if env.store.prompts == 0 {
		t.Error("check should prompt when not trusted")
	}
}

func TestPermissionResetCommand(t *testing.T) {
	env := newTestApp(t, nil)
	env.store.resetGrants = true
	env.start(t)

	resp := env.send(t, "PERMISSION_RESET")
	if resp.Failed() {
		t.Fatalf("reset failed: %+v", resp.Messages)
	}
	var res PermissionResult
	if err := resp.DecodeData(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.State != "granted" {
		t.Errorf("state = %q, want granted", res.State)
	}

	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	if len(env.store.resets) != 1 || env.store.resets[0] != core.DefaultBundleID {
		t.Errorf("resets = %v, want [%s]", env.store.resets, core.DefaultBundleID)
	}
}

func TestEventsIncludeLifecycle(t *testing.T) {
	env := newTestApp(t, nil)
	env.start(t)

	resp := env.send(t, "EVENTS")
	var res EventsResult
	if err := resp.DecodeData(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var sawStart, sawNotFound bool
	for _, e := range res.Events {
		if e.Source == "daemon" && e.EventType == "start" {
			sawStart = true
		}
		if e.Source == "companion" && e.EventType == "companion_not_found" {
			sawNotFound = true
		}
	}
	if !sawStart || !sawNotFound {
		t.Errorf("events = %+v, want daemon start and companion_not_found", res.Events)
	}
}

func TestEventsWithJournalDisabled(t *testing.T) {
	env := newTestApp(t, func(cfg *core.Configuration, _ *Options) {
		cfg.Journal.Enabled = false
	})
	env.start(t)

	resp := env.send(t, "EVENTS")
	if len(resp.Messages) != 1 || resp.Messages[0].Status != StatusWarn {
		t.Errorf("messages = %+v, want a single warning", resp.Messages)
	}
	if _, err := os.Stat(env.app.databasePath); !os.IsNotExist(err) {
		t.Error("database should not be created when the journal is disabled")
	}
}

func TestEventsRaceWithJournalClose(t *testing.T) {
	env := newTestApp(t, nil)
	env.app.openJournal()
	env.app.journalDaemon("start", "")

	var wg sync.WaitGroup
	replies := make(chan Response, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 8; j++ {
				replies <- env.app.getEvents(DefaultEventLimit)
			}
		}()
	}
	env.app.closeJournal()
	wg.Wait()
	close(replies)

	for resp := range replies {
		if resp.Failed() {
			t.Fatalf("EVENTS during journal close failed: %+v", resp.Messages)
		}
	}
	if resp := env.app.getEvents(DefaultEventLimit); len(resp.Messages) != 1 || resp.Messages[0].Status != StatusWarn {
		t.Errorf("messages after close = %+v, want a single warning", resp.Messages)
	}
}

func TestUnknownCommand(t *testing.T) {
	env := newTestApp(t, nil)
	env.start(t)

	resp := env.send(t, "FROBNICATE")
	if !resp.Failed() {
		t.Errorf("expected an error, got %+v", resp.Messages)
	}
}

func TestVersionCommand(t *testing.T) {
	env := newTestApp(t, nil)
	env.start(t)

	resp := env.send(t, "VERSION")
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %T, want a map", resp.Data)
	}
	if data["version"] != core.Version {
		t.Errorf("version = %v, want %q", data["version"], core.Version)
	}
	if int(data["pid"].(float64)) != os.Getpid() {
		t.Errorf("pid = %v", data["pid"])
	}
}

func TestSecondDaemonIsRefused(t *testing.T) {
	env := newTestApp(t, nil)
	env.start(t)

	second := newTestApp(t, func(_ *core.Configuration, opts *Options) {
		opts.SocketPath = env.app.socketPath
	})
	if err := second.app.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestStaleControlSocketIsReplaced(t *testing.T) {
	env := newTestApp(t, nil)

	// Leave a socket file behind with nobody listening
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: env.app.socketPath, Net: "unix"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln.SetUnlinkOnClose(false)
	ln.Close()

	env.start(t)
	if resp := env.send(t, "STATUS"); len(resp.Messages) == 0 {
		t.Error("expected a status response from the new daemon")
	}
}

func TestStopCommandShutsDown(t *testing.T) {
	env := newTestApp(t, nil)
	env.start(t)

	resp := env.send(t, "STOP")
	if len(resp.Messages) != 1 || resp.Messages[0].Message != "Stopping daemon..." {
		t.Errorf("messages = %+v", resp.Messages)
	}

	select {
	case <-env.app.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	if _, err := os.Stat(env.app.pidFilePath); !os.IsNotExist(err) {
		t.Error("pid file should be removed")
	}
	if _, err := os.Stat(env.cfg.Relay.SocketPath); !os.IsNotExist(err) {
		t.Error("relay socket should be removed")
	}
	if _, err := SendCommandTo(env.app.socketPath, "STATUS"); err == nil {
		t.Error("control socket should be closed")
	}
}

func TestShutdownStopsRunningCompanion(t *testing.T) {
	env := newTestApp(t, func(cfg *core.Configuration, _ *Options) {
		script := filepath.Join(filepath.Dir(cfg.Companion.Path), "companion.sh")
		if err := os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755); err != nil {
			t.Fatal(err)
		}
		cfg.Companion.Path = script
	})
	env.start(t)

	st := env.status(t)
	if st.Companion.State != supervisor.StateRunning {
		t.Fatalf("companion state = %q, want running (%s)", st.Companion.State, st.Companion.Error)
	}

	env.app.Shutdown()
	<-env.app.Done()

	if got := env.app.supervisor.Status().State; got != supervisor.StateStopped {
		t.Errorf("companion state after shutdown = %q, want stopped", got)
	}
}

func TestRelayBindFailureIsReported(t *testing.T) {
	env := newTestApp(t, func(cfg *core.Configuration, _ *Options) {
		cfg.Relay.SocketPath = filepath.Join(filepath.Dir(cfg.Relay.SocketPath), "no-such-dir", "relay.sock")
	})
	env.start(t)

	resp := env.send(t, "STATUS")
	if !resp.Failed() {
		t.Errorf("expected an error message, got %+v", resp.Messages)
	}
	var st AppStatus
	if err := resp.DecodeData(&st); err != nil {
		t.Fatal(err)
	}
	if st.Relay.Listening || st.Relay.Error == "" {
		t.Errorf("relay = %+v, want disabled with an error", st.Relay)
	}
	// The control surface keeps working
	if resp := env.send(t, "VERSION"); resp.Failed() {
		t.Error("VERSION should still work")
	}
}

func TestLogsReplayHistory(t *testing.T) {
	env := newTestApp(t, nil)
	env.start(t)

	env.app.logBroadcast.Broadcast("first line\n")
	env.app.logBroadcast.Broadcast("second line\n")

	conn, err := net.Dial("unix", env.app.socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("LOGS 1\n")); err != nil {
		t.Fatal(err)
	}

	want := "Connected to mediakey daemon logs. Press Ctrl+C to exit.\nsecond line\n"
	buf := make([]byte, len(want))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != want {
		t.Errorf("got %q, want %q", buf, want)
	}

	// Live lines follow the history
	env.app.logBroadcast.Broadcast("live line\n")
	live := make([]byte, len("live line\n"))
	if _, err := io.ReadFull(conn, live); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if string(live) != "live line\n" {
		t.Errorf("live = %q", live)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	env := newTestApp(t, nil)
	env.start(t)

	env.app.Shutdown()
	env.app.Shutdown()
	<-env.app.Done()
}
