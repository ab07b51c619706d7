package daemon

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.olrik.dev/mediakey/internal/core"
)

func saveGlobalConfig(t *testing.T) {
	t.Helper()
	old := core.Config
	t.Cleanup(func() { core.Config = old })
}

func TestApplyConfigRuntimeSettings(t *testing.T) {
	env := newTestApp(t, nil)
	a := env.app

	next := *env.cfg
	next.Verbose = 2
	next.Permission.CheckDelay = 3 * time.Second
	next.Permission.ResetGrace = 2 * time.Second

	if restart := a.applyConfig(&next); len(restart) != 0 {
		t.Errorf("restart = %v, want none", restart)
	}
	if a.level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", a.level.Level())
	}
	if a.cfg.Permission.CheckDelay != 3*time.Second {
		t.Errorf("check delay = %v, want 3s", a.cfg.Permission.CheckDelay)
	}
}

func TestApplyConfigRestartSettings(t *testing.T) {
	env := newTestApp(t, nil)
	a := env.app
	port := env.cfg.Companion.Port

	next := *env.cfg
	next.Companion.Port = 9000
	next.Relay.SocketPath = "/tmp/elsewhere.sock"
	next.Permission.BundleID = "org.example.other"
	next.Journal.Enabled = false

	want := []string{"companion", "relay.socket_path", "permission.bundle_id", "journal"}
	got := a.applyConfig(&next)
	if len(got) != len(want) {
		t.Fatalf("restart = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("restart[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	// Restart-only settings are not adopted
	if a.cfg.Companion.Port != port || a.cfg.Relay.SocketPath == next.Relay.SocketPath {
		t.Error("restart-only settings changed at runtime")
	}
}

func TestReloadConfig(t *testing.T) {
	saveGlobalConfig(t)
	env := newTestApp(t, nil)

	content := `verbose = 1

permission {
  check_delay = "250ms"
}
`
	if err := os.WriteFile(filepath.Join(env.dir, core.ConfigFileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := env.app.reloadConfig(); err != nil {
		t.Fatalf("reloadConfig: %v", err)
	}
	if env.app.level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", env.app.level.Level())
	}
	if env.app.cfg.Permission.CheckDelay != 250*time.Millisecond {
		t.Errorf("check delay = %v, want 250ms", env.app.cfg.Permission.CheckDelay)
	}
	if core.Config == nil || core.Config.ConfigPath != env.dir {
		t.Errorf("global config not replaced: %+v", core.Config)
	}
}

func TestReloadConfigKeepsPreviousOnError(t *testing.T) {
	saveGlobalConfig(t)
	env := newTestApp(t, nil)
	core.Config = env.cfg

	if err := os.WriteFile(filepath.Join(env.dir, core.ConfigFileName), []byte("verbose = \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := env.app.reloadConfig(); err == nil {
		t.Fatal("expected a parse error")
	}
	if core.Config != env.cfg {
		t.Error("global config replaced by a broken file")
	}
	if env.app.level.Level() != slog.LevelInfo {
		t.Errorf("level = %v, want info", env.app.level.Level())
	}
}
