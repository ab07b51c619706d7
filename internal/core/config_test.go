package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestGetPaths(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = GetDefaultConfig("/tmp/test-mediakey")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"socket", GetSocketPath(), "/tmp/test-mediakey/daemon.sock"},
		{"pid", GetPIDFilePath(), "/tmp/test-mediakey/daemon.pid"},
		{"database", GetDatabasePath(), "/tmp/test-mediakey/mediakey.db"},
		{"config", GetConfigFilePath(), "/tmp/test-mediakey/config.hcl"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s path = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestWriteDefaultHCLConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)

	if err := writeDefaultHCLConfig(path); err != nil {
		t.Fatalf("writeDefaultHCLConfig() error: %v", err)
	}

	// The generated config should be parseable and match the defaults
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to parse default config: %v", err)
	}
	want := GetDefaultConfig(filepath.Dir(path))
	if cfg.Companion != want.Companion {
		t.Errorf("Companion = %+v, want %+v", cfg.Companion, want.Companion)
	}
	if cfg.Permission != want.Permission {
		t.Errorf("Permission = %+v, want %+v", cfg.Permission, want.Permission)
	}
	if cfg.Relay != want.Relay {
		t.Errorf("Relay = %+v, want %+v", cfg.Relay, want.Relay)
	}
}

func newTestCommand(configPath string, args ...string) *cobra.Command {
	var verbose int
	root := &cobra.Command{Use: "mediakey"}
	root.PersistentFlags().String("config-path", configPath, "config path")
	root.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output")
	child := &cobra.Command{Use: "child", Run: func(*cobra.Command, []string) {}}
	root.AddCommand(child)
	root.SetArgs(append([]string{"child"}, args...))
	return root
}

func TestInitializeConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	t.Run("writes defaults on first run", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested")
		root := newTestCommand(dir)
		var messages []string
		root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
			var err error
			messages, err = InitializeConfig(cmd)
			return err
		}
		if err := root.Execute(); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if Config.ConfigPath != dir {
			t.Errorf("ConfigPath = %q, want %q", Config.ConfigPath, dir)
		}
		if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err != nil {
			t.Errorf("default config not written: %v", err)
		}
		if len(messages) != 1 || !strings.Contains(messages[0], "Wrote default configuration") {
			t.Errorf("messages = %v", messages)
		}
	})

	t.Run("flag overrides file verbosity", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("verbose = 0\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		root := newTestCommand(dir, "-vv")
		root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
			_, err := InitializeConfig(cmd)
			return err
		}
		if err := root.Execute(); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if Config.Verbose != 2 {
			t.Errorf("Verbose = %d, want 2", Config.Verbose)
		}
	})

	t.Run("broken file is an error", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("verbose = \n"), 0o644); err != nil {
			t.Fatal(err)
		}
		root := newTestCommand(dir)
		root.SilenceErrors = true
		root.SilenceUsage = true
		root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
			_, err := InitializeConfig(cmd)
			return err
		}
		if err := root.Execute(); err == nil {
			t.Error("expected Execute to fail")
		}
	})
}
