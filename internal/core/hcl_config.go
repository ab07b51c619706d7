package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	DefaultCompanionPort = 8765
	DefaultRelaySocket   = "/tmp/mediakeycontrol.sock"
	DefaultBundleID      = "com.mediakeycontrol.app"
	DefaultCheckDelay    = time.Second
	DefaultResetGrace    = 1500 * time.Millisecond
	DefaultSettle        = 400 * time.Millisecond
)

// Config is the global configuration instance
var Config *Configuration

// Configuration represents the complete relay configuration
type Configuration struct {
	ConfigPath string // Directory containing config files
	Verbose    int    // Verbosity level
	Companion  CompanionConfig
	Relay      RelayConfig
	Permission PermissionConfig
	Journal    JournalConfig
}

// CompanionConfig describes the supervised web server
type CompanionConfig struct {
	Path    string        // Executable, launched without arguments
	Port    int           // TCP port freed before launch
	LogFile string        // stdout and stderr are appended here
	Settle  time.Duration // Wait after terminating port owners
}

// RelayConfig configures the command relay socket
type RelayConfig struct {
	SocketPath string
}

// PermissionConfig configures the trust grant coordinator
type PermissionConfig struct {
	BundleID   string        // Identity passed to the trust store on reset
	CheckDelay time.Duration // Delay between launch and the passive check
	ResetGrace time.Duration // Delay before opening settings after a reset
}

// JournalConfig toggles the sqlite event journal
type JournalConfig struct {
	Enabled bool
}

// HCL parsing structs

type hclConfig struct {
	Verbose    int            `hcl:"verbose,optional"`
	Companion  *hclCompanion  `hcl:"companion,block"`
	Relay      *hclRelay      `hcl:"relay,block"`
	Permission *hclPermission `hcl:"permission,block"`
	Journal    *hclJournal    `hcl:"journal,block"`
}

type hclCompanion struct {
	Path    string `hcl:"path,optional"`
	Port    int    `hcl:"port,optional"`
	LogFile string `hcl:"log_file,optional"`
	Settle  string `hcl:"settle,optional"`
}

type hclRelay struct {
	SocketPath string `hcl:"socket_path,optional"`
}

type hclPermission struct {
	BundleID   string `hcl:"bundle_id,optional"`
	CheckDelay string `hcl:"check_delay,optional"`
	ResetGrace string `hcl:"reset_grace,optional"`
}

type hclJournal struct {
	Enabled *bool `hcl:"enabled,optional"`
}

// LoadConfig loads the HCL configuration file and returns a Configuration
// with defaults filled in. Relative and ~ paths are resolved against the
// directory holding the file.
func LoadConfig(filename string) (*Configuration, error) {
	var hclCfg hclConfig

	err := hclsimple.DecodeFile(filename, nil, &hclCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HCL config: %w", err)
	}

	cfg := GetDefaultConfig(filepath.Dir(filename))
	cfg.Verbose = hclCfg.Verbose

	if c := hclCfg.Companion; c != nil {
		if c.Path != "" {
			cfg.Companion.Path = resolvePath(cfg.ConfigPath, c.Path)
		}
		if c.Port != 0 {
			if c.Port < 1 || c.Port > 65535 {
				return nil, fmt.Errorf("companion port %d out of range", c.Port)
			}
			cfg.Companion.Port = c.Port
		}
		if c.LogFile != "" {
			cfg.Companion.LogFile = resolvePath(cfg.ConfigPath, c.LogFile)
		}
		if err := parseDuration("companion.settle", c.Settle, &cfg.Companion.Settle); err != nil {
			return nil, err
		}
	}

	if r := hclCfg.Relay; r != nil && r.SocketPath != "" {
		cfg.Relay.SocketPath = resolvePath(cfg.ConfigPath, r.SocketPath)
	}

	if p := hclCfg.Permission; p != nil {
		if p.BundleID != "" {
			cfg.Permission.BundleID = p.BundleID
		}
		if err := parseDuration("permission.check_delay", p.CheckDelay, &cfg.Permission.CheckDelay); err != nil {
			return nil, err
		}
		if err := parseDuration("permission.reset_grace", p.ResetGrace, &cfg.Permission.ResetGrace); err != nil {
			return nil, err
		}
	}

	if j := hclCfg.Journal; j != nil && j.Enabled != nil {
		cfg.Journal.Enabled = *j.Enabled
	}

	return cfg, nil
}

func parseDuration(name, value string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d < 0 {
		return fmt.Errorf("invalid %s %q: must not be negative", name, value)
	}
	*dst = d
	return nil
}

func resolvePath(base, path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	if !filepath.IsAbs(path) {
		return filepath.Join(base, path)
	}
	return path
}

// GetDefaultConfig returns a Configuration with default values rooted at
// configPath
func GetDefaultConfig(configPath string) *Configuration {
	return &Configuration{
		ConfigPath: configPath,
		Companion: CompanionConfig{
			Path:    filepath.Join(configPath, "companion"),
			Port:    DefaultCompanionPort,
			LogFile: filepath.Join(configPath, "companion.log"),
			Settle:  DefaultSettle,
		},
		Relay: RelayConfig{
			SocketPath: DefaultRelaySocket,
		},
		Permission: PermissionConfig{
			BundleID:   DefaultBundleID,
			CheckDelay: DefaultCheckDelay,
			ResetGrace: DefaultResetGrace,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
	}
}

// ConfigExists checks if a config file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return err == nil
}
