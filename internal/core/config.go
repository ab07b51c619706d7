package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const (
	BaseDirName    = ".config/mediakey"
	ConfigFileName = "config.hcl"
	PidFileName    = "daemon.pid"
	SocketName     = "daemon.sock"
	DatabaseName   = "mediakey.db"
)

func GetConfigFilePath() string {
	return filepath.Join(Config.ConfigPath, ConfigFileName)
}

func GetSocketPath() string {
	return filepath.Join(Config.ConfigPath, SocketName)
}

func GetPIDFilePath() string {
	return filepath.Join(Config.ConfigPath, PidFileName)
}

func GetDatabasePath() string {
	return filepath.Join(Config.ConfigPath, DatabaseName)
}

const defaultHCLConfig = `# mediakey configuration

# 0 = info, 1 = debug
verbose = 0

companion {
  # Web server launched without arguments; relative paths are resolved
  # against this directory
  path     = "companion"
  port     = %d
  log_file = "companion.log"
  settle   = "%s"
}

relay {
  socket_path = "%s"
}

permission {
  bundle_id   = "%s"
  check_delay = "%s"
  reset_grace = "%s"
}

journal {
  enabled = true
}
`

func writeDefaultHCLConfig(path string) error {
	content := fmt.Sprintf(defaultHCLConfig,
		DefaultCompanionPort,
		DefaultSettle,
		DefaultRelaySocket,
		DefaultBundleID,
		DefaultCheckDelay,
		DefaultResetGrace,
	)
	return os.WriteFile(path, []byte(content), 0o644)
}

// InitializeConfig loads <config-path>/config.hcl into Config. A missing file
// yields defaults. The returned messages are meant for the user.
func InitializeConfig(cmd *cobra.Command) ([]string, error) {
	configPath, err := cmd.Flags().GetString("config-path")
	if err != nil {
		return nil, fmt.Errorf("unable to determine config path: %w", err)
	}
	verbose, _ := cmd.Flags().GetCount("verbose")

	if err := os.MkdirAll(configPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config path: %w", err)
	}

	var messages []string
	configFile := filepath.Join(configPath, ConfigFileName)
	cfg := GetDefaultConfig(configPath)
	if ConfigExists(configFile) {
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
		cfg.ConfigPath = configPath
	} else if err := writeDefaultHCLConfig(configFile); err != nil {
		messages = append(messages, fmt.Sprintf("Could not write default configuration: %v", err))
	} else {
		messages = append(messages, fmt.Sprintf("Wrote default configuration to %s", configFile))
	}

	// The command line wins over the file
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = verbose
	}

	Config = cfg
	return messages, nil
}
