package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.olrik.dev/mediakey/internal/core"
	"go.olrik.dev/mediakey/internal/daemon"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "mediakey",
		Short: "mediakey - Media key relay",
		Long: `mediakey - Media key relay

Receives key commands from a companion web server over a local socket and
replays them as system media key presses.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize config and bind global flags to the config
			messages, err := core.InitializeConfig(cmd)
			for _, message := range messages {
				fmt.Println(message)
			}
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(daemon.NewLogHandler(os.Stderr, os.Stderr, daemon.LevelFor(core.Config.Verbose))))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewRunCommand(),
		NewStatusCommand(),
		NewPermissionCommand(),
		NewSendCommand(),
		NewKeysCommand(),
		NewEventsCommand(),
		NewLogsCommand(),
		NewStopCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
