package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/mediakey/internal/daemon"
)

// stopTimeout is how long stop waits for the daemon to go away.
const stopTimeout = 5 * time.Second

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the mediakey daemon",
		Long: `Stop the mediakey daemon.

The relay socket is closed and the companion web server is terminated.`,
		Aliases: []string{"shutdown", "quit"},
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			checkVersionMismatch()

			response, err := daemon.SendCommand("STOP")
			if err != nil {
				slog.Warn("Daemon is not running")
				return
			}
			response.LogMessages()

			if daemon.WaitForExit(stopTimeout) {
				slog.Debug("Daemon shutdown confirmed")
				return
			}
			slog.Warn("Daemon did not shut down within timeout, but stop command was sent")
		},
	}
}
