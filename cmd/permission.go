package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.olrik.dev/mediakey/internal/daemon"
)

func NewPermissionCommand() *cobra.Command {
	permissionCmd := &cobra.Command{
		Use:     "permission",
		Aliases: []string{"perm", "trust"},
		Short:   "Check or re-request the input injection permission",
		Long: `Check or re-request the input injection permission.

Without a subcommand the current state is checked, prompting once if the
permission has not been granted.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			sendPermissionCommand("PERMISSION_CHECK")
		},
	}

	permissionCmd.AddCommand(
		&cobra.Command{
			Use:   "check",
			Short: "Check the permission, prompting once if it is missing",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				sendPermissionCommand("PERMISSION_CHECK")
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Forget the recorded decision and prompt again",
			Long: `Forget the recorded decision and prompt again.

Use this after replacing the binary, when the system still lists the old
build as trusted. If the permission is still missing shortly after the
prompt, the system settings are opened.`,
			Args: cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				sendPermissionCommand("PERMISSION_RESET")
			},
		},
	)

	return permissionCmd
}

func sendPermissionCommand(command string) {
	response, err := daemon.SendCommand(command)
	if err != nil {
		slog.Error("Could not connect to daemon. Is mediakey running?")
		os.Exit(1)
	}
	response.LogMessages()
	if response.Failed() {
		os.Exit(1)
	}
}
