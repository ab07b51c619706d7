package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.olrik.dev/mediakey/internal/core"
	"go.olrik.dev/mediakey/internal/keys"
	"go.olrik.dev/mediakey/internal/relay"
)

func NewSendCommand() *cobra.Command {
	var socketPath string

	sendCmd := &cobra.Command{
		Use:   "send <key>...",
		Short: "Send key commands to the relay socket",
		Long: `Send key commands to the relay socket, the same way the companion does.

Keys are given by name or code, see 'mediakey keys'.

Examples:
  mediakey send play-pause
  mediakey send 0 0 0       # volume up three times`,
		Args: cobra.MinimumNArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			var names []string
			for _, c := range keys.All() {
				names = append(names, c.String())
			}
			return names, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			commands := make([]keys.Command, 0, len(args))
			for _, arg := range args {
				c, err := keys.Lookup(arg)
				if err != nil {
					return err
				}
				commands = append(commands, c)
			}

			path := socketPath
			if path == "" {
				path = core.Config.Relay.SocketPath
			}
			for _, c := range commands {
				if err := relay.Send(context.Background(), path, c); err != nil {
					return fmt.Errorf("%s: %w", c, err)
				}
				slog.Debug("Sent key command", "key", c.String(), "code", int(c), "socket", path)
			}
			return nil
		},
	}
	sendCmd.Flags().StringVarP(&socketPath, "socket", "s", "", "Relay socket (default from config)")

	return sendCmd
}
