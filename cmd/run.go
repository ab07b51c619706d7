package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.olrik.dev/mediakey/internal/core"
	"go.olrik.dev/mediakey/internal/daemon"
	"go.olrik.dev/mediakey/internal/inject"
)

func NewRunCommand() *cobra.Command {
	var dryRun bool

	runCmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"start", "daemon"},
		Short:   "Run the relay in the foreground",
		Long: `Run the relay in the foreground.

Frees the companion port, launches the companion web server, checks the
input injection permission and starts listening for key commands on the
relay socket. Runs until 'mediakey stop', SIGTERM or Ctrl+C.

With --dry-run, key commands are accepted and logged at debug level (-v)
but never injected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := daemon.Options{}
			if dryRun {
				opts.Injector = inject.NewRecorder()
				slog.Info("Dry run, key events will not be injected")
			}

			app, err := daemon.New(core.Config, opts)
			if err != nil {
				return err
			}
			if err := app.Run(); err != nil {
				if errors.Is(err, daemon.ErrAlreadyRunning) {
					slog.Info("Daemon is already running")
					return nil
				}
				return fmt.Errorf("failed to start daemon: %w", err)
			}
			return nil
		},
	}
	runCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Accept key commands without injecting them")

	return runCmd
}
