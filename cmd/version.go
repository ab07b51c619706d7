package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.olrik.dev/mediakey/internal/core"
	"go.olrik.dev/mediakey/internal/daemon"
)

type daemonVersion struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Pid       int    `json:"pid"`
}

func NewVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Long:  `Show version of both client and daemon (if running)`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "Client version: %s\n", core.GetBuildInfo())

			dv, err := fetchDaemonVersion()
			if err != nil {
				fmt.Fprintln(os.Stderr, "Daemon: not running")
				return
			}
			fmt.Fprintf(os.Stderr, "Daemon version: %s (PID %d)\n", core.FormatVersion(dv.Version), dv.Pid)
			checkVersionMismatch()
		},
	}

	return versionCmd
}

func fetchDaemonVersion() (daemonVersion, error) {
	var dv daemonVersion
	response, err := daemon.SendCommand("VERSION")
	if err != nil {
		return dv, err
	}
	err = response.DecodeData(&dv)
	return dv, err
}

// checkVersionMismatch warns when the daemon runs a different build than
// this client.
func checkVersionMismatch() {
	dv, err := fetchDaemonVersion()
	if err != nil || dv.Version == "" || dv.Version == core.Version {
		return
	}
	slog.Warn(fmt.Sprintf(
		"Version mismatch! Client %s and daemon %s versions differ. Consider restarting the daemon.",
		core.FormatVersion(core.Version), core.FormatVersion(dv.Version),
	))
}
