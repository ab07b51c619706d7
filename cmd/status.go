package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/mediakey/internal/core"
	"go.olrik.dev/mediakey/internal/daemon"
	"go.olrik.dev/mediakey/internal/supervisor"
	"go.olrik.dev/mediakey/internal/trust"
)

func NewStatusCommand() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"st"},
		Short:   "Show the companion, relay and permission state",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("STATUS")
			if err != nil {
				slog.Warn("Daemon is not running. Use 'mediakey run' to start it.")
				return
			}

			var st daemon.AppStatus
			if err := response.DecodeData(&st); err != nil {
				slog.Error(fmt.Sprintf("Unexpected status from daemon: %v", err))
				os.Exit(1)
			}

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text":
				logProblems(response)
				fmt.Print(formatStatus(st, time.Now(), newPrinter(os.Stdout)))
			case "json":
				jsonBytes, _ := json.MarshalIndent(st, "", "  ")
				fmt.Println(string(jsonBytes))
			default:
				slog.Error("unknown format")
				os.Exit(1)
			}
		},
	}
	statusCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")

	return statusCmd
}

// formatStatus renders the STATUS payload as an aligned table.
func formatStatus(st daemon.AppStatus, now time.Time, p printer) string {
	var b strings.Builder
	row := func(label, value string) {
		if label != "" {
			label += ":"
		}
		fmt.Fprintf(&b, "%-12s %s\n", label, value)
	}

	daemonLine := fmt.Sprintf("running (PID %d, version %s", st.Pid, core.FormatVersion(st.Version))
	if started, err := time.Parse(time.RFC3339, st.StartTime); err == nil {
		daemonLine += ", up " + formatDuration(now.Sub(started))
	}
	row("Daemon", p.paint(colorGreen, daemonLine+")"))

	c := st.Companion
	switch c.State {
	case supervisor.StateRunning:
		row("Companion", p.paint(colorGreen, fmt.Sprintf("running (PID %d, port %d)", c.Pid, c.Port)))
	case supervisor.StateExited:
		detail := "exited"
		if c.ExitCode != nil {
			detail = fmt.Sprintf("exited with code %d", *c.ExitCode)
		}
		row("Companion", p.paint(colorYellow, detail))
	case supervisor.StateNotFound:
		row("Companion", p.paint(colorYellow, "not found"))
	case supervisor.StateFailed:
		row("Companion", p.paint(colorRed, "failed: "+c.Error))
	default:
		row("Companion", string(c.State))
	}
	if c.Path != "" {
		row("", p.paint(colorGray, c.Path))
	}
	if len(c.Preempted) > 0 {
		pids := make([]string, len(c.Preempted))
		for i, pid := range c.Preempted {
			pids[i] = fmt.Sprint(pid)
		}
		row("", p.paint(colorGray, fmt.Sprintf("terminated PID %s on port %d", strings.Join(pids, ", "), c.Port)))
	}

	r := st.Relay
	switch {
	case r.Error != "":
		row("Relay", p.paint(colorRed, "disabled: "+r.Error))
	case r.Listening:
		row("Relay", p.paint(colorGreen, fmt.Sprintf("listening on %s (%d handled, %d dropped)", r.Path, r.Handled, r.Dropped)))
	default:
		row("Relay", "not listening")
	}

	permColor := colorYellow
	if st.Permission == trust.StateGranted {
		permColor = colorGreen
	}
	perm := st.Permission.String()
	if st.Identity != "" {
		perm += " (" + st.Identity + ")"
	}
	row("Permission", p.paint(permColor, perm))

	row("Keys", fmt.Sprintf("%d dispatched", st.KeysDispatched))
	if st.Host.BookmarkURL != "" {
		row("Bookmark", p.paint(colorCyan, st.Host.BookmarkURL))
		row("IP address", p.paint(colorCyan, st.Host.IPURL))
	}
	if !st.Journal {
		row("Journal", p.paint(colorGray, "disabled"))
	}
	return b.String()
}

// logProblems logs the warnings and errors of a response; the plain "OK"
// is left out.
func logProblems(response daemon.Response) {
	for _, msg := range response.Messages {
		switch msg.Status {
		case daemon.StatusWarn:
			slog.Warn(msg.Message)
		case daemon.StatusError:
			slog.Error(msg.Message)
		}
	}
}
