package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.olrik.dev/mediakey/internal/core"
	"go.olrik.dev/mediakey/internal/daemon"
	"go.olrik.dev/mediakey/internal/db"
)

func NewEventsCommand() *cobra.Command {
	var limit int

	eventsCmd := &cobra.Command{
		Use:     "events",
		Aliases: []string{"journal", "history"},
		Short:   "Show recent journal events and key usage",
		Long: `Show recent journal events and how often each key was pressed.

Asks the running daemon; when it is not running the journal file is read
directly.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			result, err := loadEvents(limit)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text":
				fmt.Print(formatEvents(result, newPrinter(os.Stdout)))
			case "json":
				jsonBytes, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(jsonBytes))
			default:
				slog.Error("unknown format")
				os.Exit(1)
			}
		},
	}
	eventsCmd.Flags().IntVarP(&limit, "limit", "n", daemon.DefaultEventLimit, "Number of events to show")
	eventsCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")

	return eventsCmd
}

func loadEvents(limit int) (daemon.EventsResult, error) {
	var result daemon.EventsResult

	response, err := daemon.SendCommand(fmt.Sprintf("EVENTS %d", limit))
	if err == nil {
		if response.Failed() || response.Data == nil {
			return result, fmt.Errorf("%s", firstMessage(response))
		}
		err = response.DecodeData(&result)
		return result, err
	}

	// Daemon is down, read the journal directly
	path := core.GetDatabasePath()
	if _, statErr := os.Stat(path); statErr != nil {
		return result, fmt.Errorf("daemon is not running and no journal exists at %s", path)
	}
	database, err := db.Open(path)
	if err != nil {
		return result, fmt.Errorf("failed to open journal: %w", err)
	}
	defer database.Close()

	if result.Events, err = database.RecentEvents(limit); err != nil {
		return result, fmt.Errorf("failed to read events: %w", err)
	}
	if result.KeyCounts, err = database.KeyCounts(); err != nil {
		return result, fmt.Errorf("failed to read key counts: %w", err)
	}
	return result, nil
}

func firstMessage(response daemon.Response) string {
	if len(response.Messages) == 0 {
		return "empty response from daemon"
	}
	return response.Messages[0].Message
}

var sourceColors = map[string]string{
	db.SourceDaemon:     colorCyan,
	db.SourceCompanion:  colorYellow,
	db.SourcePermission: colorGreen,
	db.SourceKey:        colorGray,
}

// formatEvents prints events oldest first, followed by the key usage table.
func formatEvents(result daemon.EventsResult, p printer) string {
	var b strings.Builder

	if len(result.Events) == 0 {
		b.WriteString(p.paint(colorGray, "No events recorded") + "\n")
	}
	for i := len(result.Events) - 1; i >= 0; i-- {
		ev := result.Events[i]
		fmt.Fprintf(&b, "%s  %s  %-20s %s\n",
			p.paint(colorGray, ev.Timestamp.Local().Format("2006-01-02 15:04:05")),
			p.paint(sourceColors[ev.Source], fmt.Sprintf("%-10s", ev.Source)),
			ev.EventType,
			ev.Details,
		)
	}

	if len(result.KeyCounts) > 0 {
		b.WriteString("\n" + p.paint(colorBold, "Key usage") + "\n")
		for _, kc := range result.KeyCounts {
			fmt.Fprintf(&b, "  %-26s %6d\n", kc.Name, kc.Count)
		}
	}
	return b.String()
}
