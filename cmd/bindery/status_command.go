package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bindery/internal/deps"
	"bindery/internal/ipc"
	"bindery/internal/store"
	"bindery/internal/taskrunner"
	"bindery/internal/textutil"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, and library status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, ctx.output(), resp); handled {
					return err
				}
				renderStatus(cmd.OutOrStdout(), resp, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
}

func renderStatus(out io.Writer, resp *ipc.StatusResponse, colorize bool) {
	printLines(out, renderSectionHeader("Daemon", colorize)...)
	if resp.Running {
		since := "unknown"
		if !resp.StartedAt.IsZero() {
			since = resp.StartedAt.Local().Format(time.DateTime)
		}
		printLines(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d, since %s)", resp.PID, since), colorize))
	} else {
		printLines(out, renderStatusLine("Daemon", statusWarn, "Not running", colorize))
	}
	active := "None"
	if resp.ActiveJobID != nil {
		active = "#" + strconv.FormatInt(*resp.ActiveJobID, 10)
	}
	printLines(out,
		renderStatusLine("Active Job", statusInfo, active, colorize),
		renderStatusLine("API", statusInfo, valueOr(resp.APIAddress, "Disabled"), colorize),
		renderStatusLine("Event Listeners", statusInfo, strconv.Itoa(resp.Listeners), colorize),
		renderStatusLine("Database", statusInfo, resp.DatabasePath, colorize),
	)
	if resp.LogPath != "" {
		printLines(out, renderStatusLine("Log", statusInfo, resp.LogPath, colorize))
	}
	fmt.Fprintln(out)

	printLines(out, renderSectionHeader("Dependencies", colorize)...)
	printLines(out, dependencyLines(resp.Dependencies, colorize)...)
	fmt.Fprintln(out)

	printLines(out, renderSectionHeader("Task Runner", colorize)...)
	printLines(out, runnerLines(resp.Runner, colorize)...)
	fmt.Fprintln(out)

	printLines(out, renderSectionHeader("Library", colorize)...)
	rows := bookCountRows(resp.Books)
	if len(rows) == 0 {
		fmt.Fprintln(out, "Library is empty")
		return
	}
	fmt.Fprint(out, renderCountTable(rows))
}

func dependencyLines(statuses []deps.Status, colorize bool) []string {
	lines := make([]string, 0, len(statuses))
	for _, dep := range statuses {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, valueOr(dep.Detail, "Unavailable"), colorize))
	}
	return lines
}

func runnerLines(stats taskrunner.Stats, colorize bool) []string {
	if !stats.Running {
		return []string{renderStatusLine("Pool", statusWarn, "Stopped", colorize)}
	}
	queued := strconv.Itoa(stats.Queued)
	if len(stats.QueuedByKind) > 0 {
		parts := make([]string, 0, len(stats.QueuedByKind))
		for _, kind := range taskrunner.Kinds {
			if n := stats.QueuedByKind[kind.String()]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s %d", strings.ToLower(kind.String()), n))
			}
		}
		if len(parts) > 0 {
			queued += " (" + strings.Join(parts, ", ") + ")"
		}
	}
	return []string{
		renderStatusLine("Pool", statusOK, fmt.Sprintf("%d/%d busy", stats.InFlight, stats.PoolSize), colorize),
		renderStatusLine("Queued Tasks", statusInfo, queued, colorize),
		renderStatusLine("Completed", statusInfo, strconv.FormatInt(stats.Completed, 10), colorize),
		renderStatusLine("Failed", statusInfo, strconv.FormatInt(stats.Failed, 10), colorize),
	}
}

func bookCountRows(counts map[string]int) [][]string {
	if len(counts) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(store.AllBookStatuses))
	total := 0
	for _, status := range store.AllBookStatuses {
		n := counts[string(status)]
		total += n
		rows = append(rows, []string{textutil.Label(string(status)), strconv.Itoa(n)})
	}
	if total == 0 {
		return nil
	}
	return rows
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
