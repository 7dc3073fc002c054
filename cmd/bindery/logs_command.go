package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bindery/internal/ipc"
	"bindery/internal/logging"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow bool
		limit  int
		jobID  int64
		asin   string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				req := ipc.LogTailRequest{Limit: limit, JobID: jobID, ASIN: asin, Follow: follow}
				if follow {
					req.WaitMillis = 5000
				}
				for {
					resp, err := tailOnce(cmd.Context(), client, req)
					if err != nil {
						if cmd.Context().Err() != nil {
							return nil
						}
						return err
					}
					if handled, err := writeStructured(cmd, ctx.output(), resp.Events); handled {
						if err != nil {
							return err
						}
					} else {
						for _, evt := range resp.Events {
							fmt.Fprintln(cmd.OutOrStdout(), formatLogEvent(evt))
						}
					}
					if !follow || cmd.Context().Err() != nil {
						return nil
					}
					req.Since = resp.Next
				}
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new events")
	cmd.Flags().IntVarP(&limit, "limit", "n", 200, "Maximum events per read")
	cmd.Flags().Int64Var(&jobID, "job", 0, "Only show events for this job id")
	cmd.Flags().StringVar(&asin, "asin", "", "Only show events for this ASIN")
	return cmd
}

// tailOnce bounds a follow read slightly past the server-side wait.
func tailOnce(ctx context.Context, client *ipc.Client, req ipc.LogTailRequest) (*ipc.LogTailResponse, error) {
	timeout := ipc.DefaultTimeout
	if req.Follow {
		timeout += time.Duration(req.WaitMillis) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.LogTail(callCtx, req)
}

func formatLogEvent(evt logging.LogEvent) string {
	var b strings.Builder
	b.WriteString(evt.Timestamp.Local().Format("2006-01-02 15:04:05"))
	b.WriteString(" ")
	fmt.Fprintf(&b, "%-5s", strings.ToUpper(evt.Level))
	if evt.Component != "" {
		b.WriteString(" [" + evt.Component + "]")
	}
	b.WriteString(" " + evt.Message)
	writeLogFields(&b, evt)
	return b.String()
}

func writeLogFields(w io.StringWriter, evt logging.LogEvent) {
	if evt.JobID != 0 {
		_, _ = w.WriteString(fmt.Sprintf(" job=%d", evt.JobID))
	}
	if evt.ASIN != "" {
		_, _ = w.WriteString(" asin=" + evt.ASIN)
	}
	keys := make([]string, 0, len(evt.Fields))
	for key := range evt.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		_, _ = w.WriteString(" " + key + "=" + evt.Fields[key])
	}
}
