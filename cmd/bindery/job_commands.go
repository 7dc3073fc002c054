package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bindery/internal/ipc"
	"bindery/internal/store"
	"bindery/internal/textutil"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Start, cancel, and inspect jobs",
	}
	jobCmd.AddCommand(newJobStartCommand(ctx))
	jobCmd.AddCommand(newJobCancelCommand(ctx))
	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))
	return jobCmd
}

func newJobStartCommand(ctx *commandContext) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "start <download|sync> [asin...]",
		Short: "Start a DOWNLOAD or SYNC job",
		Long: "Start a job. A DOWNLOAD without ASINs picks books using the tasks.auto_process_* settings.\n" +
			"A SYNC refreshes the catalog from Audible; --mode selects FAST or DEEP.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.StartJobRequest{
				JobType:  args[0],
				ASINs:    args[1:],
				SyncMode: mode,
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StartJob(cmd.Context(), req)
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, ctx.output(), resp); handled {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.JobID != nil {
					fmt.Fprintf(out, "%s (job #%d)\n", resp.Message, *resp.JobID)
					return nil
				}
				fmt.Fprintln(out, resp.Message)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Sync mode for SYNC jobs (FAST or DEEP)")
	return cmd
}

func newJobCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CancelJob(cmd.Context())
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, ctx.output(), resp); handled {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	}
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ListJobs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, ctx.output(), resp); handled {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]column{rightCol("ID"), leftCol("Type"), leftCol("Status"), leftCol("Started"), leftCol("Finished")},
					jobRows(resp.Jobs),
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job and its books",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobDetail(cmd.Context(), id)
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, ctx.output(), resp); handled {
					return err
				}
				out := cmd.OutOrStdout()
				job := resp.Job
				fmt.Fprintf(out, "Job #%d  %s  %s\n", job.ID, job.Kind, textutil.Label(string(job.Status)))
				fmt.Fprintf(out, "Started:  %s\n", formatTime(job.StartTime))
				fmt.Fprintf(out, "Finished: %s\n", formatOptionalTime(job.EndTime))
				if len(resp.Items) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(resp.Items))
				for _, item := range resp.Items {
					rows = append(rows, []string{item.ASIN, item.Title, item.Author, textutil.Label(string(item.Status)), item.Log})
				}
				fmt.Fprintln(out)
				fmt.Fprint(out, renderTable([]column{
					leftCol("ASIN"),
					leftCol("Title").trimTo(titleWidth),
					leftCol("Author"),
					leftCol("Status"),
					leftCol("Log").trimTo(logWidth),
				}, rows))
				return nil
			})
		},
	}
}

func jobRows(list []*store.Job) [][]string {
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			string(job.Kind),
			textutil.Label(string(job.Status)),
			formatTime(job.StartTime),
			formatOptionalTime(job.EndTime),
		})
	}
	return rows
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}
