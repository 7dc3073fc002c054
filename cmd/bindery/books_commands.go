package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"bindery/internal/ipc"
	"bindery/internal/textutil"
)

func newBooksCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List books in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ListBooks(cmd.Context(), statuses)
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, ctx.output(), resp); handled {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Books) == 0 {
					fmt.Fprintln(out, "No books")
					return nil
				}
				rows := make([][]string, 0, len(resp.Books))
				for _, book := range resp.Books {
					rows = append(rows, []string{
						book.ASIN,
						book.Title,
						book.Author,
						formatRuntime(book.RuntimeMin),
						textutil.Label(string(book.Status)),
					})
				}
				fmt.Fprint(out, renderTable(
					[]column{leftCol("ASIN"), leftCol("Title").trimTo(titleWidth), leftCol("Author"), rightCol("Runtime"), leftCol("Status")},
					rows,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (NEW, MISSING, DOWNLOADED, ERROR)")
	return cmd
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show book counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, ctx.output(), resp.Books); handled {
					return err
				}
				out := cmd.OutOrStdout()
				rows := bookCountRows(resp.Books)
				if len(rows) == 0 {
					fmt.Fprintln(out, "Library is empty")
					return nil
				}
				fmt.Fprint(out, renderCountTable(rows))
				return nil
			})
		},
	}
}

func newEstimateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <runtime-minutes>",
		Short: "Estimate how long a book takes to convert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("runtime must be a whole number of minutes: %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Estimate(cmd.Context(), minutes)
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, ctx.output(), resp); handled {
					return err
				}
				est := resp.EstimateResult
				source := "default rate"
				if est.Samples > 0 {
					source = fmt.Sprintf("%d samples", est.Samples)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Estimated conversion time for %s: %s (%.2f s/min, %s)\n",
					formatRuntime(est.RuntimeMinutes),
					time.Duration(est.EstimatedSeconds)*time.Second,
					est.AverageRate,
					source,
				)
				return nil
			})
		},
	}
}

func formatRuntime(minutes int) string {
	if minutes <= 0 {
		return "-"
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh%02dm", minutes/60, minutes%60)
}
