package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"bindery/internal/daemonrun"
	"bindery/internal/ipc"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the bindery daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts := daemonrun.Options{LogLevel: logLevel, Development: development}
			if ctx.configExists {
				opts.ConfigPath = ctx.configPath
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the running daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			err := ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stop(cmd.Context())
				if err != nil {
					return err
				}
				if resp.Stopping {
					fmt.Fprintln(out, "Shutdown requested")
				}
				return nil
			})
			if errors.Is(err, errDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			return err
		},
	}
}
