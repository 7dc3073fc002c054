// Command binderyd runs the bindery daemon in the foreground. It is the
// entry point for service managers; `bindery daemon` does the same thing
// from the CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bindery/internal/config"
	"bindery/internal/daemonrun"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "binderyd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	opts, configPath, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if exists {
		opts.ConfigPath = resolved
	}
	return daemonrun.Run(ctx, cfg, opts)
}

func parseFlags(args []string) (daemonrun.Options, string, error) {
	fs := flag.NewFlagSet("binderyd", flag.ContinueOnError)
	configPath := fs.String("config", "", "Configuration file path")
	logLevel := fs.String("log-level", "", "Override logging.level (debug, info, warn, error)")
	dev := fs.Bool("dev", false, "Human-readable console logs with source locations")
	if err := fs.Parse(args); err != nil {
		return daemonrun.Options{}, "", err
	}
	if fs.NArg() > 0 {
		return daemonrun.Options{}, "", fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return daemonrun.Options{LogLevel: *logLevel, Development: *dev}, *configPath, nil
}
