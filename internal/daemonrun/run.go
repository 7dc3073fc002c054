package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"bindery/internal/announcer"
	"bindery/internal/config"
	"bindery/internal/convert"
	"bindery/internal/daemon"
	"bindery/internal/estimator"
	"bindery/internal/ipc"
	"bindery/internal/jobs"
	"bindery/internal/library"
	"bindery/internal/logging"
	"bindery/internal/preflight"
	"bindery/internal/store"
	"bindery/internal/taskrunner"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// ConfigPath enables hot reload when the file exists.
	ConfigPath  string
	LogLevel    string
	Development bool
}

// Run starts the bindery daemon and blocks until a signal arrives or a
// client asks it to stop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("bindery-%s.log", runID))
	logHub := logging.NewStreamHub(4096)
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		Stream:           logHub,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update bindery.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, "bindery-*.log", logPath)

	for _, failed := range preflight.Failed(preflight.RunAll(signalCtx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldErrorHint, "run `bindery status` for the full dependency report"),
			logging.String(logging.FieldImpact, "jobs that need this resource will fail"),
		)
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}
	defer st.Close()

	holder := config.NewHolder(cfg)
	if opts.ConfigPath != "" {
		startWatcher(signalCtx, opts.ConfigPath, holder, logger)
	}

	rates, ratesCloser := estimator.Open(signalCtx, cfg, logger)
	defer ratesCloser.Close()

	runner := taskrunner.New(logger, taskrunner.WithStopTimeout(cfg.StopTimeout()))
	if err := runner.Start(signalCtx, cfg.Jobs.TotalProcessingCores); err != nil {
		return fmt.Errorf("start task runner: %w", err)
	}
	defer runner.Stop()

	tools, err := convert.NewFromConfig(cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("build converter: %w", err)
	}
	syncer := library.NewSyncer(cfg, st, tools.Audible(), tools.FFmpeg(), library.WithLogger(logger))
	events := announcer.New(logger)

	manager, err := jobs.New(jobs.Options{
		Store:     st,
		Runner:    runner,
		Tools:     tools,
		Syncer:    syncer,
		Estimator: rates,
		Publisher: events,
		Settings:  holder,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create job manager: %w", err)
	}
	defer manager.Close()

	d, err := daemon.New(daemon.Options{
		Settings:  holder,
		Store:     st,
		Jobs:      manager,
		Runner:    runner,
		Estimator: rates,
		Announcer: events,
		LogHub:    logHub,
		LogPath:   logPath,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return err
	}
	defer d.Stop()

	// Scratch and stale jobs belong to a dead process once the lock is held.
	if err := resetTempDir(cfg.Paths.TempDir); err != nil {
		return fmt.Errorf("clear temp dir: %w", err)
	}
	if _, err := manager.CleanupStale(signalCtx); err != nil {
		logging.WarnWithContext(logger, "stale job cleanup failed", "stale_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "new jobs may be refused until the old job is finished"),
		)
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	select {
	case <-signalCtx.Done():
	case <-d.ShutdownRequested():
	}
	logger.Info("bindery daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func startWatcher(ctx context.Context, path string, holder *config.Holder, logger *slog.Logger) {
	if _, err := os.Stat(path); err != nil {
		logger.Debug("config file absent, hot reload disabled", logging.String("path", path))
		return
	}
	watcher, err := config.NewWatcher(path, holder, logger)
	if err != nil {
		logging.WarnWithContext(logger, "config watcher unavailable", "config_watch_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "config edits apply after restart"),
		)
		return
	}
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(logger, "config watcher stopped", "config_watch_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "config edits apply after restart"),
			)
		}
	}()
}

// resetTempDir drops scratch left by a previous run.
func resetTempDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "bindery.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
