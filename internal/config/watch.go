package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"bindery/internal/logging"
)

const defaultReloadDebounce = 150 * time.Millisecond

// Watcher reloads the config file when it changes on disk and publishes the
// result into a Holder. Path settings are pinned to the values the daemon
// started with; everything else applies to the next job.
type Watcher struct {
	path     string
	holder   *Holder
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher prepares a watcher for path. Run starts it.
func NewWatcher(path string, holder *Holder, logger *slog.Logger) (*Watcher, error) {
	if path == "" || holder == nil {
		return nil, fmt.Errorf("config watcher requires a path and holder")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	return &Watcher{
		path:     path,
		holder:   holder,
		logger:   logging.NewComponentLogger(logger, "config-watcher"),
		watcher:  fw,
		debounce: defaultReloadDebounce,
	}, nil
}

// Run blocks until ctx is cancelled. The parent directory is watched because
// editors commonly replace the file instead of writing it in place.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	name := filepath.Base(w.path)
	if err := w.watcher.Add(dir); err != nil {
		_ = w.watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching config file", logging.String("path", w.path))
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		_ = w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "config watcher error", "config_watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "config changes may not be picked up until restart"),
			)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, _, exists, err := Load(w.path)
	if err != nil {
		logging.WarnWithContext(w.logger, "config reload rejected", "config_reload_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the config file; the previous settings stay active"),
			logging.String(logging.FieldImpact, "running with previous configuration"),
		)
		return
	}
	if !exists {
		return
	}
	previous := w.holder.Current()
	if previous != nil && previous.Paths != cfg.Paths {
		logging.WarnWithContext(w.logger, "path changes require a daemon restart", "config_paths_pinned",
			logging.String(logging.FieldImpact, "paths section ignored until restart"),
		)
		cfg.Paths = previous.Paths
	}
	w.holder.Replace(cfg)
	w.logger.Info("config reloaded",
		logging.String(logging.FieldEventType, "config_reloaded"),
		logging.Int("max_parallel_downloads", cfg.Jobs.MaxParallelDownloads),
		logging.Bool("auto_process_enabled", cfg.Tasks.IsAutoProcessEnabled),
	)
}
