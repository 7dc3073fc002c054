package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"bindery/internal/announcer"
	"bindery/internal/config"
	"bindery/internal/deps"
	"bindery/internal/jobs"
	"bindery/internal/logging"
	"bindery/internal/preflight"
	"bindery/internal/store"
	"bindery/internal/taskrunner"
)

// Estimates answers conversion time questions.
type Estimates interface {
	Estimate(runtimeMinutes int) int
	AverageRate() (float64, int)
}

// RunnerStats reports task runner state.
type RunnerStats interface {
	Stats() taskrunner.Stats
}

// Options wires a Daemon. Settings, Store, and Jobs are required.
type Options struct {
	Settings  jobs.SettingsSource
	Store     *store.Store
	Jobs      *jobs.Manager
	Runner    RunnerStats
	Estimator Estimates
	Announcer *announcer.Announcer
	LogHub    *logging.StreamHub
	LogPath   string
	Logger    *slog.Logger
}

// Daemon owns the process lock and the outer surfaces.
type Daemon struct {
	settings  jobs.SettingsSource
	store     *store.Store
	jobs      *jobs.Manager
	runner    RunnerStats
	estimator Estimates
	announcer *announcer.Announcer
	logHub    *logging.StreamHub
	logPath   string
	logger    *slog.Logger

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running   atomic.Bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	StartedAt    time.Time        `json:"started_at"`
	ActiveJobID  *int64           `json:"active_job_id"`
	Runner       taskrunner.Stats `json:"runner"`
	Books        map[string]int   `json:"books"`
	Listeners    int              `json:"event_listeners"`
	DatabasePath string           `json:"database_path"`
	LockPath     string           `json:"lock_path"`
	LogPath      string           `json:"log_path"`
	APIAddress   string           `json:"api_address,omitempty"`
	Dependencies []deps.Status    `json:"dependencies"`
}

// New constructs a daemon with initialized dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Settings == nil || opts.Store == nil || opts.Jobs == nil {
		return nil, errors.New("daemon requires settings, store, and job manager")
	}
	cfg := opts.Settings.Current()
	if cfg == nil {
		return nil, errors.New("daemon requires a configuration")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	announce := opts.Announcer
	if announce == nil {
		announce = announcer.New(logger)
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		settings:  opts.Settings,
		store:     opts.Store,
		jobs:      opts.Jobs,
		runner:    opts.Runner,
		estimator: opts.Estimator,
		announcer: announce,
		logHub:    opts.LogHub,
		logPath:   opts.LogPath,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
		shutdown:  make(chan struct{}),
	}, nil
}

// Start acquires the daemon lock and starts the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another bindery daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	api, err := newAPIServer(d.config(), d, d.logger)
	if err == nil {
		err = api.start(d.ctx)
	}
	if err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx, d.cancel = nil, nil
		return fmt.Errorf("start api: %w", err)
	}
	d.api = api

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("bindery daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Stop stops the HTTP API and releases the daemon lock. Jobs keep their
// state; the caller closes the job manager and runner.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.api = nil
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if the next start fails"),
			logging.String(logging.FieldImpact, "next daemon start may be refused"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("bindery daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// RequestShutdown asks the process hosting the daemon to exit.
func (d *Daemon) RequestShutdown() {
	d.shutdownOnce.Do(func() {
		d.logger.Info("shutdown requested", logging.String(logging.FieldEventType, "shutdown_requested"))
		close(d.shutdown)
	})
}

// ShutdownRequested is closed by RequestShutdown.
func (d *Daemon) ShutdownRequested() <-chan struct{} { return d.shutdown }

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string { return d.logPath }

// LogStream returns the in-memory log hub, if any.
func (d *Daemon) LogStream() *logging.StreamHub { return d.logHub }

// APIAddress returns the bound HTTP address once started.
func (d *Daemon) APIAddress() string {
	if d.api == nil {
		return ""
	}
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	cfg := d.config()
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		Listeners:    d.announcer.Listeners(),
		DatabasePath: d.store.Path(),
		LockPath:     d.lockPath,
		LogPath:      d.logPath,
		APIAddress:   d.APIAddress(),
		Dependencies: preflight.CheckSystemDeps(ctx, cfg),
	}
	if id, ok := d.jobs.ActiveJob(); ok {
		status.ActiveJobID = &id
	}
	if d.runner != nil {
		status.Runner = d.runner.Stats()
	}
	if books, err := d.Stats(ctx); err == nil {
		status.Books = books
	} else {
		d.logger.Warn("book stats unavailable", logging.Error(err))
	}
	return status
}

func (d *Daemon) config() *config.Config {
	return d.settings.Current()
}
