package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"bindery/internal/announcer"
	"bindery/internal/config"
	"bindery/internal/convert"
	"bindery/internal/library"
	"bindery/internal/logging"
	"bindery/internal/pipeline"
	"bindery/internal/services"
	"bindery/internal/store"
)

// SettingsSource supplies the configuration read at job start.
// *config.Holder implements it.
type SettingsSource interface {
	Current() *config.Config
}

// Syncer runs a library sync.
type Syncer interface {
	Sync(ctx context.Context, mode library.Mode, progress library.ProgressFunc) (library.Summary, error)
}

// Publisher receives lifecycle and progress events.
type Publisher interface {
	Announce(name string, data any)
	Update(asin, statusText string, progress int)
}

// Params is persisted as the job's parameters column.
type Params struct {
	ASINs    []string `json:"asins,omitempty"`
	SyncMode string   `json:"sync_mode,omitempty"`
}

// StartResult reports the outcome of StartNewJob. JobID is nil when a
// DOWNLOAD resolved to no books.
type StartResult struct {
	Success bool   `json:"success"`
	JobID   *int64 `json:"job_id"`
	Message string `json:"message"`
}

// Messages returned to callers.
const (
	MsgNoBooks     = "No books to process."
	MsgJobStarted  = "Job started."
	MsgCancelSent  = "Cancel signal sent."
	MsgNoActiveJob = "No active job to cancel."
)

// Options wires a Manager.
type Options struct {
	Store     *store.Store
	Runner    pipeline.Submitter
	Tools     convert.Tools
	Syncer    Syncer
	Estimator pipeline.SampleRecorder
	Publisher Publisher
	Settings  SettingsSource
	Logger    *slog.Logger
}

type activeJob struct {
	id     int64
	kind   store.JobKind
	cancel context.CancelFunc
}

// Manager starts, tracks, and cancels jobs.
type Manager struct {
	store     *store.Store
	runner    pipeline.Submitter
	tools     convert.Tools
	syncer    Syncer
	estimator pipeline.SampleRecorder
	publisher Publisher
	settings  SettingsSource
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active *activeJob
	done   map[int64]chan struct{}
	closed bool
}

// New constructs a manager. Close must be called to stop chained work.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("jobs: store is required")
	}
	if opts.Settings == nil {
		return nil, errors.New("jobs: settings source is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     opts.Store,
		runner:    opts.Runner,
		tools:     opts.Tools,
		syncer:    opts.Syncer,
		estimator: opts.Estimator,
		publisher: publisher,
		settings:  opts.Settings,
		logger:    logging.NewComponentLogger(logger, "job-manager"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(map[int64]chan struct{}),
	}, nil
}

// StartNewJob creates a job and starts its worker. For DOWNLOAD jobs with no
// ASINs the books are chosen from the auto-processing rules.
func (m *Manager) StartNewJob(ctx context.Context, kind store.JobKind, asins []string, params Params) (StartResult, error) {
	if _, ok := store.ParseJobKind(string(kind)); !ok {
		return StartResult{}, services.Detailed(services.ErrConfiguration, "invalid job type %q", kind)
	}
	cfg := m.settings.Current()
	if cfg == nil {
		return StartResult{}, services.Detailed(services.ErrConfiguration, "configuration unavailable")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return StartResult{}, services.Detailed(services.ErrConflict, "job manager is shutting down")
	}
	if m.active != nil {
		return StartResult{}, services.Detailed(services.ErrConflict, "a job (ID: %d) is already in progress", m.active.id)
	}
	persisted, err := m.store.ActiveJobs(ctx)
	if err != nil {
		return StartResult{}, err
	}
	if len(persisted) > 0 {
		return StartResult{}, services.Detailed(services.ErrConflict, "a job (ID: %d) is already in progress", persisted[0].ID)
	}

	switch kind {
	case store.JobKindSync:
		asins = nil
		if params.SyncMode == "" {
			params.SyncMode = cfg.Sync.DefaultMode
		}
		mode, ok := library.ParseMode(params.SyncMode)
		if !ok {
			return StartResult{}, services.Detailed(services.ErrValidation, "invalid sync mode %q", params.SyncMode)
		}
		params.SyncMode = string(mode)
	case store.JobKindDownload:
		asins = uniqueASINs(asins)
		if len(asins) == 0 {
			asins, err = m.resolveAuto(ctx, cfg)
			if err != nil {
				return StartResult{}, err
			}
			if len(asins) == 0 {
				m.logger.Info("no books matched the auto-processing rules")
				return StartResult{Success: true, Message: MsgNoBooks}, nil
			}
		}
		params.ASINs = asins
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		return StartResult{}, fmt.Errorf("encode job parameters: %w", err)
	}
	job, err := m.store.CreateJob(ctx, kind, string(encoded), asins)
	if err != nil {
		return StartResult{}, err
	}

	jobCtx, cancel := context.WithCancel(services.WithJobID(m.ctx, job.ID))
	m.active = &activeJob{id: job.ID, kind: kind, cancel: cancel}
	done := make(chan struct{})
	m.done[job.ID] = done

	m.publisher.Announce(announcer.EventJobStarted, m.summary(ctx, job, true))
	logging.WithContext(jobCtx, m.logger).Info("job started",
		logging.String(logging.FieldEventType, "job_started"),
		logging.String("job_type", string(kind)),
		logging.Int("books", len(asins)),
	)

	m.wg.Add(1)
	go m.runJob(jobCtx, cancel, job, cfg, params, done)

	id := job.ID
	return StartResult{Success: true, JobID: &id, Message: MsgJobStarted}, nil
}

func (m *Manager) resolveAuto(ctx context.Context, cfg *config.Config) ([]string, error) {
	books, err := m.store.BooksForAutoJob(ctx, store.AutoSelection{
		New:     cfg.Tasks.AutoProcessNew,
		Missing: cfg.Tasks.AutoProcessMissing,
		Error:   cfg.Tasks.AutoProcessError,
	})
	if err != nil {
		return nil, err
	}
	asins := make([]string, 0, len(books))
	for _, book := range books {
		asins = append(asins, book.ASIN)
	}
	return asins, nil
}

// uniqueASINs drops repeats, keeping first-seen order. Each ASIN maps to
// one job item, so a repeat would run a second processor for it.
func uniqueASINs(asins []string) []string {
	if len(asins) < 2 {
		return asins
	}
	seen := make(map[string]struct{}, len(asins))
	out := make([]string, 0, len(asins))
	for _, asin := range asins {
		if _, dup := seen[asin]; dup {
			continue
		}
		seen[asin] = struct{}{}
		out = append(out, asin)
	}
	return out
}

// CancelActiveJob signals the active job to stop starting new books.
func (m *Manager) CancelActiveJob() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", services.Detailed(services.ErrNotFound, MsgNoActiveJob)
	}
	m.active.cancel()
	m.logger.Info("cancel requested", logging.Int64(logging.FieldJobID, m.active.id))
	return MsgCancelSent, nil
}

// ActiveJob returns the id of the running job, if any.
func (m *Manager) ActiveJob() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return 0, false
	}
	return m.active.id, true
}

// Wait blocks until the worker for jobID exits. Unknown ids return at once.
func (m *Manager) Wait(ctx context.Context, jobID int64) error {
	m.mu.Lock()
	done, ok := m.done[jobID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CleanupStale fails jobs left QUEUED or RUNNING by a previous process.
func (m *Manager) CleanupStale(ctx context.Context) (store.CleanupResult, error) {
	result, err := m.store.CleanupStaleJobs(ctx)
	if err != nil {
		return result, err
	}
	if result.Jobs > 0 {
		logging.WarnWithContext(m.logger, "failed stale jobs from a previous run", "stale_jobs_cleaned",
			logging.Int64("jobs", result.Jobs),
			logging.Int64("items", result.Items),
			logging.String(logging.FieldErrorHint, "restart the affected downloads"),
			logging.String(logging.FieldImpact, "interrupted books were not converted"),
		)
	}
	return result, nil
}

// Close cancels the active job and waits for workers and chained jobs.
// Pipelines still waiting on the task runner observe the cancellation and
// resolve, so the runner should be stopped after Close returns.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) clearActive(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.id == id {
		m.active = nil
	}
}

type nopPublisher struct{}

func (nopPublisher) Announce(string, any)       {}
func (nopPublisher) Update(string, string, int) {}
