package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"bindery/internal/config"
	"bindery/internal/convert"
	"bindery/internal/logging"
	"bindery/internal/services"
	"bindery/internal/store"
	"bindery/internal/taskrunner"
	"bindery/internal/textutil"
)

// Failure messages recorded on the book row.
const (
	MsgPathFailed    = "Failed to prepare file path."
	MsgPrepareFailed = "Failed during asset download/preparation."
	MsgNoChapters    = "Book has no chapter information."
	MsgEncodeFailed  = "A chapter chunk failed to encode."
	MsgMergeFailed   = "Final merge of chapter chunks failed."
	MsgTimedOut      = "Processing timed out."
	MsgInterrupted   = "Processing was interrupted."
	MsgStartFailed   = "Failed to start processing."
)

const recordTimeout = 10 * time.Second

// Submitter accepts pipeline tasks. *taskrunner.Runner implements it.
type Submitter interface {
	Submit(task taskrunner.Task) error
}

// BookStore is the subset of the store the pipeline reads and writes.
type BookStore interface {
	GetBook(ctx context.Context, asin string) (*store.Book, error)
	MarkBookError(ctx context.Context, asin, message string) error
	MarkBookDownloaded(ctx context.Context, asin, path string) error
}

// SampleRecorder receives conversion timings.
type SampleRecorder interface {
	RecordSample(runtimeMinutes int, wallSeconds float64)
}

// ProgressAnnouncer publishes per-book progress.
type ProgressAnnouncer interface {
	Update(asin, statusText string, progress int)
}

// Deps bundles a processor's collaborators. Estimator and Announcer are
// optional.
type Deps struct {
	Runner    Submitter
	Store     BookStore
	Tools     convert.Tools
	Estimator SampleRecorder
	Announcer ProgressAnnouncer
	Config    *config.Config
	Logger    *slog.Logger
}

// Processor runs one book through PREPARE, ENCODE, and MERGE.
type Processor struct {
	deps   Deps
	asin   string
	jobID  int64
	logger *slog.Logger

	completion *Completion
	started    atomic.Bool
	settled    atomic.Bool
	failed     atomic.Bool
	completed  atomic.Int32
	startedAt  time.Time

	// Written by PREPARE before any ENCODE is submitted.
	scratchDir string
	finalPath  string
	runtimeMin int
	prepared   *convert.Prepared
	total      int32
	outputs    []string

	mu       sync.Mutex
	pending  int
	released bool
}

// NewProcessor constructs a processor for asin within jobID.
func NewProcessor(deps Deps, asin string, jobID int64) *Processor {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(
		logging.String(logging.FieldComponent, "processor"),
		logging.String(logging.FieldASIN, asin),
		logging.Int64(logging.FieldJobID, jobID),
	)
	return &Processor{
		deps:       deps,
		asin:       asin,
		jobID:      jobID,
		logger:     logger,
		completion: newCompletion(),
	}
}

// Prepared is closed once PREPARE has finished or the pipeline failed early.
func (p *Processor) Prepared() <-chan struct{} { return p.completion.Prepared() }

// ScratchDir is the per-book working directory, empty before Start.
func (p *Processor) ScratchDir() string { return p.scratchDir }

// Start allocates the scratch directory and submits PREPARE.
func (p *Processor) Start(ctx context.Context) (*Completion, error) {
	if !p.started.CompareAndSwap(false, true) {
		return nil, errors.New("processor already started")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.deps.Runner == nil || p.deps.Store == nil || p.deps.Tools == nil || p.deps.Config == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "start", "processor dependencies incomplete", nil)
	}
	tempRoot := p.deps.Config.Paths.TempDir
	if err := os.MkdirAll(tempRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	dir, err := os.MkdirTemp(tempRoot, p.asin+"_")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	p.scratchDir = dir
	p.startedAt = time.Now()
	p.logger.Info("created scratch dir", logging.String("scratch_dir", dir))

	if err := p.submit(taskrunner.Task{Kind: taskrunner.KindPrepare}); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return p.completion, nil
}

// Run starts the pipeline and waits for its outcome, bounded by the
// configured book timeout. ctx bounds the wait only; job cancellation is
// handled by the caller before Run. The scratch directory is removed once no
// task of this processor is queued or running.
func (p *Processor) Run(ctx context.Context) Outcome {
	defer p.release()

	comp, err := p.Start(ctx)
	if err != nil {
		p.fail(MsgStartFailed, err)
		outcome, _ := p.completion.Outcome()
		return outcome
	}

	outcome, err := comp.Wait(ctx, p.deps.Config.BookTimeout())
	if err == nil {
		return outcome
	}
	message := MsgInterrupted
	if errors.Is(err, services.ErrTimeout) {
		message = MsgTimedOut
	}
	logging.ErrorWithContext(p.logger, "book pipeline did not finish", "pipeline_abandoned",
		logging.Error(err),
		logging.String(logging.FieldErrorKind, services.KindOf(err)),
	)
	p.fail(message, err)
	outcome, _ = p.completion.Outcome()
	return outcome
}

// Prepare implements taskrunner.Handler.
func (p *Processor) Prepare(ctx context.Context) error {
	defer p.taskDone()
	defer p.completion.markPrepared()
	if p.failed.Load() {
		return nil
	}
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("prepare started")

	book, err := p.deps.Store.GetBook(ctx, p.asin)
	if err == nil && book == nil {
		err = services.Wrap(services.ErrNotFound, "prepare", "lookup", "book "+p.asin+" is not in the library", nil)
	}
	if err != nil {
		p.fail(MsgPathFailed, err)
		return err
	}
	rel := textutil.RenderTemplate(p.deps.Config.Naming.Template, book.Author, book.Title)
	finalPath := filepath.Join(p.deps.Config.Paths.LibraryDir, rel+".m4b")
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		p.fail(MsgPathFailed, err)
		return err
	}
	p.finalPath = finalPath
	p.runtimeMin = book.RuntimeMin

	prepared, err := p.deps.Tools.Prepare(ctx, p.asin, p.jobID, p.scratchDir, p.announce)
	if err != nil {
		p.fail(MsgPrepareFailed, err)
		return err
	}
	if len(prepared.Chapters) == 0 {
		logging.WarnWithContext(logger, "book has no chapters", "no_chapters",
			logging.String(logging.FieldErrorHint, "re-download the book or check the chapter list from audible-cli"),
			logging.String(logging.FieldImpact, "book cannot be converted"),
		)
		p.fail(MsgNoChapters, nil)
		return nil
	}

	total := len(prepared.Chapters)
	p.prepared = prepared
	p.total = int32(total)
	p.outputs = make([]string, total)
	for i, ch := range prepared.Chapters {
		chunk := taskrunner.ChunkSpec{
			Index:           i,
			Total:           total,
			StartSeconds:    float64(ch.StartOffsetMs) / 1000,
			DurationSeconds: float64(ch.LengthMs) / 1000,
		}
		if err := p.submit(taskrunner.Task{Kind: taskrunner.KindEncode, Chunk: chunk}); err != nil {
			p.fail(MsgEncodeFailed, err)
			return err
		}
	}
	logger.Info("submitted encode tasks", logging.Int("chunks", total))
	return nil
}

// Encode implements taskrunner.Handler.
func (p *Processor) Encode(ctx context.Context, spec taskrunner.ChunkSpec) error {
	defer p.taskDone()
	if p.failed.Load() {
		return nil
	}
	out, err := p.deps.Tools.Encode(ctx, p.asin, p.jobID, p.scratchDir, convert.Chunk{
		Index:           spec.Index,
		Total:           spec.Total,
		StartSeconds:    spec.StartSeconds,
		DurationSeconds: spec.DurationSeconds,
	}, p.prepared)
	if err != nil {
		p.fail(MsgEncodeFailed, err)
		return err
	}
	if p.failed.Load() {
		return nil
	}
	p.outputs[spec.Index] = out

	done := p.completed.Add(1)
	p.announce(fmt.Sprintf("Processing chunk %d/%d", done, p.total), 30+int(done)*60/int(p.total))
	if done != p.total {
		return nil
	}
	logging.WithContext(ctx, p.logger).Info("all chunks encoded, submitting merge")
	if err := p.submit(taskrunner.Task{Kind: taskrunner.KindMerge}); err != nil {
		p.fail(MsgMergeFailed, err)
		return err
	}
	return nil
}

// Merge implements taskrunner.Handler.
func (p *Processor) Merge(ctx context.Context) error {
	defer p.taskDone()
	if p.failed.Load() {
		return nil
	}
	logger := logging.WithContext(ctx, p.logger)
	p.announce("Merging final file...", 95)

	if err := p.deps.Tools.Merge(ctx, p.asin, p.jobID, p.scratchDir, p.finalPath, p.prepared, p.outputs); err != nil {
		p.fail(MsgMergeFailed, err)
		return err
	}
	if !p.settled.CompareAndSwap(false, true) {
		logging.WarnWithContext(logger, "merge finished after the book was abandoned", "late_merge",
			logging.String("path", p.finalPath),
			logging.String(logging.FieldErrorHint, "run a deep library sync to pick up the file"),
			logging.String(logging.FieldImpact, "book stays in ERROR until the next sync"),
		)
		return nil
	}

	elapsed := time.Since(p.startedAt)
	if p.deps.Estimator != nil {
		p.deps.Estimator.RecordSample(p.runtimeMin, elapsed.Seconds())
	}
	recordCtx, cancel := recordContext(ctx)
	defer cancel()
	if err := p.deps.Store.MarkBookDownloaded(recordCtx, p.asin, p.finalPath); err != nil {
		logging.ErrorWithContext(logger, "failed to record finished book", "book_record_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.KindOf(err)),
		)
		p.announce("Failed!", 100)
		p.completion.resolve(Outcome{ASIN: p.asin, Path: p.finalPath, Message: err.Error(), Err: err})
		return err
	}
	p.announce("Complete!", 100)
	logger.Info("book converted",
		logging.String(logging.FieldEventType, "book_complete"),
		logging.String("path", p.finalPath),
		logging.Duration("elapsed", elapsed),
	)
	p.completion.resolve(Outcome{ASIN: p.asin, Success: true, Path: p.finalPath})
	return nil
}

// fail stops further merges, records the first failure on the book row, and
// resolves the completion. Later calls only log.
func (p *Processor) fail(message string, cause error) {
	p.failed.Store(true)
	if !p.settled.CompareAndSwap(false, true) {
		if cause != nil {
			p.logger.Debug("additional pipeline failure", logging.String("message", message), logging.Error(cause))
		}
		return
	}
	attrs := []logging.Attr{logging.String("message", message)}
	if cause != nil {
		attrs = append(attrs, logging.Error(cause), logging.String(logging.FieldErrorKind, services.KindOf(cause)))
	}
	logging.ErrorWithContext(p.logger, "book processing failed", "book_failed", attrs...)

	recordCtx, cancel := recordContext(context.Background())
	defer cancel()
	if err := p.deps.Store.MarkBookError(recordCtx, p.asin, message); err != nil {
		logging.ErrorWithContext(p.logger, "failed to record book error", "book_record_failed", logging.Error(err))
	}
	p.announce("Failed!", 100)
	p.completion.resolve(Outcome{ASIN: p.asin, Message: message, Err: cause})
}

// Discard implements taskrunner.Discarder. A dropped task can never run, so
// the book fails as interrupted and its pending count is released.
func (p *Processor) Discard(task taskrunner.Task) {
	defer p.taskDone()
	if task.Kind == taskrunner.KindPrepare {
		p.completion.markPrepared()
	}
	p.fail(MsgInterrupted, fmt.Errorf("%s task dropped at shutdown: %w", task.Kind, taskrunner.ErrNotRunning))
}

func (p *Processor) announce(text string, progress int) {
	if p.deps.Announcer != nil {
		p.deps.Announcer.Update(p.asin, text, progress)
	}
}

func (p *Processor) submit(task taskrunner.Task) error {
	task.JobID = p.jobID
	task.ASIN = p.asin
	task.Owner = p
	p.mu.Lock()
	p.pending++
	p.mu.Unlock()
	if err := p.deps.Runner.Submit(task); err != nil {
		p.taskDone()
		return fmt.Errorf("submit %s task: %w", task.Kind, err)
	}
	return nil
}

func (p *Processor) taskDone() {
	p.mu.Lock()
	p.pending--
	cleanup := p.released && p.pending == 0
	p.mu.Unlock()
	if cleanup {
		p.removeScratch()
	}
}

// release is called when Run returns. Scratch removal waits for any task
// still owned by this processor.
func (p *Processor) release() {
	p.mu.Lock()
	p.released = true
	cleanup := p.pending == 0
	p.mu.Unlock()
	if cleanup {
		p.removeScratch()
	}
}

func (p *Processor) removeScratch() {
	if p.scratchDir == "" {
		return
	}
	if err := os.RemoveAll(p.scratchDir); err != nil {
		logging.WarnWithContext(p.logger, "failed to remove scratch dir", "scratch_cleanup_failed",
			logging.String("scratch_dir", p.scratchDir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the directory manually"),
			logging.String(logging.FieldImpact, "disk space is not reclaimed"),
		)
		return
	}
	p.logger.Debug("removed scratch dir", logging.String("scratch_dir", p.scratchDir))
}

func recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}
