package taskrunner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bindery/internal/logging"
	"bindery/internal/services"
)

const defaultStopTimeout = 10 * time.Second

// Stats is a point-in-time view of the runner.
type Stats struct {
	Running      bool           `json:"running"`
	PoolSize     int            `json:"pool_size"`
	Queued       int            `json:"queued"`
	QueuedByKind map[string]int `json:"queued_by_kind"`
	InFlight     int            `json:"in_flight"`
	Completed    int64          `json:"completed"`
	Failed       int64          `json:"failed"`
}

// Runner owns the shared worker pool.
type Runner struct {
	logger      *slog.Logger
	stopTimeout time.Duration

	mu           sync.Mutex
	running      bool
	stopping     bool
	poolSize     int
	queue        *taskQueue
	slots        chan struct{}
	stopDispatch context.CancelFunc
	cancelTasks  context.CancelFunc
	taskCtx      context.Context
	dispatcher   chan struct{}
	inFlight     *sync.WaitGroup

	active    atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
}

// Option customizes a Runner.
type Option func(*Runner)

// WithStopTimeout bounds how long Stop waits for in-flight tasks.
func WithStopTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.stopTimeout = d
		}
	}
}

// New constructs a stopped runner.
func New(logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		logger:      logging.NewComponentLogger(logger, "task-runner"),
		stopTimeout: defaultStopTimeout,
		queue:       newTaskQueue(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches poolSize workers and the dispatcher. Cancelling ctx stops
// dispatch, but task contexts keep ctx's values without its cancellation:
// in-flight work is only cancelled by Stop, after the stop timeout.
// Calling Start on a running runner is a no-op.
func (r *Runner) Start(ctx context.Context, poolSize int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		logging.WarnWithContext(r.logger, "task runner already running", "runner_already_running",
			logging.Int("pool_size", r.poolSize),
			logging.String(logging.FieldErrorHint, "Start was called twice"),
			logging.String(logging.FieldImpact, "existing pool keeps running"),
		)
		return nil
	}
	if poolSize <= 0 {
		logging.WarnWithContext(r.logger, "invalid pool size, using 1", "runner_pool_size_invalid",
			logging.Int("requested", poolSize),
			logging.String(logging.FieldErrorHint, "set jobs.total_processing_cores to a positive value"),
			logging.String(logging.FieldImpact, "pipeline tasks run one at a time"),
		)
		poolSize = 1
	}

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	taskCtx, cancelTasks := context.WithCancel(context.WithoutCancel(ctx))
	r.queue = newTaskQueue()
	r.slots = make(chan struct{}, poolSize)
	r.poolSize = poolSize
	r.stopDispatch = stopDispatch
	r.cancelTasks = cancelTasks
	r.taskCtx = taskCtx
	r.dispatcher = make(chan struct{})
	r.inFlight = &sync.WaitGroup{}
	r.running = true
	r.stopping = false

	go r.dispatch(dispatchCtx.Done(), taskCtx, r.queue, r.slots, r.inFlight, r.dispatcher)
	r.logger.Info("task runner started", logging.Int("pool_size", poolSize))
	return nil
}

// Submit enqueues a task. Failures are logged; callers may ignore the error.
func (r *Runner) Submit(task Task) error {
	if err := task.validate(); err != nil {
		logging.ErrorWithContext(r.logger, "task rejected", "task_rejected",
			logging.String(logging.FieldTaskKind, task.Kind.String()),
			logging.String(logging.FieldASIN, task.ASIN),
			logging.Error(err),
		)
		return err
	}
	r.mu.Lock()
	if !r.running || r.stopping || r.taskCtx.Err() != nil {
		r.mu.Unlock()
		logging.ErrorWithContext(r.logger, "task submitted to stopped runner", "task_rejected",
			logging.String(logging.FieldTaskKind, task.Kind.String()),
			logging.Int64(logging.FieldJobID, task.JobID),
			logging.String(logging.FieldASIN, task.ASIN),
			logging.String(logging.FieldErrorHint, "start the task runner before submitting work"),
		)
		return ErrNotRunning
	}
	queue := r.queue
	r.inFlight.Add(1)
	queue.push(task)
	r.mu.Unlock()

	r.logger.Debug("task queued",
		logging.String(logging.FieldTaskKind, task.Kind.String()),
		logging.Int64(logging.FieldJobID, task.JobID),
		logging.String(logging.FieldASIN, task.ASIN),
		logging.Int("queued", queue.len()),
	)
	return nil
}

// dispatch waits for a free slot, then pops the best task and runs it there.
func (r *Runner) dispatch(done <-chan struct{}, taskCtx context.Context, queue *taskQueue, slots chan struct{}, wg *sync.WaitGroup, exited chan struct{}) {
	defer close(exited)
	for {
		select {
		case slots <- struct{}{}:
		case <-done:
			return
		}
		task, ok := queue.pop(done)
		if !ok {
			<-slots
			return
		}
		r.active.Add(1)
		go r.execute(taskCtx, task, slots, wg)
	}
}

func (r *Runner) execute(taskCtx context.Context, task Task, slots chan struct{}, wg *sync.WaitGroup) {
	defer func() {
		r.active.Add(-1)
		<-slots
		wg.Done()
	}()

	ctx := services.WithJobID(taskCtx, task.JobID)
	ctx = services.WithASIN(ctx, task.ASIN)
	ctx = services.WithTaskKind(ctx, task.Kind.String())
	logger := logging.WithContext(ctx, r.logger)

	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.failed.Add(1)
			logging.ErrorWithContext(logger, "task panicked", "task_failed",
				logging.String("panic", fmt.Sprint(rec)),
				logging.Duration("elapsed", time.Since(started)),
			)
		}
	}()

	var err error
	switch task.Kind {
	case KindEncode:
		err = task.Owner.Encode(ctx, task.Chunk)
	case KindPrepare:
		err = task.Owner.Prepare(ctx)
	case KindMerge:
		err = task.Owner.Merge(ctx)
	}
	if err != nil {
		r.failed.Add(1)
		logging.ErrorWithContext(logger, "task failed", "task_failed",
			logging.String(logging.FieldErrorKind, services.KindOf(err)),
			logging.Duration("elapsed", time.Since(started)),
			logging.Error(err),
		)
		return
	}
	r.completed.Add(1)
	logger.Debug("task finished", logging.Duration("elapsed", time.Since(started)))
}

// Stop halts dispatch and discards queued tasks, handing each to its owner's
// Discard when the owner implements Discarder. It then waits for in-flight
// tasks up to the stop timeout; task contexts are cancelled once the wait ends.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running || r.stopping {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	stopDispatch := r.stopDispatch
	cancelTasks := r.cancelTasks
	dispatcher := r.dispatcher
	queue := r.queue
	wg := r.inFlight
	r.mu.Unlock()

	stopDispatch()
	<-dispatcher

	if discarded := queue.drain(); len(discarded) > 0 {
		for _, task := range discarded {
			if d, ok := task.Owner.(Discarder); ok {
				d.Discard(task)
			}
			wg.Done()
		}
		r.logger.Info("discarded queued tasks", logging.Int("count", len(discarded)))
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(r.stopTimeout):
		logging.WarnWithContext(r.logger, "in-flight tasks outlived stop timeout", "runner_stop_timeout",
			logging.Int("in_flight", int(r.active.Load())),
			logging.Duration("timeout", r.stopTimeout),
			logging.String(logging.FieldErrorHint, "external tools may still be running"),
			logging.String(logging.FieldImpact, "remaining tasks are cancelled"),
		)
	}
	cancelTasks()

	r.mu.Lock()
	r.running = false
	r.stopping = false
	r.mu.Unlock()
	r.logger.Info("task runner stopped",
		logging.Int64("completed", r.completed.Load()),
		logging.Int64("failed", r.failed.Load()),
	)
}

// Running reports whether the runner accepts tasks.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && !r.stopping
}

// Stats reports queue depth and counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	running := r.running && !r.stopping
	poolSize := r.poolSize
	queue := r.queue
	r.mu.Unlock()
	return Stats{
		Running:      running,
		PoolSize:     poolSize,
		Queued:       queue.len(),
		QueuedByKind: queue.countByKind(),
		InFlight:     int(r.active.Load()),
		Completed:    r.completed.Load(),
		Failed:       r.failed.Load(),
	}
}
