package jobs

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"bindery/internal/config"
	"bindery/internal/logging"
	"bindery/internal/pipeline"
	"bindery/internal/services"
	"bindery/internal/store"
)

const statusQueuedForPreparation = "Queued for Preparation..."

// runDownload processes every book of a DOWNLOAD job. A slot of the book
// pool is held from the moment a book starts until its PREPARE phase
// finishes, or until the book ends if it never gets that far.
func (m *Manager) runDownload(ctx context.Context, job *store.Job, cfg *config.Config, asins []string) store.JobStatus {
	slots := semaphore.NewWeighted(int64(max(cfg.Jobs.MaxParallelDownloads, 1)))
	var group errgroup.Group
	var (
		mu        sync.Mutex
		completed int
	)

	for _, asin := range asins {
		if err := slots.Acquire(ctx, 1); err != nil {
			break
		}
		group.Go(func() error {
			release := sync.OnceFunc(func() { slots.Release(1) })
			defer release()
			if m.processBook(ctx, job.ID, asin, cfg, release) {
				mu.Lock()
				completed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	switch {
	case ctx.Err() != nil:
		return store.JobCancelled
	case completed == len(asins):
		return store.JobCompleted
	default:
		return store.JobFailed
	}
}

// processBook drives one book and reconciles its job item. It reports
// whether the item completed.
func (m *Manager) processBook(ctx context.Context, jobID int64, asin string, cfg *config.Config, release func()) bool {
	if ctx.Err() != nil {
		return false
	}
	bookCtx := services.WithASIN(ctx, asin)
	logger := logging.WithContext(bookCtx, m.logger)
	// Item and book writes must land even when the job is cancelled mid-book.
	writeCtx := context.WithoutCancel(bookCtx)

	m.publisher.Update(asin, statusQueuedForPreparation, 2)
	if _, err := m.store.SetItemStatus(writeCtx, jobID, asin, store.ItemProcessing, ""); err != nil {
		logger.Warn("mark item processing failed", logging.Error(err))
	}

	proc := pipeline.NewProcessor(pipeline.Deps{
		Runner:    m.runner,
		Store:     m.store,
		Tools:     m.tools,
		Estimator: m.estimator,
		Announcer: m.publisher,
		Config:    cfg,
		Logger:    m.logger,
	}, asin, jobID)

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-proc.Prepared():
		case <-finished:
		}
		release()
	}()

	// The manager's lifetime context bounds the wait so a cancelled job
	// lets books already in the pipeline finish.
	outcome := proc.Run(m.ctx)

	status := store.ItemFailed
	logText := outcome.Message
	book, err := m.store.GetBook(writeCtx, asin)
	if err != nil {
		logger.Warn("reload book after processing failed", logging.Error(err))
	}
	if book != nil && book.Status == store.BookDownloaded {
		status = store.ItemCompleted
		logText = ""
	}
	if _, err := m.store.SetItemStatus(writeCtx, jobID, asin, status, logText); err != nil {
		logger.Warn("record item outcome failed", logging.Error(err))
	}
	if status == store.ItemCompleted {
		logger.Info("book converted",
			logging.String(logging.FieldEventType, "book_completed"),
			logging.String("path", outcome.Path),
		)
	} else {
		logging.WarnWithContext(logger, "book failed", "book_failed",
			logging.String("reason", outcome.Message),
			logging.String(logging.FieldErrorKind, services.KindOf(outcome.Err)),
			logging.String(logging.FieldImpact, "book left in ERROR state"),
		)
	}
	return status == store.ItemCompleted
}
