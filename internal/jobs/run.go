package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"bindery/internal/announcer"
	"bindery/internal/config"
	"bindery/internal/logging"
	"bindery/internal/services"
	"bindery/internal/store"
)

// runJob is the worker goroutine of one job.
func (m *Manager) runJob(ctx context.Context, cancel context.CancelFunc, job *store.Job, cfg *config.Config, params Params, done chan struct{}) {
	defer m.wg.Done()
	defer cancel()
	logger := logging.WithContext(ctx, m.logger)

	status := store.JobFailed
	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.ErrorWithContext(logger, "job worker panicked", "job_panic",
					logging.String("panic", fmt.Sprint(r)),
					logging.String("stack", string(debug.Stack())),
					logging.String(logging.FieldImpact, "job forced to FAILED"),
				)
				status = store.JobFailed
			}
		}()
		status = m.work(ctx, job, cfg, params)
	}()

	m.finish(ctx, job, cfg, params, status)
	m.clearActive(job.ID)
	close(done)

	if job.Kind == store.JobKindSync && status == store.JobCompleted &&
		cfg.Tasks.IsAutoProcessEnabled && cfg.Tasks.ProcessNewOnSync {
		m.mu.Lock()
		if !m.closed {
			m.wg.Add(1)
			go m.chainDownload(cfg.ChainDelay())
		}
		m.mu.Unlock()
	}
}

func (m *Manager) work(ctx context.Context, job *store.Job, cfg *config.Config, params Params) store.JobStatus {
	if err := m.store.SetJobStatus(context.WithoutCancel(ctx), job.ID, store.JobRunning); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "mark job running failed", "job_status_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.KindOf(err)),
		)
	}
	if ctx.Err() != nil {
		return store.JobCancelled
	}
	switch job.Kind {
	case store.JobKindSync:
		return m.runSync(ctx, cfg, params)
	default:
		asins := params.ASINs
		if len(asins) == 0 {
			asins = decodeASINs(job.Parameters)
		}
		return m.runDownload(ctx, job, cfg, asins)
	}
}

// finish records the terminal status, announces job_finished, and sends
// the configured notification.
func (m *Manager) finish(ctx context.Context, job *store.Job, cfg *config.Config, params Params, status store.JobStatus) {
	writeCtx := context.WithoutCancel(ctx)
	logger := logging.WithContext(ctx, m.logger)
	if status != store.JobCompleted {
		if n, err := m.store.CancelQueuedItems(writeCtx, job.ID); err != nil {
			logger.Warn("cancel queued items failed", logging.Error(err))
		} else if n > 0 {
			logger.Info("cancelled books that never started", logging.Int64("items", n))
		}
	}
	if err := m.store.FinishJob(writeCtx, job.ID, status); err != nil {
		logging.WarnWithContext(logger, "record job status failed", "job_status_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.KindOf(err)),
		)
	}
	finished := *job
	finished.Status = status
	m.publisher.Announce(announcer.EventJobFinished, m.summary(writeCtx, &finished, false))
	logger.Info("job finished",
		logging.String(logging.FieldEventType, "job_finished"),
		logging.String("status", string(status)),
	)
	m.notify(writeCtx, logger, &finished, cfg, params)
}

func decodeASINs(raw string) []string {
	var params Params
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil
	}
	return params.ASINs
}
