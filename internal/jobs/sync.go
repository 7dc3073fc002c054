package jobs

import (
	"context"
	"time"

	"bindery/internal/announcer"
	"bindery/internal/config"
	"bindery/internal/library"
	"bindery/internal/logging"
	"bindery/internal/services"
	"bindery/internal/store"
)

// runSync runs the library syncer and relays its progress under SyncASIN.
func (m *Manager) runSync(ctx context.Context, cfg *config.Config, params Params) store.JobStatus {
	logger := logging.WithContext(ctx, m.logger)
	if m.syncer == nil {
		logging.ErrorWithContext(logger, "sync job started without a syncer", "sync_unavailable",
			logging.String(logging.FieldErrorKind, services.KindOf(services.ErrConfiguration)),
		)
		return store.JobFailed
	}
	mode, ok := library.ParseMode(params.SyncMode)
	if !ok {
		mode, _ = library.ParseMode(cfg.Sync.DefaultMode)
	}

	summary, err := m.syncer.Sync(ctx, mode, func(text string, progress int, stage string) {
		m.publisher.Announce(announcer.EventJobUpdate, announcer.JobUpdate{
			ASIN:       announcer.SyncASIN,
			StatusText: text,
			Progress:   progress,
			StageText:  stage,
		})
	})
	if ctx.Err() != nil {
		return store.JobCancelled
	}
	if err != nil {
		logging.ErrorWithContext(logger, "library sync failed", "sync_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.KindOf(err)),
			logging.String(logging.FieldErrorHint, "check that the audible CLI is authenticated"),
		)
		return store.JobFailed
	}
	logger.Info("library sync finished",
		logging.String(logging.FieldEventType, "sync_completed"),
		logging.String("mode", string(mode)),
		logging.Int("total", summary.Total),
		logging.Int("new", summary.New),
		logging.Int("updated", summary.Updated),
		logging.Int("marked_missing", summary.MarkedMissing),
		logging.Int("fixed_untracked", summary.FixedUntracked),
	)
	return store.JobCompleted
}

// chainDownload starts an automatic DOWNLOAD after a successful sync.
func (m *Manager) chainDownload(delay time.Duration) {
	defer m.wg.Done()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-m.ctx.Done():
			return
		}
	} else if m.ctx.Err() != nil {
		return
	}
	result, err := m.StartNewJob(m.ctx, store.JobKindDownload, nil, Params{})
	if err != nil {
		logging.WarnWithContext(m.logger, "automatic download after sync not started", "sync_chain_skipped",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.KindOf(err)),
		)
		return
	}
	m.logger.Info("automatic download after sync",
		logging.String(logging.FieldEventType, "sync_chain"),
		logging.String("message", result.Message),
	)
}
