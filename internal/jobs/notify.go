package jobs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"bindery/internal/config"
	"bindery/internal/logging"
	"bindery/internal/notifications"
	"bindery/internal/store"
)

// notify publishes the job result. The service is built from the job's
// config snapshot so topic changes apply to the next job.
func (m *Manager) notify(ctx context.Context, logger *slog.Logger, job *store.Job, cfg *config.Config, params Params) {
	event, payload := m.notification(ctx, job, params)
	if event == "" {
		return
	}
	if err := notifications.NewService(cfg).Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logger, "job notification failed", "notification_failed",
			logging.Error(err),
			logging.String("event", string(event)),
			logging.String(logging.FieldImpact, "job result not pushed"),
		)
	}
}

func (m *Manager) notification(ctx context.Context, job *store.Job, params Params) (notifications.Event, notifications.Payload) {
	payload := notifications.Payload{
		"jobID":    job.ID,
		"status":   string(job.Status),
		"duration": time.Since(job.StartTime),
	}
	if job.Kind == store.JobKindSync {
		mode := params.SyncMode
		if mode == "" {
			mode = "DEFAULT"
		}
		payload["mode"] = mode
		return notifications.EventSyncFinished, payload
	}

	details, err := m.store.JobItemDetails(ctx, job.ID)
	if err != nil {
		m.logger.Warn("load job items for notification failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err),
		)
	}
	var completed, failed int
	var failedTitles []string
	for _, detail := range details {
		switch detail.Status {
		case store.ItemCompleted:
			completed++
		case store.ItemFailed:
			failed++
			failedTitles = append(failedTitles, detail.Title)
		}
	}
	payload["total"] = len(details)
	payload["completed"] = completed
	payload["failed"] = failed
	payload["failedTitles"] = strings.Join(failedTitles, ", ")

	switch {
	case job.Status == store.JobCancelled:
		return notifications.EventJobCancelled, payload
	case job.Status == store.JobFailed || failed > 0:
		return notifications.EventJobFailed, payload
	case len(details) == 0:
		return "", nil
	default:
		return notifications.EventJobCompleted, payload
	}
}
