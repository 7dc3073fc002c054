package jobs

import (
	"context"

	"bindery/internal/announcer"
	"bindery/internal/library"
	"bindery/internal/logging"
	"bindery/internal/store"
)

// summary builds the job_started / job_finished payload. Detailed summaries
// carry title, author, and cover for each book.
func (m *Manager) summary(ctx context.Context, job *store.Job, detailed bool) announcer.JobSummary {
	out := announcer.JobSummary{
		JobID:   job.ID,
		Status:  string(job.Status),
		JobType: string(job.Kind),
		Items:   []announcer.ItemSummary{},
	}
	details, err := m.store.JobItemDetails(ctx, job.ID)
	if err != nil {
		m.logger.Warn("load job items for announcement failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err),
		)
		return out
	}
	for _, detail := range details {
		item := announcer.ItemSummary{ASIN: detail.ASIN, Status: string(detail.Status)}
		if detailed {
			item.Title = detail.Title
			item.Author = detail.Author
			item.CoverURL = CoverPath(detail.ASIN)
		}
		out.Items = append(out.Items, item)
	}
	return out
}

// CoverPath is the URL path the HTTP API serves a book's thumbnail under.
func CoverPath(asin string) string {
	return "/covers/" + library.ThumbnailName(asin)
}
