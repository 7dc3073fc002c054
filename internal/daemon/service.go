package daemon

import (
	"context"

	"bindery/internal/jobs"
	"bindery/internal/services"
	"bindery/internal/store"
)

// JobDetail is a job with its items.
type JobDetail struct {
	Job   *store.Job            `json:"job"`
	Items []store.JobItemDetail `json:"items"`
}

// EstimateResult answers how long a conversion should take.
type EstimateResult struct {
	RuntimeMinutes   int     `json:"runtime_min"`
	EstimatedSeconds int     `json:"estimated_seconds"`
	AverageRate      float64 `json:"average_rate"`
	Samples          int     `json:"samples"`
}

// StartJob validates req and starts a job.
func (d *Daemon) StartJob(ctx context.Context, req JobRequest) (jobs.StartResult, error) {
	if err := req.Validate(); err != nil {
		return jobs.StartResult{}, err
	}
	kind, _ := store.ParseJobKind(req.JobType)
	return d.jobs.StartNewJob(ctx, kind, req.ASINs, jobs.Params{SyncMode: req.SyncMode})
}

// CancelJob signals the active job.
func (d *Daemon) CancelJob() (string, error) {
	return d.jobs.CancelActiveJob()
}

// ListJobs returns the most recent jobs first.
func (d *Daemon) ListJobs(ctx context.Context, limit int) ([]*store.Job, error) {
	list, err := d.store.ListJobs(ctx, limit)
	if list == nil {
		list = []*store.Job{}
	}
	return list, err
}

// JobDetail returns one job with its items.
func (d *Daemon) JobDetail(ctx context.Context, id int64) (*JobDetail, error) {
	job, err := d.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Detailed(services.ErrNotFound, "job %d not found", id)
	}
	items, err := d.store.JobItemDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.JobItemDetail{}
	}
	return &JobDetail{Job: job, Items: items}, nil
}

// ListBooks returns books, optionally filtered by status names.
func (d *Daemon) ListBooks(ctx context.Context, statuses []string) ([]*store.Book, error) {
	parsed, err := ParseBookStatuses(statuses)
	if err != nil {
		return nil, err
	}
	books, err := d.store.ListBooks(ctx, parsed...)
	if books == nil {
		books = []*store.Book{}
	}
	return books, err
}

// Stats counts books per status.
func (d *Daemon) Stats(ctx context.Context) (map[string]int, error) {
	counts, err := d.store.BookStats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out, nil
}

// Estimate predicts conversion time for a book of runtimeMinutes.
func (d *Daemon) Estimate(runtimeMinutes int) (EstimateResult, error) {
	if err := validateRuntime(runtimeMinutes); err != nil {
		return EstimateResult{}, err
	}
	if d.estimator == nil {
		return EstimateResult{}, services.Detailed(services.ErrConfiguration, "estimator unavailable")
	}
	rate, samples := d.estimator.AverageRate()
	return EstimateResult{
		RuntimeMinutes:   runtimeMinutes,
		EstimatedSeconds: d.estimator.Estimate(runtimeMinutes),
		AverageRate:      rate,
		Samples:          samples,
	}, nil
}
