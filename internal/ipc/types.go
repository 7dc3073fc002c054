package ipc

import (
	"bindery/internal/daemon"
	"bindery/internal/jobs"
	"bindery/internal/logging"
	"bindery/internal/store"
)

// ServiceName is the RPC service prefix.
const ServiceName = "Bindery"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse wraps the daemon status snapshot.
type StatusResponse struct {
	daemon.Status
}

// StartJobRequest mirrors the POST /api/jobs body.
type StartJobRequest = daemon.JobRequest

// StartJobResponse reports whether a job was created.
type StartJobResponse = jobs.StartResult

// CancelJobRequest cancels the active job.
type CancelJobRequest struct{}

// CancelJobResponse carries the cancel acknowledgement.
type CancelJobResponse struct {
	Message string `json:"message"`
}

// ListJobsRequest limits the job history listing.
type ListJobsRequest struct {
	Limit int `json:"limit"`
}

// ListJobsResponse contains recent jobs, newest first.
type ListJobsResponse struct {
	Jobs []*store.Job `json:"jobs"`
}

// JobDetailRequest fetches one job by id.
type JobDetailRequest struct {
	ID int64 `json:"id"`
}

// JobDetailResponse holds a job and its items.
type JobDetailResponse struct {
	daemon.JobDetail
}

// ListBooksRequest filters the catalog by status.
type ListBooksRequest struct {
	Statuses []string `json:"statuses"`
}

// ListBooksResponse contains matching books.
type ListBooksResponse struct {
	Books []*store.Book `json:"books"`
}

// StatsRequest fetches book counts.
type StatsRequest struct{}

// StatsResponse holds book counts by status.
type StatsResponse struct {
	Books map[string]int `json:"books"`
}

// EstimateRequest asks for a conversion estimate.
type EstimateRequest struct {
	RuntimeMinutes int `json:"runtime_min"`
}

// EstimateResponse wraps the estimate.
type EstimateResponse struct {
	daemon.EstimateResult
}

// LogTailRequest reads buffered daemon log events.
type LogTailRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_ms"`
	JobID      int64  `json:"job_id,omitempty"`
	ASIN       string `json:"asin,omitempty"`
}

// LogTailResponse returns events and the cursor for the next call.
type LogTailResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// StopRequest asks the daemon process to exit.
type StopRequest struct{}

// StopResponse acknowledges the shutdown request.
type StopResponse struct {
	Stopping bool `json:"stopping"`
}
