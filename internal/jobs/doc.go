// Package jobs owns the job lifecycle.
//
// At most one job is QUEUED or RUNNING at a time. A DOWNLOAD job runs its
// books through a bounded pool; each slot drives one pipeline.Processor and
// is handed to the next book as soon as that book's PREPARE phase finishes,
// so downloads stay bounded while encodes overlap on the shared task runner.
// A SYNC job runs the library syncer and may chain an automatic DOWNLOAD.
//
// Cancellation is cooperative: books that have not started are cancelled,
// books already in the pipeline run to completion.
package jobs
