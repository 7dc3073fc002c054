package store

import (
	"strings"
	"time"
)

// JobKind distinguishes conversion jobs from library syncs.
type JobKind string

const (
	JobKindDownload JobKind = "DOWNLOAD"
	JobKindSync     JobKind = "SYNC"
)

// ParseJobKind accepts the kind case-insensitively.
func ParseJobKind(value string) (JobKind, bool) {
	switch JobKind(strings.ToUpper(strings.TrimSpace(value))) {
	case JobKindDownload:
		return JobKindDownload, true
	case JobKindSync:
		return JobKindSync, true
	default:
		return "", false
	}
}

// JobStatus represents the lifecycle of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether the job can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// ItemStatus represents the lifecycle of one book inside a job.
type ItemStatus string

const (
	ItemQueued     ItemStatus = "QUEUED"
	ItemProcessing ItemStatus = "PROCESSING"
	ItemCompleted  ItemStatus = "COMPLETED"
	ItemFailed     ItemStatus = "FAILED"
	ItemCancelled  ItemStatus = "CANCELLED"
)

// IsTerminal reports whether the item can no longer change.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemCompleted || s == ItemFailed || s == ItemCancelled
}

// BookStatus tracks whether a book exists in the library.
type BookStatus string

const (
	BookNew        BookStatus = "NEW"
	BookMissing    BookStatus = "MISSING"
	BookDownloaded BookStatus = "DOWNLOADED"
	BookError      BookStatus = "ERROR"
)

// AllBookStatuses lists statuses in display order.
var AllBookStatuses = []BookStatus{BookDownloaded, BookNew, BookMissing, BookError}

// ParseBookStatus accepts the status case-insensitively.
func ParseBookStatus(value string) (BookStatus, bool) {
	candidate := BookStatus(strings.ToUpper(strings.TrimSpace(value)))
	for _, status := range AllBookStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// RestartFailureLog is recorded on items abandoned by a daemon restart.
const RestartFailureLog = "Job failed due to application restart."

// Job is one DOWNLOAD or SYNC run.
type Job struct {
	ID         int64      `json:"id"`
	Kind       JobKind    `json:"job_type"`
	Status     JobStatus  `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Parameters string     `json:"parameters,omitempty"`
}

// JobItem is one book inside a DOWNLOAD job.
type JobItem struct {
	ID        int64      `json:"id"`
	JobID     int64      `json:"job_id"`
	ASIN      string     `json:"asin"`
	Status    ItemStatus `json:"status"`
	Log       string     `json:"log,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// JobItemDetail joins an item with the book metadata shown to users.
type JobItemDetail struct {
	JobItem
	Title  string `json:"title"`
	Author string `json:"author"`
}

// Book is one title in the user's library.
type Book struct {
	ASIN         string     `json:"asin"`
	Title        string     `json:"title"`
	Author       string     `json:"author"`
	Narrator     string     `json:"narrator,omitempty"`
	Series       string     `json:"series,omitempty"`
	SeriesPart   string     `json:"series_part,omitempty"`
	RuntimeMin   int        `json:"runtime_min"`
	ReleaseDate  string     `json:"release_date,omitempty"`
	CoverURL     string     `json:"cover_url,omitempty"`
	Status       BookStatus `json:"status"`
	RetryCount   int        `json:"retry_count"`
	Filepath     string     `json:"filepath,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DateAdded    time.Time  `json:"date_added"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AutoSelection describes which books an automatic download job picks up.
// ERROR books are only eligible when their retry_count is zero.
type AutoSelection struct {
	New     bool
	Missing bool
	Error   bool
}
