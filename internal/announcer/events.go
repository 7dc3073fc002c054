package announcer

import (
	"encoding/json"
	"fmt"
)

// Event names carried on the wire.
const (
	EventJobStarted  = "job_started"
	EventJobUpdate   = "job_update"
	EventJobFinished = "job_finished"
)

// SyncASIN tags progress events emitted by library sync jobs.
const SyncASIN = "sync-job"

// JobUpdate reports progress for one book, or for a sync job under SyncASIN.
type JobUpdate struct {
	ASIN       string `json:"asin"`
	StatusText string `json:"status_text"`
	Progress   int    `json:"progress"`
	StageText  string `json:"stage_text,omitempty"`
}

// JobSummary is the payload of job_started and job_finished.
type JobSummary struct {
	JobID   int64         `json:"job_id"`
	Status  string        `json:"status"`
	JobType string        `json:"job_type"`
	Items   []ItemSummary `json:"items"`
}

// ItemSummary describes one book inside a JobSummary.
type ItemSummary struct {
	ASIN     string `json:"asin"`
	Status   string `json:"status"`
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
	CoverURL string `json:"cover_url,omitempty"`
}

// Frame renders one SSE message: "event: <name>\ndata: <json>\n\n".
func Frame(name string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", name, err)
	}
	frame := make([]byte, 0, len(name)+len(payload)+16)
	frame = append(frame, "event: "...)
	frame = append(frame, name...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
