package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bindery/internal/config"
)

const userAgent = "bindery/0.1"

// Event names a notification template.
type Event string

const (
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventJobCancelled Event = "job_cancelled"
	EventSyncFinished Event = "sync_finished"
	EventTest         Event = "test"
)

// Payload carries template values. Keys are documented per event in
// format.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is
// configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		notifySync: cfg.Notifications.NotifySync,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	notifySync bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if event == EventSyncFinished && !n.notifySync {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventJobCompleted:
		return message{
			title: "Bindery - Job Complete",
			body:  fmt.Sprintf("Converted %d of %d books in %s", intValue(payload, "completed"), intValue(payload, "total"), durationText(payload)),
			tags:  []string{"bindery", "job", "completed"},
		}, true
	case EventJobFailed:
		body := fmt.Sprintf("Job #%d finished with %d failed books", intValue(payload, "jobID"), intValue(payload, "failed"))
		if titles := stringValue(payload, "failedTitles"); titles != "" {
			body += "\n" + titles
		}
		if reason := stringValue(payload, "error"); reason != "" {
			body += "\nError: " + reason
		}
		return message{
			title:    "Bindery - Job Failed",
			body:     body,
			tags:     []string{"bindery", "job", "error"},
			priority: "high",
		}, true
	case EventJobCancelled:
		return message{
			title: "Bindery - Job Cancelled",
			body:  fmt.Sprintf("Job #%d was cancelled after %d of %d books", intValue(payload, "jobID"), intValue(payload, "completed"), intValue(payload, "total")),
			tags:  []string{"bindery", "job", "cancelled"},
		}, true
	case EventSyncFinished:
		return message{
			title: "Bindery - Library Synced",
			body:  fmt.Sprintf("%s sync finished: %s", stringValue(payload, "mode"), stringValue(payload, "status")),
			tags:  []string{"bindery", "sync"},
		}, true
	case EventTest:
		return message{
			title:    "Bindery - Test",
			body:     "Notification system test",
			tags:     []string{"bindery", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func intValue(payload Payload, key string) int64 {
	switch v := payload[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func stringValue(payload Payload, key string) string {
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

func durationText(payload Payload) string {
	d, _ := payload["duration"].(time.Duration)
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
