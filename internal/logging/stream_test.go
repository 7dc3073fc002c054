package logging

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestStreamHandlerCallSiteOverridesWithAttrs(t *testing.T) {
	hub := NewStreamHub(10)
	logger := slog.New(newStreamHandler(slog.NewTextHandler(discardWriter{}, nil), hub)).
		With(slog.String(FieldASIN, "B001"))

	logger.Info("message", slog.String(FieldASIN, "B002"), slog.String("extra", "value"))

	events, _ := hub.Tail(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ASIN != "B002" {
		t.Fatalf("expected call-site asin to win, got %q", events[0].ASIN)
	}
	if events[0].Fields["extra"] != "value" {
		t.Fatalf("expected extra field, got %v", events[0].Fields)
	}
}

func TestStreamHubEvictsOldest(t *testing.T) {
	hub := NewStreamHub(3)
	for i := 0; i < 5; i++ {
		hub.Publish(LogEvent{Message: "m"})
	}
	events, next := hub.Tail(0)
	if len(events) != 3 {
		t.Fatalf("expected 3 buffered events, got %d", len(events))
	}
	if events[0].Sequence != 3 || next != 5 {
		t.Fatalf("unexpected sequences first=%d next=%d", events[0].Sequence, next)
	}
}

func TestStreamHubFetchPagesByCursor(t *testing.T) {
	hub := NewStreamHub(10)
	for i := 0; i < 4; i++ {
		hub.Publish(LogEvent{Message: "m"})
	}
	page, cursor, err := hub.Fetch(context.Background(), 0, 2, false)
	if err != nil || len(page) != 2 || cursor != 2 {
		t.Fatalf("first page len=%d cursor=%d err=%v", len(page), cursor, err)
	}
	page, cursor, err = hub.Fetch(context.Background(), cursor, 2, false)
	if err != nil || len(page) != 2 || page[0].Sequence != 3 || cursor != 4 {
		t.Fatalf("second page len=%d cursor=%d err=%v", len(page), cursor, err)
	}
}

func TestStreamHubFetchWaitsForPublish(t *testing.T) {
	hub := NewStreamHub(10)
	go func() {
		time.Sleep(20 * time.Millisecond)
		hub.Publish(LogEvent{Message: "late"})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events, _, err := hub.Fetch(ctx, 0, 10, true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 1 || events[0].Message != "late" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestStreamHubFetchHonoursCancel(t *testing.T) {
	hub := NewStreamHub(10)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := hub.Fetch(ctx, 0, 10, true); err == nil {
		t.Fatal("expected context error")
	}
}
