package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	asinKey      contextKey = "asin"
	taskKindKey  contextKey = "task_kind"
	requestIDKey contextKey = "request_id"
)

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id int64) context.Context {
	if id <= 0 {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (int64, bool) {
	switch val := ctx.Value(jobIDKey).(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithASIN annotates context with the book being processed.
func WithASIN(ctx context.Context, asin string) context.Context {
	if asin == "" {
		return ctx
	}
	return context.WithValue(ctx, asinKey, asin)
}

// ASINFromContext returns the book identifier if present.
func ASINFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(asinKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithTaskKind annotates context with the pipeline task kind (prepare, encode, merge).
func WithTaskKind(ctx context.Context, kind string) context.Context {
	if kind == "" {
		return ctx
	}
	return context.WithValue(ctx, taskKindKey, kind)
}

// TaskKindFromContext returns the task kind if present.
func TaskKindFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(taskKindKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
