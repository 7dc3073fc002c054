// Package notifications delivers job results to an ntfy topic.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers publish unconditionally. Delivery is best effort: errors are
// returned for logging and never change a job's outcome.
package notifications
