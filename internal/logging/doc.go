// Package logging assembles structured slog loggers and formatting helpers used
// across bindery services.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so pipeline code tags log lines with job
// IDs, ASINs, task kinds, and correlation IDs. A bounded StreamHub keeps the
// most recent records in memory for the HTTP log endpoint.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// the same field names as the rest of the daemon.
package logging
