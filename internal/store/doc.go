// Package store persists jobs, job items, and the audiobook catalogue in
// SQLite.
//
// Jobs and their items are written by the job manager; books are written by
// library sync and the book pipeline. Update predicates enforce the lifecycle
// rules: a finished job never changes again, and an item that reached
// COMPLETED, FAILED, or CANCELLED keeps that status.
//
// Schema changes bump schemaVersion in schema.go; the database is small enough
// that users recreate it rather than migrate.
package store
