// Package ipc exposes the daemon over JSON-RPC on a Unix domain socket and
// ships the matching client used by the CLI.
//
// Errors cross the socket as "kind: message" strings; the client restores
// the services error marker so callers can keep using errors.Is.
package ipc
