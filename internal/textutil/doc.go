// Package textutil normalizes strings that end up on disk or in front of a
// user: library path segments rendered from the naming template and status
// labels printed by the CLI.
package textutil
