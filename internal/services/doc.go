// Package services defines shared utilities consumed by the job manager, the
// book pipeline, and the collaborators that shell out to external tools.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, ASINs, task kinds, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified with errors.Is and mapped to API status codes via KindOf.
//
// Keep new failure paths tagged with one of the markers so log fields and
// HTTP responses stay uniform.
package services
