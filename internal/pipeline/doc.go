// Package pipeline coordinates the conversion of a single book.
//
// A Processor submits one PREPARE task to the shared task runner. PREPARE
// fans out one ENCODE per chapter; the ENCODE that completes the last chunk
// submits the single MERGE. The outcome is delivered through a Completion
// that the job manager awaits with a timeout, and a secondary Prepared signal
// lets the manager hand the download slot to the next book while encodes are
// still running.
package pipeline
