// Package convert turns one purchased book into a chaptered m4b.
//
// Conversion runs in three phases that the pipeline schedules as separate
// tasks: Prepare downloads the encrypted audio and builds the ffmpeg chapter
// file, Encode re-encodes one chapter into its own chunk, and Merge
// concatenates the chunks with cover art and chapter metadata before moving
// the result into the library. Every phase shells out to the audible CLI or
// ffmpeg through the clients in internal/services.
package convert
