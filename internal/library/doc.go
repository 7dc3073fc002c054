// Package library keeps the audiobook catalogue in step with the Audible
// account and the files on disk.
//
// A FAST sync only pages through the account library and upserts books. A
// DEEP sync also scans the library directory for m4b files, identifying
// each by its embedded asin tag, and reconciles the catalogue: downloaded
// books whose file vanished become MISSING and files for books the
// catalogue did not consider downloaded are adopted.
package library
