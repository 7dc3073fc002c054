// Package deps checks that the external binaries the converter and library
// syncer shell out to are installed.
package deps
