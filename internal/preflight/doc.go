// Package preflight provides readiness checks for the filesystem paths and
// external tools bindery depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failing check.
//   - The CLI "bindery status" command renders the same results.
package preflight
