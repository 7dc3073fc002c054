// Command bindery is the command line client for the bindery daemon.
//
// Most subcommands talk to a running daemon over its Unix socket; `daemon`
// runs the daemon itself in the foreground and `config` works offline.
package main
