// Package daemon coordinates the long-running bindery process.
//
// It holds the flock that keeps a single daemon per state directory, exposes
// the job, book, and estimate operations shared by the HTTP API and the IPC
// server, and serves the HTTP API itself, including the server-sent event
// stream fed by the announcer.
//
// Keep orchestration here: conversion and sync logic belong in their own
// packages while the daemon focuses on startup, shutdown, and the outer
// surfaces.
package daemon
