// Package config loads, normalizes, and validates bindery configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// BINDERY_LIBRARY_DIR. Holder and Watcher publish reloaded settings to the
// running daemon so pool sizes and auto-processing rules can change without a
// restart.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, canonical enum values, and clear validation errors.
package config
