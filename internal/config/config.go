package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	LibraryDir  string `toml:"library_dir"`
	TempDir     string `toml:"temp_dir"`
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
	CoversDir   string `toml:"covers_dir"`
	AudibleHome string `toml:"audible_home"`
	APIBind     string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on every API route.
	APIToken string `toml:"api_token"`
}

// Jobs sizes the two worker pools and bounds how long a book may run.
type Jobs struct {
	MaxParallelDownloads int `toml:"max_parallel_downloads"`
	TotalProcessingCores int `toml:"total_processing_cores"`
	BookTimeoutSeconds   int `toml:"book_timeout_seconds"`
	ChainDelaySeconds    int `toml:"chain_delay_seconds"`
	StopTimeoutSeconds   int `toml:"stop_timeout_seconds"`
}

// Naming controls where finished books land inside the library.
type Naming struct {
	Template string `toml:"template"`
}

// Conversion contains external tool and encoder settings.
type Conversion struct {
	Quality          string `toml:"quality"`
	AudibleBinary    string `toml:"audible_binary"`
	FFmpegBinary     string `toml:"ffmpeg_binary"`
	FFprobeBinary    string `toml:"ffprobe_binary"`
	DownloadAttempts int    `toml:"download_attempts"`
	CoverSize        int    `toml:"cover_size"`
}

// Tasks selects which books an automatic download job picks up.
type Tasks struct {
	AutoProcessNew       bool `toml:"auto_process_new"`
	AutoProcessMissing   bool `toml:"auto_process_missing"`
	AutoProcessError     bool `toml:"auto_process_error"`
	ProcessNewOnSync     bool `toml:"process_new_on_sync"`
	IsAutoProcessEnabled bool `toml:"is_auto_process_enabled"`
}

// Sync contains library sync settings.
type Sync struct {
	DefaultMode string `toml:"default_mode"`
}

// Estimator configures the conversion time history.
type Estimator struct {
	HistoryLength int     `toml:"history_length"`
	DefaultRate   float64 `toml:"default_rate"`
	Backend       string  `toml:"backend"`
	RedisAddr     string  `toml:"redis_addr"`
	RedisPassword string  `toml:"redis_password"`
	RedisDB       int     `toml:"redis_db"`
	RedisKey      string  `toml:"redis_key"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications configures ntfy push notifications.
type Notifications struct {
	// NtfyTopic is the full topic URL, such as https://ntfy.sh/my-books.
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	NotifySync            bool   `toml:"notify_sync"`
}

// Config encapsulates all configuration values for bindery.
//
// Configuration sections by subsystem:
//   - Paths: library, scratch, and state directories plus the API bind address
//   - Jobs: download pool, processing pool, and timeouts
//   - Naming: library path template
//   - Conversion: audible/ffmpeg binaries and encoder quality
//   - Tasks: auto-processing rules
//   - Sync: default library sync mode
//   - Estimator: conversion history storage
//   - Logging: log format, level, and retention
//   - Notifications: ntfy topic for job results
type Config struct {
	Paths         Paths         `toml:"paths"`
	Jobs          Jobs          `toml:"jobs"`
	Naming        Naming        `toml:"naming"`
	Conversion    Conversion    `toml:"conversion"`
	Tasks         Tasks         `toml:"tasks"`
	Sync          Sync          `toml:"sync"`
	Estimator     Estimator     `toml:"estimator"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		data, err := os.ReadFile(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{defaultPath, projectPath} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// LibraryDir is created on a best-effort basis so the daemon can run when
// external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.TempDir, c.Paths.StateDir, c.Paths.LogDir, c.Paths.CoversDir, c.Paths.AudibleHome} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.LibraryDir) != "" {
		_ = os.MkdirAll(c.Paths.LibraryDir, 0o755)
	}
	return nil
}

// DatabasePath is the SQLite file holding jobs and books.
func (c *Config) DatabasePath() string { return filepath.Join(c.Paths.StateDir, "bindery.db") }

// SocketPath is the Unix socket the daemon serves JSON-RPC on.
func (c *Config) SocketPath() string { return filepath.Join(c.Paths.StateDir, "bindery.sock") }

// LockPath is the flock file guarding single-daemon operation.
func (c *Config) LockPath() string { return filepath.Join(c.Paths.StateDir, "bindery.lock") }

// PIDPath is written while the daemon runs.
func (c *Config) PIDPath() string { return filepath.Join(c.Paths.StateDir, "bindery.pid") }

// RateCachePath is the JSON file backing the file estimator history.
func (c *Config) RateCachePath() string {
	return filepath.Join(c.Paths.StateDir, "conversion_rates.json")
}

// ScanCachePath stores mtime|asin|path lines from the deep library scan.
func (c *Config) ScanCachePath() string { return filepath.Join(c.Paths.StateDir, "file_scan_cache") }

// BookTimeout bounds how long a single book pipeline may run.
func (c *Config) BookTimeout() time.Duration {
	return time.Duration(c.Jobs.BookTimeoutSeconds) * time.Second
}

// ChainDelay is the pause between a finished sync and the chained download job.
func (c *Config) ChainDelay() time.Duration {
	return time.Duration(c.Jobs.ChainDelaySeconds) * time.Second
}

// StopTimeout bounds how long shutdown waits for in-flight tasks.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Jobs.StopTimeoutSeconds) * time.Second
}

// NotifyTimeout bounds one ntfy request.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// Bitrate maps the configured quality to an AAC bitrate.
func (c *Config) Bitrate() string {
	if rate, ok := qualityBitrates[c.Conversion.Quality]; ok {
		return rate
	}
	return qualityBitrates[defaultQuality]
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample file contents.
func SampleConfig() string { return sampleConfig }

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
