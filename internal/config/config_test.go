package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"bindery/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if resolved != filepath.Join(tempHome, ".config", "bindery", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if cfg.Paths.LibraryDir != filepath.Join(tempHome, "audiobooks") {
		t.Fatalf("unexpected library dir: %q", cfg.Paths.LibraryDir)
	}
	if cfg.Paths.TempDir != filepath.Join(tempHome, ".local", "share", "bindery", "tmp") {
		t.Fatalf("unexpected temp dir: %q", cfg.Paths.TempDir)
	}
	if cfg.Jobs.MaxParallelDownloads != 2 || cfg.Jobs.TotalProcessingCores != 2 {
		t.Fatalf("unexpected pool sizes %+v", cfg.Jobs)
	}
	if cfg.BookTimeout().Seconds() != 7200 {
		t.Fatalf("unexpected book timeout %v", cfg.BookTimeout())
	}
	if !cfg.Tasks.AutoProcessNew || !cfg.Tasks.AutoProcessMissing || cfg.Tasks.AutoProcessError {
		t.Fatalf("unexpected task defaults %+v", cfg.Tasks)
	}
	if !cfg.Tasks.ProcessNewOnSync || cfg.Tasks.IsAutoProcessEnabled {
		t.Fatalf("unexpected sync chaining defaults %+v", cfg.Tasks)
	}
	if cfg.Sync.DefaultMode != config.SyncModeDeep {
		t.Fatalf("unexpected sync mode %q", cfg.Sync.DefaultMode)
	}
	if cfg.Bitrate() != "128k" {
		t.Fatalf("unexpected bitrate %q", cfg.Bitrate())
	}
	if cfg.Estimator.HistoryLength != 30 || cfg.Estimator.DefaultRate != 10 {
		t.Fatalf("unexpected estimator defaults %+v", cfg.Estimator)
	}
	if cfg.DatabasePath() != filepath.Join(tempHome, ".local", "share", "bindery", "bindery.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
}

func TestLoadCustomConfigNormalizesValues(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(t.TempDir(), "config.toml")
	payload := map[string]any{
		"paths":      map[string]any{"library_dir": "~/books"},
		"jobs":       map[string]any{"max_parallel_downloads": 4},
		"conversion": map[string]any{"quality": "low"},
		"sync":       map[string]any{"default_mode": "fast"},
		"logging":    map[string]any{"format": "JSON"},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected explicit path to resolve, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.LibraryDir != filepath.Join(tempHome, "books") {
		t.Fatalf("unexpected library dir %q", cfg.Paths.LibraryDir)
	}
	if cfg.Jobs.MaxParallelDownloads != 4 {
		t.Fatalf("expected override, got %d", cfg.Jobs.MaxParallelDownloads)
	}
	if cfg.Jobs.TotalProcessingCores != 2 {
		t.Fatalf("expected untouched default, got %d", cfg.Jobs.TotalProcessingCores)
	}
	if cfg.Conversion.Quality != "Low" || cfg.Bitrate() != "64k" {
		t.Fatalf("expected canonical quality, got %q/%q", cfg.Conversion.Quality, cfg.Bitrate())
	}
	if cfg.Sync.DefaultMode != config.SyncModeFast {
		t.Fatalf("unexpected sync mode %q", cfg.Sync.DefaultMode)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("unexpected log format %q", cfg.Logging.Format)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	library := t.TempDir()
	t.Setenv("BINDERY_LIBRARY_DIR", library)
	t.Setenv("BINDERY_REDIS_ADDR", "localhost:6379")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.LibraryDir != library {
		t.Fatalf("expected env library dir, got %q", cfg.Paths.LibraryDir)
	}
	if cfg.Estimator.Backend != config.EstimatorBackendRedis || cfg.Estimator.RedisAddr != "localhost:6379" {
		t.Fatalf("expected redis estimator from env, got %+v", cfg.Estimator)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"downloads", func(c *config.Config) { c.Jobs.MaxParallelDownloads = 0 }, "jobs.max_parallel_downloads"},
		{"cores", func(c *config.Config) { c.Jobs.TotalProcessingCores = -1 }, "jobs.total_processing_cores"},
		{"quality", func(c *config.Config) { c.Conversion.Quality = "Ultra" }, "conversion.quality"},
		{"sync", func(c *config.Config) { c.Sync.DefaultMode = "SLOW" }, "sync.default_mode"},
		{"template", func(c *config.Config) { c.Naming.Template = "{author}" }, "naming.template"},
		{"redis", func(c *config.Config) { c.Estimator.Backend = config.EstimatorBackendRedis }, "estimator.redis_addr"},
		{"format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"ntfy", func(c *config.Config) { c.Notifications.NtfyTopic = "ntfy.sh/books" }, "notifications.ntfy_topic"},
		{"ntfy timeout", func(c *config.Config) { c.Notifications.RequestTimeoutSeconds = -5 }, "notifications.request_timeout_seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	def := config.Default()
	if cfg.Naming.Template != def.Naming.Template || cfg.Jobs != def.Jobs || cfg.Tasks != def.Tasks {
		t.Fatalf("sample diverges from defaults: %+v", cfg)
	}
}

func TestHolderNotifiesListeners(t *testing.T) {
	def := config.Default()
	holder := config.NewHolder(&def)
	var seen *config.Config
	holder.OnChange(func(cfg *config.Config) { seen = cfg })

	next := config.Default()
	next.Jobs.MaxParallelDownloads = 5
	holder.Replace(&next)

	if holder.Current().Jobs.MaxParallelDownloads != 5 {
		t.Fatalf("expected replaced config")
	}
	if seen != &next {
		t.Fatalf("expected listener to receive new config")
	}
	holder.Replace(nil)
	if holder.Current() != &next {
		t.Fatalf("nil replace should be ignored")
	}
}
