package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bindery/internal/config"
	"bindery/internal/logging"
)

func TestWatcherReloadsJobSettings(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[jobs]\nmax_parallel_downloads = 2\n")

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	holder := config.NewHolder(cfg)
	watcher, err := config.NewWatcher(path, holder, logging.NewNop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watcher.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "[jobs]\nmax_parallel_downloads = 6\n\n[paths]\nlibrary_dir = \"/elsewhere\"\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if holder.Current().Jobs.MaxParallelDownloads == 6 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	current := holder.Current()
	if current.Jobs.MaxParallelDownloads != 6 {
		t.Fatalf("expected reload to apply, got %d", current.Jobs.MaxParallelDownloads)
	}
	if current.Paths.LibraryDir != cfg.Paths.LibraryDir {
		t.Fatalf("expected paths pinned to %q, got %q", cfg.Paths.LibraryDir, current.Paths.LibraryDir)
	}
}

func TestWatcherIgnoresInvalidReload(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[jobs]\nmax_parallel_downloads = 3\n")
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	holder := config.NewHolder(cfg)
	watcher, err := config.NewWatcher(path, holder, logging.NewNop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watcher.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, "[jobs]\nmax_parallel_downloads = 0\n")
	time.Sleep(400 * time.Millisecond)

	if holder.Current().Jobs.MaxParallelDownloads != 3 {
		t.Fatalf("invalid reload should keep previous config")
	}
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
