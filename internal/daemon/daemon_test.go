package daemon_test

import (
	"context"
	"net/http"
	"testing"

	"bindery/internal/config"
	"bindery/internal/daemon"
	"bindery/internal/jobs"
	"bindery/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	holder := config.NewHolder(cfg)
	manager, err := jobs.New(jobs.Options{Store: st, Settings: holder})
	if err != nil {
		t.Fatalf("jobs.New: %v", err)
	}
	t.Cleanup(manager.Close)
	d, err := daemon.New(daemon.Options{Settings: holder, Store: st, Jobs: manager})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	d := newDaemon(t, cfg)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.ActiveJobID != nil || status.APIAddress == "" {
		t.Fatalf("unexpected status: %+v", status)
	}

	resp, err := http.Get("http://" + status.APIAddress + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("api status code = %d", resp.StatusCode)
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	first := newDaemon(t, cfg)
	second := newDaemon(t, cfg)

	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected second daemon to be refused the lock")
	}
	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
}

func TestRequestShutdown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	d.RequestShutdown()
	d.RequestShutdown()
	select {
	case <-d.ShutdownRequested():
	default:
		t.Fatal("shutdown channel not closed")
	}
}
