package library_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bindery/internal/config"
	"bindery/internal/library"
	"bindery/internal/services"
	"bindery/internal/services/audible"
	"bindery/internal/services/command"
	"bindery/internal/services/ffmpeg"
	"bindery/internal/store"
	"bindery/internal/testsupport"
)

type progressEvent struct {
	text     string
	progress int
	stage    string
}

type harness struct {
	cfg    *config.Config
	store  *store.Store
	tools  *testsupport.FakeTools
	syncer *library.Syncer
	events []progressEvent
}

func newHarness(t *testing.T, books ...testsupport.FakeBook) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	tools := testsupport.NewFakeTools(books...)
	audibleClient, err := audible.New("audible", cfg.Paths.AudibleHome, audible.WithExecutor(tools))
	if err != nil {
		t.Fatalf("audible.New: %v", err)
	}
	ffmpegClient, err := ffmpeg.New("ffmpeg", "ffprobe", ffmpeg.WithExecutor(tools))
	if err != nil {
		t.Fatalf("ffmpeg.New: %v", err)
	}
	st := testsupport.MustOpenStore(t, cfg)
	return &harness{
		cfg:    cfg,
		store:  st,
		tools:  tools,
		syncer: library.NewSyncer(cfg, st, audibleClient, ffmpegClient),
	}
}

func (h *harness) sync(t *testing.T, mode library.Mode) library.Summary {
	t.Helper()
	h.events = nil
	summary, err := h.syncer.Sync(context.Background(), mode, func(text string, progress int, stage string) {
		h.events = append(h.events, progressEvent{text, progress, stage})
	})
	if err != nil {
		t.Fatalf("Sync(%s): %v", mode, err)
	}
	return summary
}

func TestFastSyncPagesAndUpserts(t *testing.T) {
	cover := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer cover.Close()

	h := newHarness(t,
		testsupport.FakeBook{ASIN: "B001", Title: "Alpha", Author: "Ann", Series: "Saga", RuntimeMin: 90, CoverURL: cover.URL + "/B001.jpg"},
		testsupport.FakeBook{ASIN: "B002", Title: "Bravo", RuntimeMin: 30},
		testsupport.FakeBook{ASIN: "B003", Title: "Charlie", Author: "Cy", Narrator: "Nia"},
	)
	h.tools.PageSize = 2

	summary := h.sync(t, library.ModeFast)
	if summary.Total != 3 || summary.New != 3 || summary.Updated != 0 {
		t.Fatalf("first summary = %+v", summary)
	}
	if h.tools.CallsMatching("audible", "api") != 3 {
		t.Fatalf("expected two full pages and one empty page, got %d calls", h.tools.CallsMatching("audible", "api"))
	}
	first, last := h.events[0], h.events[len(h.events)-1]
	if first.text != "Initializing..." || first.progress != 2 {
		t.Fatalf("first event = %+v", first)
	}
	if last.text != "Processing book 3/3" || last.progress != 95 || last.stage != "Phase 1/1: Fetching from Audible" {
		t.Fatalf("last event = %+v", last)
	}

	book, _ := h.store.GetBook(context.Background(), "B002")
	if book.Author != "N/A" || book.Series != "N/A" || book.Status != store.BookNew {
		t.Fatalf("fallback fields not applied: %+v", book)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Paths.CoversDir, library.ThumbnailName("B001"))); err != nil {
		t.Fatalf("thumbnail missing: %v", err)
	}

	summary = h.sync(t, library.ModeFast)
	if summary.New != 0 || summary.Updated != 3 {
		t.Fatalf("second summary = %+v", summary)
	}
}

func TestDeepSyncReconcilesFiles(t *testing.T) {
	h := newHarness(t,
		testsupport.FakeBook{ASIN: "B001", Title: "Alpha", Author: "Ann"},
		testsupport.FakeBook{ASIN: "B002", Title: "Bravo", Author: "Bo"},
	)
	ctx := context.Background()
	if _, err := h.store.UpsertBook(ctx, store.Book{
		ASIN: "B001", Title: "Alpha", Author: "Ann", Status: store.BookDownloaded, Filepath: "/gone/B001.m4b",
	}); err != nil {
		t.Fatalf("UpsertBook: %v", err)
	}

	tagged := filepath.Join(h.cfg.Paths.LibraryDir, "Bo", "Bravo", "Bo - Bravo.m4b")
	untagged := filepath.Join(h.cfg.Paths.LibraryDir, "misc", "untagged.m4b")
	testsupport.WriteFile(t, tagged, 16)
	testsupport.WriteFile(t, untagged, 16)
	testsupport.WriteFile(t, filepath.Join(h.cfg.Paths.LibraryDir, "notes.txt"), 4)
	h.tools.TagFile(tagged, "B002")

	summary := h.sync(t, library.ModeDeep)
	if summary.MarkedMissing != 1 || summary.FixedUntracked != 1 || summary.FilesScanned != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	missing, _ := h.store.GetBook(ctx, "B001")
	if missing.Status != store.BookMissing || missing.Filepath != "" {
		t.Fatalf("B001 = %+v", missing)
	}
	adopted, _ := h.store.GetBook(ctx, "B002")
	if adopted.Status != store.BookDownloaded || adopted.Filepath != tagged {
		t.Fatalf("B002 = %+v", adopted)
	}
	if last := h.events[len(h.events)-1]; last.text != "Finishing up..." || last.progress != 100 {
		t.Fatalf("last event = %+v", last)
	}

	cache, err := os.ReadFile(h.cfg.ScanCachePath())
	if err != nil {
		t.Fatalf("read scan cache: %v", err)
	}
	if !strings.Contains(string(cache), "|B002|"+tagged) || strings.Contains(string(cache), "untagged") {
		t.Fatalf("unexpected scan cache: %q", cache)
	}

	probesBefore := h.tools.CallsMatching("ffprobe", "")
	summary = h.sync(t, library.ModeDeep)
	if summary.CacheHits != 1 || summary.FixedUntracked != 0 || summary.MarkedMissing != 0 {
		t.Fatalf("second summary = %+v", summary)
	}
	if probes := h.tools.CallsMatching("ffprobe", "") - probesBefore; probes != 1 {
		t.Fatalf("second sync probed %d files, want only the untagged one", probes)
	}
}

func TestSyncFetchFailure(t *testing.T) {
	h := newHarness(t, testsupport.FakeBook{ASIN: "B001", Title: "Alpha"})
	h.tools.Fail = func(spec command.Spec) error {
		if spec.Args[0] == "api" {
			return errors.New("not authenticated")
		}
		return nil
	}
	var last string
	_, err := h.syncer.Sync(context.Background(), library.ModeDeep, func(text string, _ int, _ string) { last = text })
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if last != "Error: API fetch failed" {
		t.Fatalf("last progress = %q", last)
	}
}

func TestParseMode(t *testing.T) {
	if mode, ok := library.ParseMode(" fast "); !ok || mode != library.ModeFast {
		t.Fatalf("ParseMode(fast) = %q %v", mode, ok)
	}
	if _, ok := library.ParseMode("medium"); ok {
		t.Fatal("expected unknown mode to fail")
	}
}
