package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"bindery/internal/announcer"
	"bindery/internal/config"
	"bindery/internal/estimator"
	"bindery/internal/jobs"
	"bindery/internal/library"
	"bindery/internal/store"
	"bindery/internal/testsupport"
)

// blockingSyncer holds a SYNC job open until release is closed.
type blockingSyncer struct {
	release chan struct{}
}

func (b *blockingSyncer) Sync(ctx context.Context, _ library.Mode, _ library.ProgressFunc) (library.Summary, error) {
	select {
	case <-b.release:
		return library.Summary{}, nil
	case <-ctx.Done():
		return library.Summary{}, ctx.Err()
	}
}

type apiHarness struct {
	cfg     *config.Config
	store   *store.Store
	manager *jobs.Manager
	daemon  *Daemon
	server  *apiServer
	handler http.Handler
	syncer  *blockingSyncer
}

func newAPIHarness(t *testing.T, mutate ...func(*config.Config)) *apiHarness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	for _, fn := range mutate {
		fn(cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	st := testsupport.MustOpenStore(t, cfg)
	syncer := &blockingSyncer{release: make(chan struct{})}
	holder := config.NewHolder(cfg)
	ann := announcer.New(nil)
	manager, err := jobs.New(jobs.Options{Store: st, Syncer: syncer, Publisher: ann, Settings: holder})
	if err != nil {
		t.Fatalf("jobs.New: %v", err)
	}
	t.Cleanup(manager.Close)

	d, err := New(Options{
		Settings:  holder,
		Store:     st,
		Jobs:      manager,
		Estimator: estimator.New(estimator.NewFileHistory(cfg.RateCachePath(), nil), 30, 10, nil),
		Announcer: ann,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv, err := newAPIServer(cfg, d, nil)
	if err != nil || srv == nil {
		t.Fatalf("newAPIServer: %v %v", srv, err)
	}
	return &apiHarness{
		cfg: cfg, store: st, manager: manager, daemon: d,
		server: srv, handler: srv.routes(cfg), syncer: syncer,
	}
}

func (h *apiHarness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestAPIStartJobValidation(t *testing.T) {
	h := newAPIHarness(t)
	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown type", `{"job_type":"REBUILD"}`, "job_type"},
		{"missing type", `{}`, "job_type: required"},
		{"short asin", `{"job_type":"DOWNLOAD","asins":["B1"]}`, "asins"},
		{"bad mode", `{"job_type":"SYNC","sync_mode":"MEDIUM"}`, "sync_mode"},
		{"sync with asins", `{"job_type":"SYNC","asins":["B000000001"]}`, "not allowed"},
		{"unknown field", `{"job_type":"SYNC","force":true}`, "invalid JSON"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := h.do(t, http.MethodPost, "/api/jobs", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			resp := decode[map[string]string](t, w)
			if resp["kind"] != "validation" || !strings.Contains(resp["error"], tc.want) {
				t.Fatalf("unexpected error body: %v", resp)
			}
		})
	}
}

func TestAPIStartSyncConflictAndCancel(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/api/jobs", `{"job_type":"sync","sync_mode":"fast"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body %s", w.Code, w.Body.String())
	}
	started := decode[jobs.StartResult](t, w)
	if !started.Success || started.JobID == nil {
		t.Fatalf("start result = %+v", started)
	}

	w = h.do(t, http.MethodPost, "/api/jobs", `{"job_type":"SYNC"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("second start status = %d", w.Code)
	}
	if resp := decode[map[string]string](t, w); resp["kind"] != "conflict" || !strings.Contains(resp["error"], "already in progress") {
		t.Fatalf("conflict body = %v", resp)
	}

	if w = h.do(t, http.MethodPost, "/api/jobs/cancel", ""); w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", w.Code)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.manager.Wait(ctx, *started.JobID); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if w = h.do(t, http.MethodPost, "/api/jobs/cancel", ""); w.Code != http.StatusNotFound {
		t.Fatalf("cancel without job status = %d", w.Code)
	}

	w = h.do(t, http.MethodGet, "/api/jobs/"+jsonNumber(*started.JobID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("detail status = %d", w.Code)
	}
	detail := decode[JobDetail](t, w)
	if detail.Job.Status != store.JobCancelled || detail.Job.Kind != store.JobKindSync {
		t.Fatalf("detail = %+v", detail.Job)
	}

	w = h.do(t, http.MethodGet, "/api/jobs?limit=5", "")
	list := decode[map[string][]store.Job](t, w)
	if len(list["jobs"]) != 1 {
		t.Fatalf("jobs = %+v", list)
	}
}

func TestAPIEmptyDownloadReturnsNullJob(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(t, http.MethodPost, "/api/jobs", `{"job_type":"DOWNLOAD"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"job_id":null`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestAPIJobDetailErrors(t *testing.T) {
	h := newAPIHarness(t)
	if w := h.do(t, http.MethodGet, "/api/jobs/42", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/jobs/abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/jobs?limit=0", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", w.Code)
	}
}

func TestAPIBooksAndStats(t *testing.T) {
	h := newAPIHarness(t)
	testsupport.SeedBook(t, h.store, "B000000001", "Alpha", store.BookNew)
	testsupport.SeedBook(t, h.store, "B000000002", "Bravo", store.BookDownloaded)

	w := h.do(t, http.MethodGet, "/api/books?status=new", "")
	books := decode[map[string][]store.Book](t, w)
	if len(books["books"]) != 1 || books["books"][0].ASIN != "B000000001" {
		t.Fatalf("books = %+v", books)
	}
	if w = h.do(t, http.MethodGet, "/api/books?status=bogus", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter code = %d", w.Code)
	}
	stats := decode[map[string]int](t, h.do(t, http.MethodGet, "/api/stats", ""))
	if stats["NEW"] != 1 || stats["DOWNLOADED"] != 1 || stats["ERROR"] != 0 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestAPIEstimate(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(t, http.MethodGet, "/api/estimate?runtime_min=60", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	result := decode[EstimateResult](t, w)
	if result.EstimatedSeconds != 600 || result.Samples != 0 {
		t.Fatalf("estimate = %+v", result)
	}
	for _, target := range []string{"/api/estimate", "/api/estimate?runtime_min=x", "/api/estimate?runtime_min=0"} {
		if w := h.do(t, http.MethodGet, target, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("%s status = %d", target, w.Code)
		}
	}
}

func TestAPIEventsStream(t *testing.T) {
	h := newAPIHarness(t)
	h.server.keepalive = 20 * time.Millisecond
	server := httptest.NewServer(h.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	reader := bufio.NewReader(resp.Body)
	readLine := func() string {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		return strings.TrimRight(line, "\n")
	}
	if line := readLine(); line != ": connected" {
		t.Fatalf("first line = %q", line)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.daemon.announcer.Listeners() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.daemon.announcer.Update("B000000001", "Downloading...", 5)

	var sawEvent, sawData, sawKeepalive bool
	for !(sawEvent && sawData && sawKeepalive) {
		switch line := readLine(); {
		case line == "event: job_update":
			sawEvent = true
		case strings.HasPrefix(line, "data: "):
			var update announcer.JobUpdate
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &update); err != nil {
				t.Fatalf("decode data: %v", err)
			}
			if update.ASIN != "B000000001" || update.Progress != 5 {
				t.Fatalf("update = %+v", update)
			}
			sawData = true
		case line == ": keepalive":
			sawKeepalive = true
		}
	}
}

func TestAPIAuthToken(t *testing.T) {
	h := newAPIHarness(t, func(cfg *config.Config) { cfg.Paths.APIToken = "secret" })

	if w := h.do(t, http.MethodGet, "/api/stats", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("bearer status = %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/stats?token=secret", ""); w.Code != http.StatusOK {
		t.Fatalf("query token status = %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/stats?token=wrong", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", w.Code)
	}
}

func TestAPIRequestID(t *testing.T) {
	h := newAPIHarness(t)
	w := h.do(t, http.MethodGet, "/api/stats", "")
	if _, err := uuid.Parse(w.Header().Get(requestIDHeader)); err != nil {
		t.Fatalf("request id %q: %v", w.Header().Get(requestIDHeader), err)
	}

	supplied := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set(requestIDHeader, supplied)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Header().Get(requestIDHeader) != supplied {
		t.Fatalf("supplied request id not echoed")
	}
}

func TestAPICovers(t *testing.T) {
	h := newAPIHarness(t)
	name := library.ThumbnailName("B000000001")
	if err := os.WriteFile(filepath.Join(h.cfg.Paths.CoversDir, name), []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write cover: %v", err)
	}
	w := h.do(t, http.MethodGet, "/covers/"+name, "")
	if w.Code != http.StatusOK || w.Body.String() != "jpeg" {
		t.Fatalf("cover status = %d body %q", w.Code, w.Body.String())
	}
	if w := h.do(t, http.MethodGet, "/covers/", ""); w.Code != http.StatusNotFound {
		t.Fatalf("listing status = %d", w.Code)
	}
}

func TestStatusForError(t *testing.T) {
	h := newAPIHarness(t)
	if w := h.do(t, http.MethodGet, "/api/status", ""); w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	if got := statusForError(context.Canceled); got != http.StatusInternalServerError {
		t.Fatalf("unclassified error = %d", got)
	}
}

func jsonNumber(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}
