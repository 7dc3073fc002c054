package store_test

import (
	"context"
	"errors"
	"testing"

	"bindery/internal/store"
	"bindery/internal/testsupport"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return testsupport.MustOpenStore(t, cfg)
}

func TestCreateJobResetsRetryCount(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	testsupport.SeedBook(t, st, "B001", "Alpha", store.BookNew)
	if err := st.MarkBookError(ctx, "B001", "boom"); err != nil {
		t.Fatalf("MarkBookError: %v", err)
	}
	book, err := st.GetBook(ctx, "B001")
	if err != nil || book == nil {
		t.Fatalf("GetBook: %v %v", book, err)
	}
	if book.RetryCount != 1 || book.Status != store.BookError {
		t.Fatalf("unexpected book after error: %+v", book)
	}

	job, err := st.CreateJob(ctx, store.JobKindDownload, `{"asins":["B001"]}`, []string{"B001", "B001"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != store.JobQueued || job.ID <= 0 {
		t.Fatalf("unexpected job: %+v", job)
	}
	items, err := st.JobItems(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobItems: %v", err)
	}
	if len(items) != 1 || items[0].Status != store.ItemQueued {
		t.Fatalf("expected one queued item, got %+v", items)
	}
	book, _ = st.GetBook(ctx, "B001")
	if book.RetryCount != 0 {
		t.Fatalf("retry_count = %d, want 0", book.RetryCount)
	}

	active, err := st.ActiveJobs(ctx)
	if err != nil {
		t.Fatalf("ActiveJobs: %v", err)
	}
	if len(active) != 1 || active[0].ID != job.ID {
		t.Fatalf("unexpected active jobs: %+v", active)
	}
}

func TestSyncJobKeepsRetryCount(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	testsupport.SeedBook(t, st, "B001", "Alpha", store.BookNew)
	_ = st.MarkBookError(ctx, "B001", "boom")
	if _, err := st.CreateJob(ctx, store.JobKindSync, "", []string{"B001"}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	book, _ := st.GetBook(ctx, "B001")
	if book.RetryCount != 1 {
		t.Fatalf("sync job changed retry_count to %d", book.RetryCount)
	}
}

func TestFinishedJobIsTerminal(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	job, err := st.CreateJob(ctx, store.JobKindSync, "{}", nil)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.SetJobStatus(ctx, job.ID, store.JobRunning); err != nil {
		t.Fatalf("SetJobStatus: %v", err)
	}
	if err := st.FinishJob(ctx, job.ID, store.JobCompleted); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}
	if err := st.FinishJob(ctx, job.ID, store.JobFailed); !errors.Is(err, store.ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
	if err := st.SetJobStatus(ctx, job.ID, store.JobRunning); !errors.Is(err, store.ErrTerminal) {
		t.Fatalf("expected ErrTerminal on status change, got %v", err)
	}
	if err := st.FinishJob(ctx, job.ID, store.JobRunning); err == nil {
		t.Fatal("expected error finishing with a non-terminal status")
	}
	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != store.JobCompleted || got.EndTime == nil {
		t.Fatalf("unexpected finished job: %+v", got)
	}
	missing, err := st.GetJob(ctx, job.ID+100)
	if err != nil || missing != nil {
		t.Fatalf("expected nil job, got %+v %v", missing, err)
	}
}

func TestItemStatusIsStickyOnceTerminal(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	job, err := st.CreateJob(ctx, store.JobKindDownload, "{}", []string{"B001", "B002"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	changed, err := st.SetItemStatus(ctx, job.ID, "B001", store.ItemProcessing, "")
	if err != nil || !changed {
		t.Fatalf("SetItemStatus processing: %v %v", changed, err)
	}
	if changed, _ := st.SetItemStatus(ctx, job.ID, "B001", store.ItemCompleted, "done"); !changed {
		t.Fatal("expected completion to apply")
	}
	if changed, _ := st.SetItemStatus(ctx, job.ID, "B001", store.ItemFailed, "late"); changed {
		t.Fatal("terminal item changed status")
	}

	cancelled, err := st.CancelQueuedItems(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelQueuedItems: %v", err)
	}
	if cancelled != 1 {
		t.Fatalf("cancelled %d items, want 1", cancelled)
	}
	items, _ := st.JobItems(ctx, job.ID)
	if items[0].Status != store.ItemCompleted || items[0].Log != "done" {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].Status != store.ItemCancelled {
		t.Fatalf("unexpected second item: %+v", items[1])
	}
}

func TestBooksForAutoJobSelection(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	testsupport.SeedBook(t, st, "B003", "Charlie", store.BookNew)
	testsupport.SeedBook(t, st, "B001", "Alpha", store.BookMissing)
	testsupport.SeedBook(t, st, "B002", "Bravo", store.BookError)
	testsupport.SeedBook(t, st, "B004", "Delta", store.BookError)
	testsupport.SeedBook(t, st, "B005", "Echo", store.BookDownloaded)
	if err := st.MarkBookError(ctx, "B004", "failed twice"); err != nil {
		t.Fatalf("MarkBookError: %v", err)
	}

	books, err := st.BooksForAutoJob(ctx, store.AutoSelection{New: true, Missing: true, Error: true})
	if err != nil {
		t.Fatalf("BooksForAutoJob: %v", err)
	}
	var got []string
	for _, book := range books {
		got = append(got, book.ASIN)
	}
	want := []string{"B001", "B002", "B003"}
	if len(got) != len(want) {
		t.Fatalf("selection = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("selection = %v, want %v", got, want)
		}
	}

	none, err := st.BooksForAutoJob(ctx, store.AutoSelection{})
	if err != nil || len(none) != 0 {
		t.Fatalf("empty selection returned %v %v", none, err)
	}
}

func TestUpsertBookPreservesStatus(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	inserted, err := st.UpsertBook(ctx, store.Book{ASIN: "B001", Title: "Old", Author: "A", RuntimeMin: 10})
	if err != nil || !inserted {
		t.Fatalf("first upsert: %v %v", inserted, err)
	}
	if err := st.MarkBookDownloaded(ctx, "B001", "/library/a.m4b"); err != nil {
		t.Fatalf("MarkBookDownloaded: %v", err)
	}
	inserted, err = st.UpsertBook(ctx, store.Book{ASIN: "B001", Title: "New", Author: "A", RuntimeMin: 12, Status: store.BookNew})
	if err != nil || inserted {
		t.Fatalf("second upsert: %v %v", inserted, err)
	}
	book, _ := st.GetBook(ctx, "B001")
	if book.Title != "New" || book.RuntimeMin != 12 {
		t.Fatalf("metadata not refreshed: %+v", book)
	}
	if book.Status != store.BookDownloaded || book.Filepath != "/library/a.m4b" {
		t.Fatalf("status or path overwritten: %+v", book)
	}
	if _, err := st.UpsertBook(ctx, store.Book{}); err == nil {
		t.Fatal("expected error for empty asin")
	}
}

func TestCleanupStaleJobs(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	running, _ := st.CreateJob(ctx, store.JobKindDownload, "{}", []string{"B001", "B002", "B003"})
	_ = st.SetJobStatus(ctx, running.ID, store.JobRunning)
	_, _ = st.SetItemStatus(ctx, running.ID, "B001", store.ItemCompleted, "")
	_, _ = st.SetItemStatus(ctx, running.ID, "B002", store.ItemProcessing, "")
	queued, _ := st.CreateJob(ctx, store.JobKindSync, "{}", nil)
	done, _ := st.CreateJob(ctx, store.JobKindSync, "{}", nil)
	_ = st.FinishJob(ctx, done.ID, store.JobCompleted)

	result, err := st.CleanupStaleJobs(ctx)
	if err != nil {
		t.Fatalf("CleanupStaleJobs: %v", err)
	}
	if result.Jobs != 2 || result.Items != 2 {
		t.Fatalf("unexpected cleanup result: %+v", result)
	}
	for _, id := range []int64{running.ID, queued.ID} {
		job, _ := st.GetJob(ctx, id)
		if job.Status != store.JobFailed || job.EndTime == nil {
			t.Fatalf("job %d not failed: %+v", id, job)
		}
	}
	items, _ := st.JobItems(ctx, running.ID)
	if items[0].Status != store.ItemCompleted {
		t.Fatalf("completed item changed: %+v", items[0])
	}
	for _, item := range items[1:] {
		if item.Status != store.ItemFailed || item.Log != store.RestartFailureLog {
			t.Fatalf("stale item not failed: %+v", item)
		}
	}
	active, _ := st.ActiveJobs(ctx)
	if len(active) != 0 {
		t.Fatalf("active jobs remain: %+v", active)
	}
}

func TestBookStatsIncludesEveryStatus(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	testsupport.SeedBook(t, st, "B001", "Alpha", store.BookNew)
	testsupport.SeedBook(t, st, "B002", "Bravo", store.BookNew)
	testsupport.SeedBook(t, st, "B003", "Charlie", store.BookDownloaded)

	stats, err := st.BookStats(ctx)
	if err != nil {
		t.Fatalf("BookStats: %v", err)
	}
	if stats[store.BookNew] != 2 || stats[store.BookDownloaded] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
	if count, ok := stats[store.BookMissing]; !ok || count != 0 {
		t.Fatalf("missing status absent: %v", stats)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	first, _ := st.CreateJob(ctx, store.JobKindSync, "{}", nil)
	second, _ := st.CreateJob(ctx, store.JobKindSync, "{}", nil)
	jobs, err := st.ListJobs(ctx, 1)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != second.ID {
		t.Fatalf("ListJobs(1) = %+v, want job %d", jobs, second.ID)
	}
	all, _ := st.ListJobs(ctx, 0)
	if len(all) != 2 || all[1].ID != first.ID {
		t.Fatalf("ListJobs(0) = %+v", all)
	}
}
