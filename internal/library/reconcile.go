package library

import (
	"context"
	"fmt"
	"os"
	"sort"

	"bindery/internal/store"
)

// reconcile marks vanished downloads MISSING and adopts files for books not
// yet recorded as DOWNLOADED.
func (s *Syncer) reconcile(ctx context.Context, found map[string]string, progress ProgressFunc, summary *Summary) error {
	progress("Reconciling database...", 95, stageReconcile)

	downloaded, err := s.catalog.DownloadedBooks(ctx)
	if err != nil {
		return fmt.Errorf("list downloaded books: %w", err)
	}
	for _, book := range downloaded {
		if book.Filepath != "" {
			if _, err := os.Stat(book.Filepath); err == nil {
				continue
			}
		}
		if err := s.catalog.MarkBookMissing(ctx, book.ASIN); err != nil {
			return fmt.Errorf("mark %s missing: %w", book.ASIN, err)
		}
		summary.MarkedMissing++
	}

	asins := make([]string, 0, len(found))
	for asin := range found {
		asins = append(asins, asin)
	}
	sort.Strings(asins)
	for _, asin := range asins {
		book, err := s.catalog.GetBook(ctx, asin)
		if err != nil {
			return fmt.Errorf("look up %s: %w", asin, err)
		}
		if book == nil || book.Status == store.BookDownloaded {
			continue
		}
		if err := s.catalog.MarkBookDownloaded(ctx, asin, found[asin]); err != nil {
			return fmt.Errorf("adopt %s: %w", asin, err)
		}
		summary.FixedUntracked++
	}
	return nil
}
