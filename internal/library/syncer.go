package library

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bindery/internal/config"
	"bindery/internal/logging"
	"bindery/internal/services"
	"bindery/internal/services/audible"
	"bindery/internal/services/ffmpeg"
	"bindery/internal/store"
)

// Mode selects how much work a sync does.
type Mode string

const (
	ModeFast Mode = config.SyncModeFast
	ModeDeep Mode = config.SyncModeDeep
)

// ParseMode accepts FAST or DEEP in any case.
func ParseMode(value string) (Mode, bool) {
	switch Mode(strings.ToUpper(strings.TrimSpace(value))) {
	case ModeFast:
		return ModeFast, true
	case ModeDeep:
		return ModeDeep, true
	default:
		return "", false
	}
}

const (
	defaultPageSize = 1000
	thumbnailSize   = 200
	progressEvery   = 5
)

// ProgressFunc receives sync progress. stage is empty for the bracketing
// Initializing update.
type ProgressFunc func(statusText string, progress int, stage string)

// Summary reports what a sync changed.
type Summary struct {
	Total          int `json:"total"`
	New            int `json:"new"`
	Updated        int `json:"updated"`
	MarkedMissing  int `json:"marked_missing"`
	FixedUntracked int `json:"fixed_untracked"`
	FilesScanned   int `json:"files_scanned"`
	CacheHits      int `json:"cache_hits"`
}

// Catalog is the subset of the store a sync writes.
type Catalog interface {
	UpsertBook(ctx context.Context, book store.Book) (bool, error)
	GetBook(ctx context.Context, asin string) (*store.Book, error)
	DownloadedBooks(ctx context.Context) ([]*store.Book, error)
	MarkBookMissing(ctx context.Context, asin string) error
	MarkBookDownloaded(ctx context.Context, asin, path string) error
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithHTTPClient replaces the client used for cover downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Syncer) {
		if client != nil {
			s.http = client
		}
	}
}

// WithPageSize overrides the library page size.
func WithPageSize(size int) Option {
	return func(s *Syncer) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Syncer runs library syncs.
type Syncer struct {
	cfg      *config.Config
	catalog  Catalog
	audible  *audible.Client
	ffmpeg   *ffmpeg.Client
	http     *http.Client
	pageSize int
	logger   *slog.Logger
}

// NewSyncer constructs a syncer.
func NewSyncer(cfg *config.Config, catalog Catalog, audibleClient *audible.Client, ffmpegClient *ffmpeg.Client, opts ...Option) *Syncer {
	s := &Syncer{
		cfg:      cfg,
		catalog:  catalog,
		audible:  audibleClient,
		ffmpeg:   ffmpegClient,
		http:     &http.Client{Timeout: 30 * time.Second},
		pageSize: defaultPageSize,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "library")
	return s
}

// Sync runs a sync in mode and returns what changed.
func (s *Syncer) Sync(ctx context.Context, mode Mode, progress ProgressFunc) (Summary, error) {
	if progress == nil {
		progress = func(string, int, string) {}
	}
	if mode != ModeFast {
		mode = ModeDeep
	}
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("library sync started", logging.String("mode", string(mode)))

	var summary Summary
	progress("Initializing...", 2, "")
	if err := s.fetch(ctx, mode, progress, &summary); err != nil {
		progress("Error: API fetch failed", 100, "")
		return summary, err
	}
	if mode == ModeFast {
		logger.Info("fast sync complete",
			logging.Int("total", summary.Total),
			logging.Int("new", summary.New),
			logging.Int("updated", summary.Updated),
		)
		return summary, nil
	}

	found, err := s.scan(ctx, progress, &summary)
	if err != nil {
		progress(fmt.Sprintf("Error: %v", err), 100, "")
		return summary, err
	}
	if err := s.reconcile(ctx, found, progress, &summary); err != nil {
		progress(fmt.Sprintf("Error: %v", err), 100, "")
		return summary, err
	}
	progress("Finishing up...", 100, stageReconcile)
	logger.Info("library sync complete",
		logging.String(logging.FieldEventType, "sync_complete"),
		logging.Int("total", summary.Total),
		logging.Int("new", summary.New),
		logging.Int("updated", summary.Updated),
		logging.Int("marked_missing", summary.MarkedMissing),
		logging.Int("fixed_untracked", summary.FixedUntracked),
	)
	return summary, nil
}

const (
	stageFetchOnly = "Phase 1/1: Fetching from Audible"
	stageFetch     = "Phase 1/3: Fetching from Audible"
	stageScan      = "Phase 2/3: Scanning Filesystem"
	stageReconcile = "Phase 3/3: Reconciling Database"
)

func (s *Syncer) fetch(ctx context.Context, mode Mode, progress ProgressFunc, summary *Summary) error {
	stage, span := stageFetch, 40
	if mode == ModeFast {
		stage, span = stageFetchOnly, 90
	}
	progress("Fetching library from Audible...", 5, stage)

	var items []audible.Item
	for page := 1; ; page++ {
		batch, err := s.audible.LibraryPage(ctx, page, s.pageSize)
		if err != nil {
			return services.Wrap(services.ErrExternalTool, "sync", "fetch library", "could not fetch library from Audible API", err)
		}
		if len(batch) == 0 {
			break
		}
		items = append(items, batch...)
	}

	total := len(items)
	summary.Total = total
	for i, item := range items {
		done := i + 1
		if done%progressEvery == 0 || done == total {
			progress(fmt.Sprintf("Processing book %d/%d", done, total), 5+done*span/total, stage)
		}
		if item.ASIN == "" {
			continue
		}
		s.ensureCover(ctx, item)
		inserted, err := s.catalog.UpsertBook(ctx, bookFromItem(item))
		if err != nil {
			return fmt.Errorf("upsert %s: %w", item.ASIN, err)
		}
		if inserted {
			summary.New++
		} else {
			summary.Updated++
		}
	}
	return nil
}

func bookFromItem(item audible.Item) store.Book {
	book := store.Book{
		ASIN:        item.ASIN,
		Title:       item.Title,
		Author:      item.FirstAuthor("N/A"),
		Narrator:    item.FirstNarrator("N/A"),
		Series:      "N/A",
		RuntimeMin:  item.RuntimeLengthMin,
		ReleaseDate: item.ReleaseDate,
		CoverURL:    item.ProductImages["500"],
		Status:      store.BookNew,
	}
	if book.Title == "" {
		book.Title = "N/A"
	}
	if len(item.Series) > 0 {
		book.Series = item.Series[0].Title
		book.SeriesPart = item.Series[0].Sequence
	}
	if added, err := time.Parse(time.RFC3339, item.LibraryStatus.DateAdded); err == nil {
		book.DateAdded = added
	}
	return book
}
