package library

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"bindery/internal/logging"
	"bindery/internal/services/audible"
)

// ThumbnailName is the file served at /covers/<asin>_thumb.jpg.
func ThumbnailName(asin string) string { return asin + "_thumb.jpg" }

func originalCoverName(asin string) string { return asin + "_original.jpg" }

// ensureCover downloads and thumbnails the cover once per book. Failures are
// logged and never fail the sync.
func (s *Syncer) ensureCover(ctx context.Context, item audible.Item) {
	url := item.ProductImages["500"]
	if url == "" || s.cfg == nil || s.cfg.Paths.CoversDir == "" {
		return
	}
	thumb := filepath.Join(s.cfg.Paths.CoversDir, ThumbnailName(item.ASIN))
	if _, err := os.Stat(thumb); err == nil {
		return
	}
	original := filepath.Join(s.cfg.Paths.CoversDir, originalCoverName(item.ASIN))
	err := s.downloadCover(ctx, url, original)
	if err == nil {
		err = s.ffmpeg.Thumbnail(ctx, original, thumb, thumbnailSize)
	}
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "could not process cover", "cover_failed",
			logging.String(logging.FieldASIN, item.ASIN),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the next sync retries the download"),
			logging.String(logging.FieldImpact, "book is shown without artwork"),
		)
	}
}

func (s *Syncer) downloadCover(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cover download: unexpected status %s", resp.Status)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
