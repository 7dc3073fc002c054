package library

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"bindery/internal/fileutil"
	"bindery/internal/logging"
)

type cacheEntry struct {
	mtime string
	asin  string
}

// loadScanCache reads mtime|asin|path lines. A missing or unreadable cache
// is treated as empty.
func loadScanCache(path string) map[string]cacheEntry {
	cache := make(map[string]cacheEntry)
	f, err := os.Open(path)
	if err != nil {
		return cache
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(strings.TrimSpace(scanner.Text()), "|", 3)
		if len(parts) == 3 {
			cache[parts[2]] = cacheEntry{mtime: parts[0], asin: parts[1]}
		}
	}
	return cache
}

func saveScanCache(path string, lines []string) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return fileutil.WriteFileAtomic(path, []byte(b.String()), 0o644)
}

func listBooks(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipDir
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".m4b") {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// scan maps embedded ASINs to file paths under the library directory.
func (s *Syncer) scan(ctx context.Context, progress ProgressFunc, summary *Summary) (map[string]string, error) {
	progress("Scanning local files...", 50, stageScan)
	logger := logging.WithContext(ctx, s.logger)

	files, err := listBooks(s.cfg.Paths.LibraryDir)
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}
	cachePath := s.cfg.ScanCachePath()
	cache := loadScanCache(cachePath)

	found := make(map[string]string)
	lines := make([]string, 0, len(files))
	total := len(files)
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done := i + 1
		if done%progressEvery == 0 || done == total {
			progress(fmt.Sprintf("Scanning local files... (%d/%d)", done, total), 50+done*45/total, stageScan)
		}
		info, err := os.Stat(path)
		if err != nil {
			logging.WarnWithContext(logger, "could not stat library file", "scan_file_failed",
				logging.String("path", path), logging.Error(err))
			continue
		}
		mtime := strconv.FormatInt(info.ModTime().Unix(), 10)
		var asin string
		if entry, ok := cache[path]; ok && entry.mtime == mtime {
			asin = entry.asin
			summary.CacheHits++
		} else {
			asin, err = s.ffmpeg.FormatTag(ctx, path, "asin")
			if err != nil {
				logging.WarnWithContext(logger, "could not read asin tag", "scan_file_failed",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the file with ffprobe"),
					logging.String(logging.FieldImpact, "file is ignored by reconciliation"),
				)
				continue
			}
		}
		if asin == "" {
			continue
		}
		found[asin] = path
		lines = append(lines, mtime+"|"+asin+"|"+path)
	}
	summary.FilesScanned = total

	if err := saveScanCache(cachePath, lines); err != nil {
		logging.WarnWithContext(logger, "could not write scan cache", "scan_cache_failed",
			logging.String("path", cachePath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next deep sync probes every file again"),
		)
	}
	logger.Info("library scan complete",
		logging.Int("files", total),
		logging.Int("cache_hits", summary.CacheHits),
		logging.Int("tagged", len(found)),
	)
	return found, nil
}
