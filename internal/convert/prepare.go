package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/avast/retry-go/v4"

	"bindery/internal/logging"
	"bindery/internal/services"
	"bindery/internal/services/audible"
	"bindery/internal/services/command"
)

// ChapterFileName is the ffmpeg metadata file written into the scratch dir.
const ChapterFileName = "chapters.txt"

// Prepare downloads asin into scratchDir, resolves decryption, and writes the
// chapter metadata file.
func (c *Converter) Prepare(ctx context.Context, asin string, jobID int64, scratchDir string, progress ProgressFunc) (*Prepared, error) {
	if progress == nil {
		progress = noProgress
	}
	ctx = services.WithASIN(services.WithJobID(ctx, jobID), asin)
	logger := logging.WithContext(ctx, c.logger)
	logger.Info("preparing book assets", logging.String("scratch_dir", scratchDir))

	progress("Downloading...", 5)
	if err := c.download(ctx, asin, scratchDir, progress); err != nil {
		return nil, services.Wrap(services.ErrPrepare, "prepare", "download", asin, err)
	}
	logger.Info("download finished")

	progress("Preparing metadata...", 25)
	item, err := c.audible.LibraryItem(ctx, asin)
	if err != nil {
		return nil, services.Wrap(services.ErrPrepare, "prepare", "metadata", asin, err)
	}

	files, err := locateAssets(scratchDir)
	if err != nil {
		return nil, services.Wrap(services.ErrPrepare, "prepare", "locate assets", asin, err)
	}
	decryption, err := c.decryptionArgs(ctx, files)
	if err != nil {
		return nil, services.Wrap(services.ErrPrepare, "prepare", "decryption", asin, err)
	}
	chapters, err := readChapters(files.chapters)
	if err != nil {
		return nil, services.Wrap(services.ErrPrepare, "prepare", "chapters", asin, err)
	}

	book := bookInfo(item)
	book.Copyright = c.copyright(ctx, files.audio, decryption)

	chapterFile := filepath.Join(scratchDir, ChapterFileName)
	if err := os.WriteFile(chapterFile, []byte(chapterMetadata(asin, book, chapters)), 0o644); err != nil {
		return nil, services.Wrap(services.ErrPrepare, "prepare", "write chapter file", asin, err)
	}
	logger.Info("book assets ready",
		logging.Int("chapters", len(chapters)),
		logging.String("audio_file", filepath.Base(files.audio)),
	)

	return &Prepared{
		DecryptionArgs: decryption,
		AudioFile:      files.audio,
		CoverFile:      files.cover,
		ChapterFile:    chapterFile,
		Chapters:       chapters,
		Book:           book,
	}, nil
}

func (c *Converter) download(ctx context.Context, asin, scratchDir string, progress ProgressFunc) error {
	logger := logging.WithContext(ctx, c.logger)
	return retry.Do(
		func() error {
			return c.audible.Download(ctx, asin, scratchDir, c.coverSize, func(pct int) {
				progress(fmt.Sprintf("Downloading... %d%%", pct), 5+pct*20/100)
			})
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.downloadAttempts)),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !command.IsNotFound(err) && !errors.Is(err, context.Canceled)
		}),
		retry.OnRetry(func(n uint, err error) {
			logging.WarnWithContext(logger, "download attempt failed", "download_retry",
				logging.Int("attempt", int(n)+1),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check network access and audible-cli authentication"),
				logging.String(logging.FieldImpact, "download will be retried"),
			)
		}),
	)
}

type assetFiles struct {
	voucher  string
	audio    string
	cover    string
	chapters string
}

// locateAssets finds the downloaded files by extension. Audio, cover, and
// chapter list are required; the voucher is absent for legacy AAX books.
func locateAssets(dir string) (assetFiles, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return assetFiles{}, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var files assetFiles
	for _, name := range names {
		lower := strings.ToLower(name)
		path := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(lower, ".voucher"):
			setOnce(&files.voucher, path)
		case strings.HasSuffix(lower, ".aaxc"), strings.HasSuffix(lower, ".aax"):
			setOnce(&files.audio, path)
		case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".png"):
			setOnce(&files.cover, path)
		case strings.HasSuffix(lower, "-chapters.json"):
			files.chapters = path
		case strings.HasSuffix(lower, ".json"):
			setOnce(&files.chapters, path)
		}
	}
	var missing []string
	if files.audio == "" {
		missing = append(missing, "audio")
	}
	if files.cover == "" {
		missing = append(missing, "cover")
	}
	if files.chapters == "" {
		missing = append(missing, "chapter list")
	}
	if len(missing) > 0 {
		return files, fmt.Errorf("missing %s after download", strings.Join(missing, ", "))
	}
	return files, nil
}

func setOnce(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

type voucher struct {
	ContentLicense struct {
		LicenseResponse struct {
			Key string `json:"key"`
			IV  string `json:"iv"`
		} `json:"license_response"`
	} `json:"content_license"`
}

func (c *Converter) decryptionArgs(ctx context.Context, files assetFiles) ([]string, error) {
	if files.voucher != "" {
		data, err := os.ReadFile(files.voucher)
		if err != nil {
			return nil, err
		}
		var v voucher
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode voucher: %w", err)
		}
		key, iv := v.ContentLicense.LicenseResponse.Key, v.ContentLicense.LicenseResponse.IV
		if key == "" || iv == "" {
			return nil, errors.New("voucher has no key or iv")
		}
		return []string{"-audible_key", key, "-audible_iv", iv}, nil
	}
	if strings.HasSuffix(strings.ToLower(files.audio), ".aax") {
		activation, err := c.audible.ActivationBytes(ctx)
		if err != nil {
			return nil, err
		}
		return []string{"-activation_bytes", activation}, nil
	}
	return nil, errors.New("no voucher or AAX file found for decryption")
}

func readChapters(path string) ([]Chapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload struct {
		ContentMetadata struct {
			ChapterInfo struct {
				Chapters []Chapter `json:"chapters"`
			} `json:"chapter_info"`
		} `json:"content_metadata"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode chapter list: %w", err)
	}
	return payload.ContentMetadata.ChapterInfo.Chapters, nil
}

func (c *Converter) copyright(ctx context.Context, audio string, decryption []string) string {
	value, err := c.ffmpeg.FormatTag(ctx, audio, "copyright", decryption...)
	if err != nil {
		logging.WithContext(ctx, c.logger).Debug("copyright probe failed", logging.Error(err))
		return "Unknown"
	}
	if value == "" {
		return "Unknown"
	}
	return value
}

func bookInfo(item *audible.Item) BookInfo {
	info := BookInfo{
		Title:     item.Title,
		Authors:   item.AuthorNames(),
		Narrators: item.NarratorNames(),
		Summary:   item.Summary(),
	}
	if info.Title == "" {
		info.Title = "N/A"
	}
	if year, _, _ := strings.Cut(item.ReleaseDate, "-"); year != "" {
		info.Year = year
	}
	if len(item.Series) > 0 {
		info.Series = item.Series[0].Title
		info.SeriesPart = item.Series[0].Sequence
	}
	return info
}
