package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"bindery/internal/fileutil"
	"bindery/internal/logging"
	"bindery/internal/services"
	"bindery/internal/services/ffmpeg"
)

const (
	// MergeListName is the ffmpeg concat list written into the scratch dir.
	MergeListName = "mergelist.txt"
	mergedName    = "final.m4b"
)

// Merge concatenates chunks in the given order, attaches cover and chapter
// metadata, and moves the result to finalPath.
func (c *Converter) Merge(ctx context.Context, asin string, jobID int64, scratchDir, finalPath string, prepared *Prepared, chunks []string) error {
	if prepared == nil {
		return services.Wrap(services.ErrMerge, "merge", "", asin, errors.New("book was not prepared"))
	}
	if len(chunks) == 0 {
		return services.Wrap(services.ErrMerge, "merge", "", asin, errors.New("no chunks to merge"))
	}
	ctx = services.WithASIN(services.WithJobID(ctx, jobID), asin)
	logger := logging.WithContext(ctx, c.logger)

	listPath := filepath.Join(scratchDir, MergeListName)
	if err := os.WriteFile(listPath, []byte(mergeList(chunks)), 0o644); err != nil {
		return services.Wrap(services.ErrMerge, "merge", "write list", asin, err)
	}
	err := c.ffmpeg.ConcatChunks(ctx, ffmpeg.Concat{
		Dir:         scratchDir,
		ListFile:    MergeListName,
		CoverFile:   prepared.CoverFile,
		ChapterFile: prepared.ChapterFile,
		Output:      mergedName,
	})
	if err != nil {
		return services.Wrap(services.ErrMerge, "merge", "concat", asin, err)
	}
	if err := fileutil.MoveFile(filepath.Join(scratchDir, mergedName), finalPath); err != nil {
		return services.Wrap(services.ErrMerge, "merge", "move to library", asin, err)
	}
	logger.Info("book merged", logging.String("path", finalPath), logging.Int("chunks", len(chunks)))
	return nil
}

func mergeList(chunks []string) string {
	var b strings.Builder
	for _, chunk := range chunks {
		name := strings.ReplaceAll(filepath.Base(chunk), "'", `'\''`)
		b.WriteString("file '")
		b.WriteString(name)
		b.WriteString("'\n")
	}
	return b.String()
}
