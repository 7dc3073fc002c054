package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"bindery/internal/logging"
	"bindery/internal/services"
	"bindery/internal/services/ffmpeg"
)

// ChunkFileName names the encoded output for chunk index.
func ChunkFileName(index int) string {
	return fmt.Sprintf("chunk_%03d.m4b", index)
}

// Encode re-encodes one chapter of the prepared audio into scratchDir.
func (c *Converter) Encode(ctx context.Context, asin string, jobID int64, scratchDir string, chunk Chunk, prepared *Prepared) (string, error) {
	if prepared == nil {
		return "", services.Wrap(services.ErrEncode, "encode", "", asin, errors.New("book was not prepared"))
	}
	ctx = services.WithASIN(services.WithJobID(ctx, jobID), asin)
	output := filepath.Join(scratchDir, ChunkFileName(chunk.Index))
	err := c.ffmpeg.EncodeSegment(ctx, ffmpeg.Segment{
		Input:           prepared.AudioFile,
		DecryptionArgs:  prepared.DecryptionArgs,
		StartSeconds:    chunk.StartSeconds,
		DurationSeconds: chunk.DurationSeconds,
		Bitrate:         c.bitrate,
		Output:          output,
	})
	if err != nil {
		return "", services.Wrap(services.ErrEncode, "encode", fmt.Sprintf("chunk %d/%d", chunk.Index+1, chunk.Total), asin, err)
	}
	if _, err := os.Stat(output); err != nil {
		return "", services.Wrap(services.ErrEncode, "encode", "verify output", asin, err)
	}
	logging.WithContext(ctx, c.logger).Debug("chunk encoded",
		logging.Int("chunk", chunk.Index),
		logging.Int("total", chunk.Total),
	)
	return output, nil
}
