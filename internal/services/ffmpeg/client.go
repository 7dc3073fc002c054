// Package ffmpeg wraps the ffmpeg and ffprobe invocations used to split,
// merge, and inspect audiobook files.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"bindery/internal/services/command"
)

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec command.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client runs ffmpeg and ffprobe.
type Client struct {
	ffmpeg  string
	ffprobe string
	exec    command.Executor
}

// New constructs a client for the given binaries.
func New(ffmpegBinary, ffprobeBinary string, opts ...Option) (*Client, error) {
	ffmpegBinary = strings.TrimSpace(ffmpegBinary)
	ffprobeBinary = strings.TrimSpace(ffprobeBinary)
	if ffmpegBinary == "" || ffprobeBinary == "" {
		return nil, errors.New("ffmpeg and ffprobe binaries required")
	}
	c := &Client{ffmpeg: ffmpegBinary, ffprobe: ffprobeBinary, exec: command.System{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Segment describes one slice of the source audio to re-encode.
type Segment struct {
	Input           string
	DecryptionArgs  []string
	StartSeconds    float64
	DurationSeconds float64
	Bitrate         string
	Output          string
}

// EncodeSegment re-encodes the segment to AAC without source metadata.
func (c *Client) EncodeSegment(ctx context.Context, seg Segment) error {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	args = append(args, seg.DecryptionArgs...)
	args = append(args,
		"-ss", formatSeconds(seg.StartSeconds),
		"-i", seg.Input,
		"-t", formatSeconds(seg.DurationSeconds),
		"-map", "0:a",
		"-c:a", "aac", "-b:a", seg.Bitrate,
		"-map_metadata", "-1",
		seg.Output,
	)
	if _, err := c.exec.Output(ctx, command.Spec{Binary: c.ffmpeg, Args: args}); err != nil {
		return fmt.Errorf("ffmpeg encode %s: %w", filepath.Base(seg.Output), err)
	}
	return nil
}

// Concat describes the final merge of encoded chunks.
type Concat struct {
	Dir         string
	ListFile    string
	CoverFile   string
	ChapterFile string
	Output      string
}

// ConcatChunks joins the chunks named in ListFile, attaching the cover and the
// chapter metadata without re-encoding.
func (c *Client) ConcatChunks(ctx context.Context, job Concat) error {
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", job.ListFile}
	inputs := 1
	coverInput, chapterInput := -1, -1
	if job.CoverFile != "" {
		args = append(args, "-i", job.CoverFile)
		coverInput = inputs
		inputs++
	}
	if job.ChapterFile != "" {
		args = append(args, "-i", job.ChapterFile)
		chapterInput = inputs
	}
	args = append(args, "-map", "0:a")
	if coverInput > 0 {
		args = append(args, "-map", strconv.Itoa(coverInput)+":v")
	}
	if chapterInput > 0 {
		idx := strconv.Itoa(chapterInput)
		args = append(args, "-map_metadata", idx, "-map_chapters", idx)
	}
	args = append(args, "-c", "copy", "-id3v2_version", "3")
	if coverInput > 0 {
		args = append(args,
			"-disposition:v", "attached_pic",
			"-metadata:s:v", "title=Album cover",
			"-metadata:s:v", "comment=Cover (front)",
		)
	}
	args = append(args, "-movflags", "+faststart+use_metadata_tags", job.Output)
	if _, err := c.exec.Output(ctx, command.Spec{Binary: c.ffmpeg, Args: args, Dir: job.Dir}); err != nil {
		return fmt.Errorf("ffmpeg merge: %w", err)
	}
	return nil
}

// Thumbnail scales an image to size x size.
func (c *Client) Thumbnail(ctx context.Context, input, output string, size int) error {
	scale := fmt.Sprintf("scale=%d:%d", size, size)
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", input, "-vf", scale, output}
	if _, err := c.exec.Output(ctx, command.Spec{Binary: c.ffmpeg, Args: args}); err != nil {
		return fmt.Errorf("ffmpeg thumbnail: %w", err)
	}
	return nil
}

// FormatTag reads one container tag, returning "" when it is absent.
func (c *Client) FormatTag(ctx context.Context, path, tag string, decryptionArgs ...string) (string, error) {
	args := []string{"-v", "quiet"}
	args = append(args, decryptionArgs...)
	args = append(args,
		"-show_entries", "format_tags="+tag,
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := c.exec.Output(ctx, command.Spec{Binary: c.ffprobe, Args: args})
	if err != nil {
		return "", fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
