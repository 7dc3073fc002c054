package convert

import (
	"fmt"
	"log/slog"
	"time"

	"bindery/internal/config"
	"bindery/internal/logging"
	"bindery/internal/services/audible"
	"bindery/internal/services/command"
	"bindery/internal/services/ffmpeg"
)

const (
	defaultCoverSize        = 1215
	defaultDownloadAttempts = 3
	defaultRetryDelay       = 2 * time.Second
	defaultBitrate          = "128k"
)

// Option configures a Converter.
type Option func(*Converter)

// WithCoverSize sets the cover resolution requested from Audible.
func WithCoverSize(size int) Option {
	return func(c *Converter) {
		if size > 0 {
			c.coverSize = size
		}
	}
}

// WithDownloadAttempts bounds retries of the network download.
func WithDownloadAttempts(attempts int) Option {
	return func(c *Converter) {
		if attempts > 0 {
			c.downloadAttempts = attempts
		}
	}
}

// WithRetryDelay sets the base delay between download attempts.
func WithRetryDelay(delay time.Duration) Option {
	return func(c *Converter) {
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// WithBitrate sets the AAC bitrate used for chunk encodes.
func WithBitrate(rate string) Option {
	return func(c *Converter) {
		if rate != "" {
			c.bitrate = rate
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Converter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Converter implements Tools on top of the audible and ffmpeg clients.
type Converter struct {
	audible *audible.Client
	ffmpeg  *ffmpeg.Client

	coverSize        int
	downloadAttempts int
	retryDelay       time.Duration
	bitrate          string
	logger           *slog.Logger
}

// New constructs a converter around existing clients.
func New(audibleClient *audible.Client, ffmpegClient *ffmpeg.Client, opts ...Option) *Converter {
	c := &Converter{
		audible:          audibleClient,
		ffmpeg:           ffmpegClient,
		coverSize:        defaultCoverSize,
		downloadAttempts: defaultDownloadAttempts,
		retryDelay:       defaultRetryDelay,
		bitrate:          defaultBitrate,
		logger:           logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "convert")
	return c
}

// NewFromConfig builds both clients from configuration. A nil exec runs the
// real binaries.
func NewFromConfig(cfg *config.Config, exec command.Executor, logger *slog.Logger) (*Converter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("converter requires configuration")
	}
	audibleClient, err := audible.New(cfg.Conversion.AudibleBinary, cfg.Paths.AudibleHome, audible.WithExecutor(exec))
	if err != nil {
		return nil, err
	}
	ffmpegClient, err := ffmpeg.New(cfg.Conversion.FFmpegBinary, cfg.Conversion.FFprobeBinary, ffmpeg.WithExecutor(exec))
	if err != nil {
		return nil, err
	}
	return New(audibleClient, ffmpegClient,
		WithCoverSize(cfg.Conversion.CoverSize),
		WithDownloadAttempts(cfg.Conversion.DownloadAttempts),
		WithBitrate(cfg.Bitrate()),
		WithLogger(logger),
	), nil
}

// Audible exposes the audible client for library sync.
func (c *Converter) Audible() *audible.Client { return c.audible }

// FFmpeg exposes the ffmpeg client for library sync.
func (c *Converter) FFmpeg() *ffmpeg.Client { return c.ffmpeg }
