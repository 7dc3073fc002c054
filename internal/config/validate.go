package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateNaming(); err != nil {
		return err
	}
	if err := c.validateConversion(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateEstimator(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validatePaths() error {
	if c.Paths.LibraryDir == "" {
		return errors.New("paths.library_dir must be set")
	}
	if c.Paths.TempDir == "" {
		return errors.New("paths.temp_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateJobs() error {
	return ensurePositiveMap(map[string]int{
		"jobs.max_parallel_downloads": c.Jobs.MaxParallelDownloads,
		"jobs.total_processing_cores": c.Jobs.TotalProcessingCores,
		"jobs.book_timeout_seconds":   c.Jobs.BookTimeoutSeconds,
		"jobs.stop_timeout_seconds":   c.Jobs.StopTimeoutSeconds,
	})
}

func (c *Config) validateNaming() error {
	if !strings.Contains(c.Naming.Template, "{title}") {
		return errors.New("naming.template must contain {title}")
	}
	return nil
}

func (c *Config) validateConversion() error {
	if _, ok := qualityBitrates[c.Conversion.Quality]; !ok {
		return fmt.Errorf("conversion.quality must be one of High, Standard, Low (got %q)", c.Conversion.Quality)
	}
	return ensurePositiveMap(map[string]int{
		"conversion.download_attempts": c.Conversion.DownloadAttempts,
		"conversion.cover_size":        c.Conversion.CoverSize,
	})
}

func (c *Config) validateSync() error {
	switch c.Sync.DefaultMode {
	case SyncModeFast, SyncModeDeep:
		return nil
	default:
		return fmt.Errorf("sync.default_mode must be FAST or DEEP (got %q)", c.Sync.DefaultMode)
	}
}

func (c *Config) validateEstimator() error {
	if c.Estimator.HistoryLength <= 0 {
		return errors.New("estimator.history_length must be positive")
	}
	if c.Estimator.DefaultRate <= 0 {
		return errors.New("estimator.default_rate must be positive")
	}
	switch c.Estimator.Backend {
	case EstimatorBackendFile:
	case EstimatorBackendRedis:
		if c.Estimator.RedisAddr == "" {
			return errors.New("estimator.redis_addr must be set when estimator.backend is redis")
		}
	default:
		return fmt.Errorf("estimator.backend must be file or redis (got %q)", c.Estimator.Backend)
	}
	if c.Estimator.RedisDB < 0 {
		return errors.New("estimator.redis_db must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	if !knownLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not recognised", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func knownLevel(level string) bool {
	var l slog.Level
	return l.UnmarshalText([]byte(level)) == nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeoutSeconds < 0 {
		return errors.New("notifications.request_timeout_seconds must be >= 0")
	}
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	parsed, err := url.Parse(topic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL (got %q)", topic)
	}
	return nil
}
