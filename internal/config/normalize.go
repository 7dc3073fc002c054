package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnvironment()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeConversion()
	c.normalizeEstimator()
	c.Naming.Template = strings.TrimSpace(c.Naming.Template)
	if c.Naming.Template == "" {
		c.Naming.Template = defaultNamingTemplate
	}
	c.Sync.DefaultMode = strings.ToUpper(strings.TrimSpace(c.Sync.DefaultMode))
	if c.Sync.DefaultMode == "" {
		c.Sync.DefaultMode = defaultSyncMode
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds == 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
	return nil
}

func (c *Config) applyEnvironment() {
	if value, ok := os.LookupEnv(envLibraryDir); ok && strings.TrimSpace(value) != "" {
		c.Paths.LibraryDir = value
	}
	if value, ok := os.LookupEnv(envAudibleHome); ok && strings.TrimSpace(value) != "" {
		c.Paths.AudibleHome = value
	}
	if value, ok := os.LookupEnv(envAPIToken); ok {
		c.Paths.APIToken = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envNtfyTopic); ok {
		c.Notifications.NtfyTopic = value
	}
	if value, ok := os.LookupEnv(envRedisAddr); ok && strings.TrimSpace(value) != "" {
		c.Estimator.RedisAddr = value
		c.Estimator.Backend = EstimatorBackendRedis
	}
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.library_dir", &c.Paths.LibraryDir, defaultLibraryDir},
		{"paths.temp_dir", &c.Paths.TempDir, defaultTempDir},
		{"paths.state_dir", &c.Paths.StateDir, defaultStateDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
		{"paths.covers_dir", &c.Paths.CoversDir, defaultCoversDir},
		{"paths.audible_home", &c.Paths.AudibleHome, defaultAudibleHome},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	return nil
}

func (c *Config) normalizeConversion() {
	quality := strings.TrimSpace(c.Conversion.Quality)
	for known := range qualityBitrates {
		if strings.EqualFold(known, quality) {
			quality = known
			break
		}
	}
	if quality == "" {
		quality = defaultQuality
	}
	c.Conversion.Quality = quality
	for _, binary := range []struct {
		value    *string
		fallback string
	}{
		{&c.Conversion.AudibleBinary, "audible"},
		{&c.Conversion.FFmpegBinary, "ffmpeg"},
		{&c.Conversion.FFprobeBinary, "ffprobe"},
	} {
		*binary.value = strings.TrimSpace(*binary.value)
		if *binary.value == "" {
			*binary.value = binary.fallback
		}
	}
}

func (c *Config) normalizeEstimator() {
	c.Estimator.Backend = strings.ToLower(strings.TrimSpace(c.Estimator.Backend))
	if c.Estimator.Backend == "" {
		c.Estimator.Backend = defaultEstimatorBackend
	}
	c.Estimator.RedisAddr = strings.TrimSpace(c.Estimator.RedisAddr)
	c.Estimator.RedisKey = strings.TrimSpace(c.Estimator.RedisKey)
	if c.Estimator.RedisKey == "" {
		c.Estimator.RedisKey = defaultRedisKey
	}
}
