package config

const (
	defaultConfigPath           = "~/.config/bindery/config.toml"
	projectConfigName           = "bindery.toml"
	defaultLibraryDir           = "~/audiobooks"
	defaultTempDir              = "~/.local/share/bindery/tmp"
	defaultStateDir             = "~/.local/share/bindery"
	defaultLogDir               = "~/.local/share/bindery/logs"
	defaultCoversDir            = "~/.local/share/bindery/covers"
	defaultAudibleHome          = "~/.local/share/bindery/audible"
	defaultAPIBind              = "127.0.0.1:7495"
	defaultMaxParallelDownloads = 2
	defaultProcessingCores      = 2
	defaultBookTimeoutSeconds   = 7200
	defaultChainDelaySeconds    = 5
	defaultStopTimeoutSeconds   = 10
	defaultNamingTemplate       = "{author}/{title}/{author} - {title}"
	defaultQuality              = "High"
	defaultDownloadAttempts     = 3
	defaultCoverSize            = 1215
	defaultSyncMode             = SyncModeDeep
	defaultHistoryLength        = 30
	defaultRate                 = 10.0
	defaultEstimatorBackend     = EstimatorBackendFile
	defaultRedisKey             = "bindery:conversion_rates"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultNotifyTimeoutSeconds = 10
)

const (
	SyncModeFast = "FAST"
	SyncModeDeep = "DEEP"

	EstimatorBackendFile  = "file"
	EstimatorBackendRedis = "redis"
)

var qualityBitrates = map[string]string{
	"High":     "128k",
	"Standard": "96k",
	"Low":      "64k",
}

// Environment overrides applied after the file is decoded.
const (
	envLibraryDir  = "BINDERY_LIBRARY_DIR"
	envAudibleHome = "BINDERY_AUDIBLE_HOME"
	envRedisAddr   = "BINDERY_REDIS_ADDR"
	envAPIToken    = "BINDERY_API_TOKEN"
	envNtfyTopic   = "BINDERY_NTFY_TOPIC"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LibraryDir:  defaultLibraryDir,
			TempDir:     defaultTempDir,
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
			CoversDir:   defaultCoversDir,
			AudibleHome: defaultAudibleHome,
			APIBind:     defaultAPIBind,
		},
		Jobs: Jobs{
			MaxParallelDownloads: defaultMaxParallelDownloads,
			TotalProcessingCores: defaultProcessingCores,
			BookTimeoutSeconds:   defaultBookTimeoutSeconds,
			ChainDelaySeconds:    defaultChainDelaySeconds,
			StopTimeoutSeconds:   defaultStopTimeoutSeconds,
		},
		Naming: Naming{Template: defaultNamingTemplate},
		Conversion: Conversion{
			Quality:          defaultQuality,
			AudibleBinary:    "audible",
			FFmpegBinary:     "ffmpeg",
			FFprobeBinary:    "ffprobe",
			DownloadAttempts: defaultDownloadAttempts,
			CoverSize:        defaultCoverSize,
		},
		Tasks: Tasks{
			AutoProcessNew:     true,
			AutoProcessMissing: true,
			ProcessNewOnSync:   true,
		},
		Sync: Sync{DefaultMode: defaultSyncMode},
		Estimator: Estimator{
			HistoryLength: defaultHistoryLength,
			DefaultRate:   defaultRate,
			Backend:       defaultEstimatorBackend,
			RedisKey:      defaultRedisKey,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
	}
}
