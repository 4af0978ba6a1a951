package config

const (
	BlobBackendFilesystem = "filesystem"
	BlobBackendMinio      = "minio"

	AnonymizerBackendFFmpeg      = "ffmpeg"
	AnonymizerBackendPassthrough = "passthrough"

	TranscriptionBackendGemini   = "gemini"
	TranscriptionBackendWhisperX = "whisperx"

	AnalysisBackendGemini = "gemini"
	AnalysisBackendLLM    = "llm"

	SinkBackendSQLite   = "sqlite"
	SinkBackendPostgres = "postgres"
)

const (
	defaultDataDir                  = "~/.local/share/ventpipe"
	defaultLogDir                   = "~/.local/share/ventpipe/logs"
	defaultBlobDir                  = "~/.local/share/ventpipe/blobs"
	defaultUploadDir                = "~/.local/share/ventpipe/uploads"
	defaultAPIBind                  = "127.0.0.1:7490"
	defaultWorkers                  = 4
	defaultMaxAttempts              = 5
	defaultStageTimeoutSeconds      = 120
	defaultPollIntervalSeconds      = 2
	defaultPollJitterMillis         = 250
	defaultHeartbeatIntervalSeconds = 15
	defaultReclaimIntervalSeconds   = 30
	defaultMaxUploadMiB             = 50
	defaultBackoffInitialSeconds    = 1
	defaultBackoffMultiplier        = 2
	defaultBackoffMaxSeconds        = 60
	defaultBackoffRandomization     = 0.5
	defaultMinioBucket              = "ventpipe-audio"
	defaultFFmpegBinary             = "ffmpeg"
	defaultFFprobeBinary            = "ffprobe"
	defaultAnonymizerTimeout        = 90
	defaultPreset                   = "pitch-shift-lo"
	defaultGeminiBaseURL            = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel              = "gemini-2.0-flash"
	defaultTranscriptionTimeout     = 90
	defaultBreakerThreshold         = 5
	defaultBreakerCooldownSeconds   = 30
	defaultWhisperXModel            = "large-v3-turbo"
	defaultLLMBaseURL               = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                 = "google/gemini-2.5-flash"
	defaultAnalysisTimeout          = 60
	defaultAudioRetentionDays       = 21
	defaultSweepIntervalMinutes     = 60
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			BlobDir:   defaultBlobDir,
			UploadDir: defaultUploadDir,
			APIBind:   defaultAPIBind,
		},
		Pipeline: Pipeline{
			Workers:                  defaultWorkers,
			MaxAttempts:              defaultMaxAttempts,
			StageTimeoutSeconds:      defaultStageTimeoutSeconds,
			LeaseTimeoutSeconds:      2 * defaultStageTimeoutSeconds,
			PollIntervalSeconds:      defaultPollIntervalSeconds,
			PollJitterMillis:         defaultPollJitterMillis,
			HeartbeatIntervalSeconds: defaultHeartbeatIntervalSeconds,
			ReclaimIntervalSeconds:   defaultReclaimIntervalSeconds,
			MaxUploadMiB:             defaultMaxUploadMiB,
		},
		Backoff: Backoff{
			InitialSeconds: defaultBackoffInitialSeconds,
			Multiplier:     defaultBackoffMultiplier,
			MaxSeconds:     defaultBackoffMaxSeconds,
			Randomization:  defaultBackoffRandomization,
		},
		Blob: Blob{
			Backend: BlobBackendFilesystem,
			Bucket:  defaultMinioBucket,
		},
		Anonymizer: Anonymizer{
			Backend:        AnonymizerBackendFFmpeg,
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			TimeoutSeconds: defaultAnonymizerTimeout,
			DefaultPreset:  defaultPreset,
		},
		Transcription: Transcription{
			Backend:                TranscriptionBackendGemini,
			BaseURL:                defaultGeminiBaseURL,
			Model:                  defaultGeminiModel,
			TimeoutSeconds:         defaultTranscriptionTimeout,
			BreakerThreshold:       defaultBreakerThreshold,
			BreakerCooldownSeconds: defaultBreakerCooldownSeconds,
			WhisperXModel:          defaultWhisperXModel,
		},
		Analysis: Analysis{
			Backend:        AnalysisBackendGemini,
			TimeoutSeconds: defaultAnalysisTimeout,
		},
		Sink: Sink{
			Backend: SinkBackendSQLite,
		},
		Retention: Retention{
			AudioRetentionDays:   defaultAudioRetentionDays,
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			DeadJobs:       true,
			Breaker:        true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
