package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeBackoff()
	c.normalizeCapabilities()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name     string
		value    *string
		fallback string
	}{
		{"paths.data_dir", &c.Paths.DataDir, defaultDataDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
		{"paths.blob_dir", &c.Paths.BlobDir, defaultBlobDir},
		{"paths.upload_dir", &c.Paths.UploadDir, defaultUploadDir},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(*field.value)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizePipeline() {
	p := &c.Pipeline
	if p.Workers <= 0 {
		p.Workers = defaultWorkers
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.StageTimeoutSeconds <= 0 {
		p.StageTimeoutSeconds = defaultStageTimeoutSeconds
	}
	if p.LeaseTimeoutSeconds <= 0 {
		p.LeaseTimeoutSeconds = 2 * p.StageTimeoutSeconds
	}
	if p.PollIntervalSeconds <= 0 {
		p.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if p.PollJitterMillis < 0 {
		p.PollJitterMillis = 0
	}
	if p.HeartbeatIntervalSeconds <= 0 {
		p.HeartbeatIntervalSeconds = defaultHeartbeatIntervalSeconds
	}
	if p.ReclaimIntervalSeconds <= 0 {
		p.ReclaimIntervalSeconds = defaultReclaimIntervalSeconds
	}
	if p.MaxUploadMiB <= 0 {
		p.MaxUploadMiB = defaultMaxUploadMiB
	}
}

func (c *Config) normalizeBackoff() {
	b := &c.Backoff
	if b.InitialSeconds <= 0 {
		b.InitialSeconds = defaultBackoffInitialSeconds
	}
	if b.Multiplier < 1 {
		b.Multiplier = defaultBackoffMultiplier
	}
	if b.MaxSeconds <= 0 {
		b.MaxSeconds = defaultBackoffMaxSeconds
	}
}

func (c *Config) normalizeCapabilities() {
	c.Blob.Backend = lowerOr(c.Blob.Backend, BlobBackendFilesystem)
	c.Blob.Endpoint = strings.TrimSpace(c.Blob.Endpoint)
	if strings.TrimSpace(c.Blob.Bucket) == "" {
		c.Blob.Bucket = defaultMinioBucket
	}

	a := &c.Anonymizer
	a.Backend = lowerOr(a.Backend, AnonymizerBackendFFmpeg)
	if strings.TrimSpace(a.FFmpegBinary) == "" {
		a.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(a.FFprobeBinary) == "" {
		a.FFprobeBinary = defaultFFprobeBinary
	}
	if a.TimeoutSeconds <= 0 {
		a.TimeoutSeconds = defaultAnonymizerTimeout
	}
	a.DefaultPreset = lowerOr(a.DefaultPreset, defaultPreset)

	t := &c.Transcription
	t.Backend = lowerOr(t.Backend, TranscriptionBackendGemini)
	t.APIKey = strings.TrimSpace(t.APIKey)
	if strings.TrimSpace(t.BaseURL) == "" {
		t.BaseURL = defaultGeminiBaseURL
	}
	if strings.TrimSpace(t.Model) == "" {
		t.Model = defaultGeminiModel
	}
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = defaultTranscriptionTimeout
	}
	if t.BreakerThreshold <= 0 {
		t.BreakerThreshold = defaultBreakerThreshold
	}
	if t.BreakerCooldownSeconds <= 0 {
		t.BreakerCooldownSeconds = defaultBreakerCooldownSeconds
	}
	if strings.TrimSpace(t.WhisperXModel) == "" {
		t.WhisperXModel = defaultWhisperXModel
	}

	an := &c.Analysis
	an.Backend = lowerOr(an.Backend, AnalysisBackendGemini)
	if an.TimeoutSeconds <= 0 {
		an.TimeoutSeconds = defaultAnalysisTimeout
	}
	switch an.Backend {
	case AnalysisBackendGemini:
		// Gemini analysis shares the transcription credentials unless overridden.
		if strings.TrimSpace(an.APIKey) == "" {
			an.APIKey = t.APIKey
		}
		if strings.TrimSpace(an.BaseURL) == "" {
			an.BaseURL = t.BaseURL
		}
		if strings.TrimSpace(an.Model) == "" {
			an.Model = t.Model
		}
	case AnalysisBackendLLM:
		if strings.TrimSpace(an.BaseURL) == "" {
			an.BaseURL = defaultLLMBaseURL
		}
		if strings.TrimSpace(an.Model) == "" {
			an.Model = defaultLLMModel
		}
	}

	c.Sink.Backend = lowerOr(c.Sink.Backend, SinkBackendSQLite)
	if c.Retention.AudioRetentionDays <= 0 {
		c.Retention.AudioRetentionDays = defaultAudioRetentionDays
	}
	if c.Retention.SweepIntervalMinutes <= 0 {
		c.Retention.SweepIntervalMinutes = defaultSweepIntervalMinutes
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = 10
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = lowerOr(c.Logging.Format, defaultLogFormat)
	c.Logging.Level = lowerOr(c.Logging.Level, defaultLogLevel)
}

func lowerOr(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}
