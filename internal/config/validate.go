package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateBlob(); err != nil {
		return err
	}
	if err := c.validateCapabilities(); err != nil {
		return err
	}
	if err := c.validateSink(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.LeaseTimeoutSeconds <= p.HeartbeatIntervalSeconds {
		return fmt.Errorf("pipeline.lease_timeout_seconds (%d) must exceed pipeline.heartbeat_interval_seconds (%d)",
			p.LeaseTimeoutSeconds, p.HeartbeatIntervalSeconds)
	}
	if p.LeaseTimeoutSeconds < p.StageTimeoutSeconds {
		return fmt.Errorf("pipeline.lease_timeout_seconds (%d) must be at least pipeline.stage_timeout_seconds (%d)",
			p.LeaseTimeoutSeconds, p.StageTimeoutSeconds)
	}
	if c.Backoff.Randomization < 0 || c.Backoff.Randomization > 1 {
		return errors.New("backoff.randomization must be between 0 and 1")
	}
	if c.Backoff.MaxSeconds < c.Backoff.InitialSeconds {
		return errors.New("backoff.max_seconds must be at least backoff.initial_seconds")
	}
	return nil
}

func (c *Config) validateBlob() error {
	switch c.Blob.Backend {
	case BlobBackendFilesystem:
		return nil
	case BlobBackendMinio:
		if c.Blob.Endpoint == "" {
			return errors.New("blob.endpoint is required for the minio backend")
		}
		if c.Blob.AccessKey == "" || c.Blob.SecretKey == "" {
			return errors.New("blob.access_key and blob.secret_key are required for the minio backend (or set MINIO_ACCESS_KEY/MINIO_SECRET_KEY)")
		}
		return nil
	default:
		return fmt.Errorf("blob.backend: unsupported value %q", c.Blob.Backend)
	}
}

func (c *Config) validateCapabilities() error {
	switch c.Anonymizer.Backend {
	case AnonymizerBackendFFmpeg:
	case AnonymizerBackendPassthrough:
		if !c.Anonymizer.AllowPassthrough {
			return fmt.Errorf("anonymizer.backend: passthrough requires anonymizer.allow_passthrough")
		}
	default:
		return fmt.Errorf("anonymizer.backend: unsupported value %q", c.Anonymizer.Backend)
	}
	switch c.Transcription.Backend {
	case TranscriptionBackendGemini, TranscriptionBackendWhisperX:
	default:
		return fmt.Errorf("transcription.backend: unsupported value %q", c.Transcription.Backend)
	}
	switch c.Analysis.Backend {
	case AnalysisBackendGemini, AnalysisBackendLLM:
	default:
		return fmt.Errorf("analysis.backend: unsupported value %q", c.Analysis.Backend)
	}
	return nil
}

func (c *Config) validateSink() error {
	switch c.Sink.Backend {
	case SinkBackendSQLite:
		return nil
	case SinkBackendPostgres:
		if strings.TrimSpace(c.Sink.PostgresDSN) == "" {
			return errors.New("sink.postgres_dsn is required for the postgres backend (or set VENTPIPE_POSTGRES_DSN)")
		}
		return nil
	default:
		return fmt.Errorf("sink.backend: unsupported value %q", c.Sink.Backend)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

// RequireCapabilityCredentials reports missing API keys for the selected
// remote backends. The daemon calls it at startup; CLI inspection commands do not.
func (c *Config) RequireCapabilityCredentials() error {
	if c.Transcription.Backend == TranscriptionBackendGemini && c.Transcription.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/ventpipe/config.toml"
		}
		return fmt.Errorf("transcription.api_key is required. Set GEMINI_API_KEY env var or edit %s (create with 'ventpipe config init')", defaultPath)
	}
	if c.Analysis.APIKey == "" {
		return fmt.Errorf("analysis.api_key is required for the %s backend", c.Analysis.Backend)
	}
	return nil
}
