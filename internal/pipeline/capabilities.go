package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"ventpipe/internal/capability"
	"ventpipe/internal/config"
	"ventpipe/internal/logging"
	"ventpipe/internal/notifications"
	"ventpipe/internal/services/ffmpeg"
	"ventpipe/internal/services/gemini"
	"ventpipe/internal/services/llm"
	"ventpipe/internal/services/whisperx"
)

// BuildCapabilities constructs the capability set selected by configuration.
// Every capability is wrapped with its call timeout; the remote ones also get
// a circuit breaker whose transitions are logged and pushed to the notifier.
func BuildCapabilities(cfg *config.Config, logger *slog.Logger, notifier notifications.Service) (capability.Set, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	onChange := breakerAlert(logger, notifier)
	workDir := filepath.Join(cfg.Paths.DataDir, "tmp")

	var anonymizer capability.Anonymizer
	switch cfg.Anonymizer.Backend {
	case config.AnonymizerBackendFFmpeg:
		anonymizer = ffmpeg.New(cfg.Anonymizer.FFmpegBinary, cfg.Anonymizer.FFprobeBinary, ffmpeg.WithWorkDir(workDir))
	case config.AnonymizerBackendPassthrough:
		anonymizer = capability.Passthrough{}
	default:
		return capability.Set{}, fmt.Errorf("unsupported anonymizer backend %q", cfg.Anonymizer.Backend)
	}

	var transcriber capability.Transcriber
	switch cfg.Transcription.Backend {
	case config.TranscriptionBackendGemini:
		transcriber = gemini.NewClient(gemini.Options{
			APIKey:  cfg.Transcription.APIKey,
			BaseURL: cfg.Transcription.BaseURL,
			Model:   cfg.Transcription.Model,
			Timeout: cfg.Transcription.Timeout(),
		})
	case config.TranscriptionBackendWhisperX:
		transcriber = whisperx.NewService(whisperx.Config{
			Model:       cfg.Transcription.WhisperXModel,
			CUDAEnabled: cfg.Transcription.WhisperXCUDA,
			VADMethod:   whisperx.VADMethodSilero,
			WorkDir:     workDir,
		})
	default:
		return capability.Set{}, fmt.Errorf("unsupported transcription backend %q", cfg.Transcription.Backend)
	}

	var analyzer capability.Analyzer
	switch cfg.Analysis.Backend {
	case config.AnalysisBackendGemini:
		analyzer = gemini.NewClient(gemini.Options{
			APIKey:  cfg.Analysis.APIKey,
			BaseURL: cfg.Analysis.BaseURL,
			Model:   cfg.Analysis.Model,
			Timeout: cfg.Analysis.Timeout(),
		})
	case config.AnalysisBackendLLM:
		analyzer = llm.NewClient(llm.Config{
			APIKey:         cfg.Analysis.APIKey,
			BaseURL:        cfg.Analysis.BaseURL,
			Model:          cfg.Analysis.Model,
			Title:          "ventpipe",
			TimeoutSeconds: cfg.Analysis.TimeoutSeconds,
		})
	default:
		return capability.Set{}, fmt.Errorf("unsupported analysis backend %q", cfg.Analysis.Backend)
	}

	threshold := cfg.Transcription.BreakerThreshold
	cooldown := cfg.Transcription.BreakerCooldown()
	return capability.Set{
		Anonymizer: capability.GuardedAnonymizer{
			Inner:   anonymizer,
			Timeout: cfg.Anonymizer.Timeout(),
		},
		Transcriber: capability.GuardedTranscriber{
			Inner:   transcriber,
			Timeout: cfg.Transcription.Timeout(),
			Breaker: capability.NewBreaker("transcription", threshold, cooldown, capability.WithStateChange(onChange)),
		},
		Analyzer: capability.GuardedAnalyzer{
			Inner:   analyzer,
			Timeout: cfg.Analysis.Timeout(),
			Breaker: capability.NewBreaker("analysis", threshold, cooldown, capability.WithStateChange(onChange)),
		},
	}, nil
}

func breakerAlert(logger *slog.Logger, notifier notifications.Service) func(name string, from, to capability.BreakerState) {
	return func(name string, from, to capability.BreakerState) {
		attrs := []logging.Attr{
			logging.String("capability", name),
			logging.String("from", from.String()),
			logging.String("to", to.String()),
		}
		if to == capability.BreakerOpen {
			logging.WarnWithContext(logger, "circuit breaker opened", "breaker_open",
				append(attrs, logging.Hint("the service keeps failing; calls short-circuit until the cooldown passes"))...)
		} else {
			logger.Info("circuit breaker state changed", logging.Args(append(attrs, logging.String(logging.FieldEventType, "breaker_state"))...)...)
		}
		if notifier == nil {
			return
		}
		go func() {
			if err := notifier.NotifyBreakerChange(context.Background(), name, from.String(), to.String()); err != nil {
				logger.Debug("breaker notification failed", logging.Error(err))
			}
		}()
	}
}
