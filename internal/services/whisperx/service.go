package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"ventpipe/internal/capability"
	langpkg "ventpipe/internal/language"
	"ventpipe/internal/services"
)

// CommandRunner executes an external command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Service provides WhisperX transcription capabilities.
type Service struct {
	cfg           Config
	commandRunner CommandRunner
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner CommandRunner) {
	s.commandRunner = runner
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

// run executes a command, using the custom runner if set.
func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking WhisperX/pyannote.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Transcribe implements capability.Transcriber.
func (s *Service) Transcribe(ctx context.Context, req capability.TranscriptionRequest) (capability.Transcript, error) {
	if len(req.Audio) == 0 {
		return capability.Transcript{}, services.Wrap(services.ErrValidation, "transcription", "whisperx", "audio is empty", nil)
	}
	workDir, err := os.MkdirTemp(s.cfg.WorkDir, "whisperx-")
	if err != nil {
		return capability.Transcript{}, services.Wrap(services.ErrTransient, "transcription", "whisperx", "create work dir", err)
	}
	defer os.RemoveAll(workDir)

	source := filepath.Join(workDir, "audio.wav")
	if err := os.WriteFile(source, req.Audio, 0o600); err != nil {
		return capability.Transcript{}, services.Wrap(services.ErrTransient, "transcription", "whisperx", "write audio", err)
	}

	if err := s.run(ctx, UVXCommand, s.buildArgs(source, workDir)...); err != nil {
		return capability.Transcript{}, classifyRun(ctx, err)
	}

	payload, err := loadPayload(filepath.Join(workDir, "audio.json"))
	if err != nil {
		return capability.Transcript{}, services.Wrap(services.ErrExternalTool, "transcription", "whisperx", "read output", err)
	}
	text := payload.text()
	if text == "" {
		return capability.Transcript{}, services.Wrap(services.ErrPermanent, "transcription", "whisperx", "no speech detected", nil)
	}
	return capability.Transcript{
		Text:     text,
		Language: langpkg.Normalize(payload.Language),
	}, nil
}

func classifyRun(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return services.Wrap(services.ErrConfiguration, "transcription", "whisperx", "uvx not found", err)
	case ctx.Err() != nil:
		return services.Wrap(services.TransportMarker(ctx.Err()), "transcription", "whisperx", "", err)
	default:
		return services.Wrap(services.ErrExternalTool, "transcription", "whisperx", "", err)
	}
}

// buildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) buildArgs(source, outputDir string) []string {
	args := make([]string, 0, 32)

	if s.cfg.CUDAEnabled {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	args = append(args,
		"whisperx",
		source,
		"--model", s.Model(),
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--chunk_size", ChunkSize,
		"--vad_onset", VADOnset,
		"--vad_offset", VADOffset,
		"--beam_size", BeamSize,
		"--temperature", Temperature,
	)

	vadMethod := s.cfg.VADMethod
	if vadMethod == "" {
		vadMethod = VADMethodSilero
	}
	args = append(args, "--vad_method", vadMethod)
	if vadMethod == VADMethodPyannote && s.cfg.HFToken != "" {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}

	if s.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}

	return args
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type whisperXPayload struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

func (p whisperXPayload) text() string {
	parts := make([]string, 0, len(p.Segments))
	for _, seg := range p.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func loadPayload(jsonPath string) (whisperXPayload, error) {
	var payload whisperXPayload
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload, nil
}
