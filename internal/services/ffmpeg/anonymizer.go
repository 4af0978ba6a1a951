package ffmpeg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"ventpipe/internal/capability"
	"ventpipe/internal/services"
)

// OutputFormat is the container written by the anonymizer.
const OutputFormat = "wav"

// CommandRunner executes a command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Anonymizer implements capability.Anonymizer on top of ffmpeg.
type Anonymizer struct {
	ffmpeg  string
	ffprobe string
	workDir string
	runner  CommandRunner
}

// Option customizes the anonymizer.
type Option func(*Anonymizer)

// WithWorkDir places scratch files under dir instead of the OS temp dir.
func WithWorkDir(dir string) Option {
	return func(a *Anonymizer) { a.workDir = dir }
}

// WithCommandRunner swaps process execution (for tests).
func WithCommandRunner(runner CommandRunner) Option {
	return func(a *Anonymizer) {
		if runner != nil {
			a.runner = runner
		}
	}
}

// New constructs an Anonymizer using the given binaries.
func New(ffmpegBinary, ffprobeBinary string, opts ...Option) *Anonymizer {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBinary) == "" {
		ffprobeBinary = "ffprobe"
	}
	a := &Anonymizer{ffmpeg: ffmpegBinary, ffprobe: ffprobeBinary}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Anonymizer) output(ctx context.Context, name string, args ...string) ([]byte, error) {
	if a.runner != nil {
		return a.runner(ctx, name, args...)
	}
	return exec.CommandContext(ctx, name, args...).CombinedOutput() //nolint:gosec
}

// Args builds the ffmpeg invocation for one preset.
func Args(input, output string, preset capability.Preset) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-y",
		"-i", input,
		"-vn", "-sn", "-dn",
		"-map_metadata", "-1",
		"-fflags", "+bitexact",
		"-flags:a", "+bitexact",
		"-ac", "1",
		"-ar", "16000",
	}
	if chain := FilterChain(preset); chain != "" {
		args = append(args, "-af", chain)
	}
	return append(args, "-c:a", "pcm_s16le", "-f", OutputFormat, output)
}

// Anonymize normalizes audio and applies the preset's voice transform.
func (a *Anonymizer) Anonymize(ctx context.Context, audio []byte, preset capability.Preset) (capability.AnonymizedAudio, error) {
	if len(audio) == 0 {
		return capability.AnonymizedAudio{}, services.Wrap(services.ErrValidation, "anonymize", "ffmpeg", "audio is empty", nil)
	}
	dir, err := os.MkdirTemp(a.workDir, "anonymize-")
	if err != nil {
		return capability.AnonymizedAudio{}, services.Wrap(services.ErrTransient, "anonymize", "ffmpeg", "create work dir", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input")
	output := filepath.Join(dir, "output.wav")
	if err := os.WriteFile(input, audio, 0o600); err != nil {
		return capability.AnonymizedAudio{}, services.Wrap(services.ErrTransient, "anonymize", "ffmpeg", "write input", err)
	}

	if out, err := a.output(ctx, a.ffmpeg, Args(input, output, preset)...); err != nil {
		return capability.AnonymizedAudio{}, classifyRun(ctx, "ffmpeg", out, err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return capability.AnonymizedAudio{}, services.Wrap(services.ErrExternalTool, "anonymize", "ffmpeg", "read output", err)
	}
	if len(data) == 0 {
		return capability.AnonymizedAudio{}, services.Wrap(services.ErrPermanent, "anonymize", "ffmpeg", "corrupt audio: empty output", nil)
	}

	probe, err := a.Probe(ctx, output)
	if err != nil {
		return capability.AnonymizedAudio{}, classifyRun(ctx, "ffprobe", nil, err)
	}
	return capability.AnonymizedAudio{
		Data:            data,
		DurationSeconds: probe.DurationSeconds(),
		Format:          OutputFormat,
	}, nil
}

// Messages ffmpeg prints when the input itself is unusable.
var corruptInputMarkers = []string{
	"invalid data found when processing input",
	"could not find codec parameters",
	"does not contain any stream",
	"header missing",
}

func classifyRun(ctx context.Context, tool string, output []byte, err error) error {
	detail := strings.TrimSpace(string(output))
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return services.Wrap(services.ErrConfiguration, "anonymize", tool, "binary not found", err)
	case ctx.Err() != nil:
		return services.Wrap(services.TransportMarker(ctx.Err()), "anonymize", tool, "", err)
	}
	lower := strings.ToLower(detail + " " + err.Error())
	for _, marker := range corruptInputMarkers {
		if strings.Contains(lower, marker) {
			return services.Wrap(services.ErrPermanent, "anonymize", tool, "corrupt audio", errors.New(firstLine(detail)))
		}
	}
	return services.Wrap(services.ErrExternalTool, "anonymize", tool, firstLine(detail), err)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}
