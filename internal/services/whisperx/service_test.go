package whisperx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"ventpipe/internal/capability"
	"ventpipe/internal/services"
)

// fakeRunner writes output JSON into the --output_dir the service passes.
func fakeRunner(t *testing.T, output string, runErr error) CommandRunner {
	t.Helper()
	return func(_ context.Context, name string, args ...string) error {
		if name != UVXCommand {
			t.Fatalf("unexpected command %q", name)
		}
		if runErr != nil {
			return runErr
		}
		idx := slices.Index(args, "--output_dir")
		if idx < 0 || idx+1 >= len(args) {
			t.Fatalf("missing --output_dir in %v", args)
		}
		return os.WriteFile(filepath.Join(args[idx+1], "audio.json"), []byte(output), 0o600)
	}
}

func TestTranscribeJoinsSegments(t *testing.T) {
	svc := NewService(Config{WorkDir: t.TempDir()})
	svc.WithCommandRunner(fakeRunner(t, `{"language":"hi","segments":[{"text":" namaste "},{"text":""},{"text":"sab log"}]}`, nil))

	got, err := svc.Transcribe(context.Background(), capability.TranscriptionRequest{Audio: []byte("RIFF")})
	if err != nil {
		t.Fatalf("Transcribe returned error: %v", err)
	}
	if got.Text != "namaste sab log" {
		t.Fatalf("unexpected text %q", got.Text)
	}
	if got.Language != "hi" {
		t.Fatalf("unexpected language %q", got.Language)
	}
}

func TestTranscribeNoSpeechIsPermanent(t *testing.T) {
	svc := NewService(Config{WorkDir: t.TempDir()})
	svc.WithCommandRunner(fakeRunner(t, `{"segments":[]}`, nil))

	_, err := svc.Transcribe(context.Background(), capability.TranscriptionRequest{Audio: []byte("RIFF")})
	if services.Classify(err) != services.OutcomePermanent {
		t.Fatalf("expected permanent failure, got %v", err)
	}
}

func TestTranscribeClassifiesRunFailures(t *testing.T) {
	svc := NewService(Config{WorkDir: t.TempDir()})

	svc.WithCommandRunner(fakeRunner(t, "", fmt.Errorf("uvx: %w", exec.ErrNotFound)))
	_, err := svc.Transcribe(context.Background(), capability.TranscriptionRequest{Audio: []byte("RIFF")})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	svc.WithCommandRunner(fakeRunner(t, "", errors.New("exit status 1: CUDA out of memory")))
	_, err = svc.Transcribe(context.Background(), capability.TranscriptionRequest{Audio: []byte("RIFF")})
	if !errors.Is(err, services.ErrExternalTool) || services.Classify(err) != services.OutcomeTransient {
		t.Fatalf("expected transient external tool error, got %v", err)
	}
}

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	svc := NewService(Config{})
	_, err := svc.Transcribe(context.Background(), capability.TranscriptionRequest{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildArgsDevice(t *testing.T) {
	cpu := NewService(Config{}).buildArgs("a.wav", "/tmp/out")
	if !slices.Contains(cpu, CPUComputeType) || slices.Contains(cpu, CUDADevice) {
		t.Fatalf("unexpected cpu args %v", cpu)
	}
	gpu := NewService(Config{CUDAEnabled: true, Model: "small"}).buildArgs("a.wav", "/tmp/out")
	if !slices.Contains(gpu, CUDADevice) || !slices.Contains(gpu, "small") {
		t.Fatalf("unexpected cuda args %v", gpu)
	}
}
