package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"ventpipe/internal/blobstore"
	"ventpipe/internal/config"
	"ventpipe/internal/deps"
	"ventpipe/internal/services/llm"
	"ventpipe/internal/services/whisperx"
	"ventpipe/internal/submissions"
)

// lowDiskBytes flags a filesystem blob store that can hold only a handful of
// uploads.
const lowDiskBytes = 512 << 20

// CheckLLM verifies that the LLM API is reachable and the key is valid.
// It uses a 30-second timeout and a single attempt.
func CheckLLM(ctx context.Context, name string, cfg llm.Config) Result {
	if cfg.APIKey == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(cfg)
	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckPostgres verifies the publication database accepts connections.
func CheckPostgres(ctx context.Context, dsn string) Result {
	const name = "Postgres sink"
	if dsn == "" {
		return Result{Name: name, Detail: "missing dsn"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := submissions.NewPostgresPool(checkCtx, dsn)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	sink := submissions.NewPostgresSink(pool, 0)
	defer sink.Close()
	if err := sink.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckBlobStore opens the configured blob store. For the filesystem backend
// it also reports free space.
func CheckBlobStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Blob store"
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := blobstore.New(checkCtx, cfg)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	fs, ok := store.(*blobstore.Filesystem)
	if !ok {
		if _, err := store.Exists(checkCtx, blobstore.PrefixRaw+"/preflight"); err != nil {
			return Result{Name: name, Detail: summarizeError(err)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s/%s reachable", cfg.Blob.Endpoint, cfg.Blob.Bucket)}
	}
	free, err := fs.FreeBytes()
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	if free < lowDiskBytes {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: only %d MiB free)", fs.Root(), free>>20)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d MiB free)", fs.Root(), free>>20)}
}

// CheckCredentials reports API keys missing for the selected remote backends.
func CheckCredentials(cfg *config.Config) Result {
	const name = "Credentials"
	if err := cfg.RequireCapabilityCredentials(); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: "present"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external binaries the selected backends
// execute. Both the daemon and the CLI status command use this list.
func CheckSystemDeps(_ context.Context, cfg *config.Config) []deps.Status {
	var requirements []deps.Requirement
	if cfg.Anonymizer.Backend == config.AnonymizerBackendFFmpeg {
		requirements = append(requirements,
			deps.Requirement{
				Name:        "FFmpeg",
				Command:     cfg.Anonymizer.FFmpegBinary,
				Description: "Required for voice anonymization",
			},
			deps.Requirement{
				Name:        "FFprobe",
				Command:     cfg.Anonymizer.FFprobeBinary,
				Description: "Required for audio duration probing",
			},
		)
	}
	if cfg.Transcription.Backend == config.TranscriptionBackendWhisperX {
		requirements = append(requirements, deps.Requirement{
			Name:        "uvx",
			Command:     whisperx.UVXCommand,
			Description: "Required for local WhisperX transcription",
		})
	}
	return deps.CheckBinaries(requirements)
}

// summarizeError produces a human-readable summary for health check failures.
func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (service unreachable)"
	}
	return err.Error()
}
