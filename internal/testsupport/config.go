package testsupport

import (
	"path/filepath"
	"testing"

	"ventpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Capability backends default to ones that need no external binaries or keys
// and retries use a deterministic backoff curve.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.BlobDir = filepath.Join(base, "blobs")
	cfgVal.Paths.UploadDir = filepath.Join(base, "uploads")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Transcription.APIKey = "test"
	cfgVal.Analysis.APIKey = "test"
	cfgVal.Backoff.Randomization = 0
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithMaxAttempts overrides the per-stage attempt limit.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.MaxAttempts = n
	}
}

// WithLeaseTimeout overrides the lease timeout in seconds.
func WithLeaseTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.LeaseTimeoutSeconds = seconds
	}
}

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Workers = n
	}
}

// WithFastPolling shortens poll, heartbeat and backoff timing so end-to-end
// tests finish quickly.
func WithFastPolling() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.PollIntervalSeconds = 0
		b.cfg.Pipeline.PollJitterMillis = 0
		b.cfg.Backoff.InitialSeconds = 0.01
		b.cfg.Backoff.MaxSeconds = 0.05
	}
}

// WithPassthroughAnonymizer selects the passthrough anonymizer backend.
func WithPassthroughAnonymizer() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Anonymizer.Backend = config.AnonymizerBackendPassthrough
		b.cfg.Anonymizer.AllowPassthrough = true
	}
}

// WithBaseDir reports the temp directory backing the config through dst.
func WithBaseDir(dst *string) ConfigOption {
	return func(b *configBuilder) {
		*dst = b.baseDir
	}
}
