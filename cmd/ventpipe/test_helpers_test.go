package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ventpipe/internal/config"
	"ventpipe/internal/daemon"
	"ventpipe/internal/logging"
	"ventpipe/internal/pipeline"
	"ventpipe/internal/queue"
	"ventpipe/internal/submissions"
	"ventpipe/internal/testsupport"
	"ventpipe/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	daemon     *daemon.Daemon
	configPath string
}

func setupCLITestEnv(t *testing.T, token string) *cliTestEnv {
	t.Helper()

	homeDir := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("VENTPIPE_API_TOKEN", "")
	t.Setenv("NO_COLOR", "1")

	cfg := testsupport.NewConfig(t, testsupport.WithFastPolling(), testsupport.WithPassthroughAnonymizer())
	cfg.Paths.APIToken = token
	store := testsupport.MustOpenStore(t, cfg)
	subs := testsupport.MustOpenSubmissions(t, cfg)
	blobs := testsupport.NewMemoryBlobs()

	table, err := pipeline.NewTable(pipeline.Deps{
		Config:       cfg,
		Blobs:        blobs,
		Capabilities: testsupport.NewCapabilities().Set(),
		Submissions:  subs,
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, store, table, logger, workflow.WithSink(subs))
	d, err := daemon.New(cfg, logger, daemon.Components{
		Store:       store,
		Submissions: subs,
		Workflow:    mgr,
		Service:     pipeline.NewService(cfg, store, subs, subs),
		Sweeper:     &submissions.Sweeper{Store: subs, Blobs: blobs, Jobs: store, Logger: logger},
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Stop()
	})

	configPath := filepath.Join(homeDir, ".config", "ventpipe", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg, d.APIAddress())

	return &cliTestEnv{cfg: cfg, store: store, daemon: d, configPath: configPath}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config, apiAddr string) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
blob_dir = %q
upload_dir = %q
api_bind = %q

[anonymizer]
backend = "passthrough"
allow_passthrough = true

[transcription]
api_key = "test"

[analysis]
api_key = "test"
`,
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.BlobDir,
		cfg.Paths.UploadDir,
		apiAddr,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
