package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ventpipe/internal/blobstore"
	"ventpipe/internal/config"
	"ventpipe/internal/daemon"
	"ventpipe/internal/daemonctl"
	"ventpipe/internal/logging"
	"ventpipe/internal/notifications"
	"ventpipe/internal/pipeline"
	"ventpipe/internal/preflight"
	"ventpipe/internal/queue"
	"ventpipe/internal/services/whisperx"
	"ventpipe/internal/submissions"
	"ventpipe/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the ventpipe daemon and blocks until SIGINT, SIGTERM or cmdCtx
// cancellation.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("ventpipe-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update ventpipe.log link: %v\n", err)
	}
	pidPath := daemonctl.PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	for _, result := range preflight.Failed(preflight.RunAll(signalCtx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.Hint("run `ventpipe status` for the full dependency report"),
		)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	subs, err := submissions.Open(cfg)
	if err != nil {
		store.Close()
		logger.Error("open submission store", logging.Error(err))
		return err
	}

	var (
		sink    submissions.Sink = subs
		parents submissions.ParentLookup
		closers []func()
	)
	// abort releases what was opened before the daemon took ownership.
	abort := func(err error) error {
		subs.Close()
		store.Close()
		for _, closeFn := range closers {
			closeFn()
		}
		return err
	}

	blobs, err := blobstore.New(signalCtx, cfg)
	if err != nil {
		return abort(fmt.Errorf("open blob store: %w", err))
	}

	if cfg.Sink.Backend == config.SinkBackendPostgres {
		pool, err := submissions.NewPostgresPool(signalCtx, cfg.Sink.PostgresDSN)
		if err != nil {
			return abort(fmt.Errorf("open postgres sink: %w", err))
		}
		external := submissions.NewPostgresSink(pool, cfg.Retention.AudioRetentionDays)
		tee := submissions.Tee{Local: subs, External: external}
		sink, parents = tee, tee
		closers = append(closers, external.Close)
	}

	notifier := notifications.NewService(cfg)
	caps, err := pipeline.BuildCapabilities(cfg, logger, notifier)
	if err != nil {
		return abort(fmt.Errorf("build capabilities: %w", err))
	}
	table, err := pipeline.NewTable(pipeline.Deps{
		Config:       cfg,
		Blobs:        blobs,
		Capabilities: caps,
		Submissions:  subs,
		Sink:         sink,
		Parents:      parents,
	})
	if err != nil {
		return abort(fmt.Errorf("build stage table: %w", err))
	}

	manager := workflow.NewManager(cfg, store, table, logger,
		workflow.WithNotifier(notifier),
		workflow.WithSink(sink),
	)
	d, err := daemon.New(cfg, logger, daemon.Components{
		Store:       store,
		Submissions: subs,
		Workflow:    manager,
		Service:     pipeline.NewService(cfg, store, subs, sink),
		Sweeper:     &submissions.Sweeper{Store: subs, Blobs: blobs, Jobs: store, Logger: logger},
		Notifier:    notifier,
		Closers:     closers,
	})
	if err != nil {
		return abort(fmt.Errorf("create daemon: %w", err))
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.Hint("check the lock file, api_bind and database access"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("ventpipe daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "ventpipe.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("anonymizer_backend", cfg.Anonymizer.Backend),
		logging.Bool("ffmpeg_available", binaryAvailable(cfg.Anonymizer.FFmpegBinary)),
		logging.String("ffmpeg_binary", cfg.Anonymizer.FFmpegBinary),
		logging.Bool("ffprobe_available", binaryAvailable(cfg.Anonymizer.FFprobeBinary)),
		logging.String("ffprobe_binary", cfg.Anonymizer.FFprobeBinary),
		logging.String("transcription_backend", cfg.Transcription.Backend),
		logging.Bool("transcription_key_present", strings.TrimSpace(cfg.Transcription.APIKey) != ""),
		logging.Bool("uvx_available", binaryAvailable(whisperx.UVXCommand)),
		logging.String("analysis_backend", cfg.Analysis.Backend),
		logging.Bool("analysis_key_present", strings.TrimSpace(cfg.Analysis.APIKey) != ""),
		logging.String("sink_backend", cfg.Sink.Backend),
		logging.String("blob_backend", cfg.Blob.Backend),
		logging.Bool("api_auth_enabled", cfg.Paths.APIToken != ""),
	)
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
