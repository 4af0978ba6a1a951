package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"ventpipe/internal/config"
	"ventpipe/internal/deps"
	"ventpipe/internal/logging"
	"ventpipe/internal/notifications"
	"ventpipe/internal/pipeline"
	"ventpipe/internal/preflight"
	"ventpipe/internal/queue"
	"ventpipe/internal/submissions"
	"ventpipe/internal/workflow"
)

// Components are the collaborators the daemon drives.
type Components struct {
	Store       *queue.Store
	Submissions *submissions.Store
	Workflow    *workflow.Manager
	Service     *pipeline.Service
	Sweeper     *submissions.Sweeper
	Notifier    notifications.Service
	// Closers run after the stores are closed, in order.
	Closers []func()
}

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	subs     *submissions.Store
	workflow *workflow.Manager
	service  *pipeline.Service
	sweeper  *submissions.Sweeper
	notifier notifications.Service
	closers  []func()
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
	APIAddress   string
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, c Components) (*Daemon, error) {
	if cfg == nil || c.Store == nil || c.Submissions == nil || c.Workflow == nil || c.Service == nil {
		return nil, errors.New("daemon requires config, stores, workflow manager, and intake service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := c.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    c.Store,
		subs:     c.Submissions,
		workflow: c.Workflow,
		service:  c.Service,
		sweeper:  c.Sweeper,
		notifier: notifier,
		closers:  c.Closers,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, then launches the worker pool, the intake
// API and the retention sweep.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another ventpipe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}
	if d.sweeper != nil {
		d.wg.Add(1)
		go d.runRetention(runCtx)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("ventpipe daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.addr()),
		logging.Int("workers", d.cfg.Pipeline.Workers),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock. Jobs in
// flight keep their leases until they expire and are reclaimed.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.workflow.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("ventpipe daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases the stores.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.subs != nil {
		errs = append(errs, d.subs.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	for _, closeFn := range d.closers {
		closeFn()
	}
	return errors.Join(errs...)
}

// Service returns the intake surface.
func (d *Daemon) Service() *pipeline.Service {
	return d.service
}

// APIAddress returns the address the intake API listens on, or "" when the
// API is disabled or not started.
func (d *Daemon) APIAddress() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		APIAddress:   d.api.addr(),
		Dependencies: preflight.CheckSystemDeps(ctx, d.cfg),
	}
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// runRetention sweeps expired post audio on the configured interval.
func (d *Daemon) runRetention(ctx context.Context) {
	defer d.wg.Done()
	interval := d.cfg.Retention.SweepInterval()
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.sweeper.Sweep(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(d.logger, "audio retention sweep failed", "retention_sweep_failed",
				logging.Error(err),
				logging.Hint("check the submission database; the sweep retries next interval"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
