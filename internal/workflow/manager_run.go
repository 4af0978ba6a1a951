package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"ventpipe/internal/logging"
	"ventpipe/internal/services"
)

// minPollInterval bounds the idle wait so a zero interval does not spin.
const minPollInterval = 25 * time.Millisecond

// Start launches the worker pool and the maintenance loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.stages == nil {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}
	workers := m.cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(workers + 1)
	m.mu.Unlock()

	host, _ := os.Hostname()
	for i := range workers {
		workerID := fmt.Sprintf("%s-%d-w%d", host, os.Getpid(), i+1)
		go m.runWorker(runCtx, workerID)
	}
	go m.runMaintenance(runCtx)

	m.logger.Info("workflow started",
		logging.Int("workers", workers),
		logging.Int("max_attempts", m.store.MaxAttempts()),
		logging.Duration("lease_timeout", m.store.LeaseTimeout()),
		logging.String(logging.FieldEventType, "workflow_started"),
	)
	return nil
}

// Stop cancels every worker and waits for them to return. Jobs interrupted
// mid-stage keep their lease until it expires and are then reclaimed.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, workerID string) {
	defer m.wg.Done()
	ctx = services.WithWorker(ctx, workerID)
	base := logging.NewComponentLogger(m.logger, "workflow-worker")
	logger := logging.WithContext(ctx, base)

	idle := m.newIdleTicker()
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := m.store.LeaseNext(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleLeaseError(ctx, logger, err)
			continue
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}
		m.processJob(ctx, base, workerID, job)
	}
}

func (m *Manager) newIdleTicker() *jitterbug.Ticker {
	interval := m.cfg.Pipeline.PollInterval()
	if interval < minPollInterval {
		interval = minPollInterval
	}
	return jitterbug.New(interval, &jitterbug.Norm{Stdev: m.cfg.Pipeline.PollJitter(), Mean: 0})
}

func (m *Manager) handleLeaseError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(logger, "failed to lease next job", "queue_lease_failed",
		logging.Error(err),
		logging.Hint("check queue database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(max(m.cfg.Pipeline.PollInterval(), time.Second)):
	}
}
