package workflow

import (
	"context"
	"time"

	"ventpipe/internal/logging"
	"ventpipe/internal/metrics"
	"ventpipe/internal/queue"
)

func (m *Manager) runMaintenance(ctx context.Context) {
	defer m.wg.Done()
	logger := logging.NewComponentLogger(m.logger, "workflow-maintenance")

	interval := m.cfg.Pipeline.ReclaimInterval()
	if interval < minPollInterval {
		interval = minPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.Maintain(ctx)
		select {
		case <-ctx.Done():
			logger.Debug("maintenance loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// Maintain runs one maintenance pass: expired leases are reclaimed, dead
// jobs whose outcome was never delivered are reported again, and queue depth
// gauges are refreshed.
func (m *Manager) Maintain(ctx context.Context) {
	logger := logging.NewComponentLogger(m.logger, "workflow-maintenance")

	result, err := m.store.ReclaimExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.setLastError(err)
			logging.WarnWithContext(logger, "reclaim expired leases failed; stuck jobs may remain", "lease_reclaim_failed",
				logging.Error(err),
				logging.Hint("check queue database access"),
			)
		}
		return
	}
	if reclaimed := result.Released + result.Dead; reclaimed > 0 {
		metrics.LeasesReclaimed(reclaimed)
		for range result.Dead {
			metrics.JobFinished(string(queue.StageDead))
		}
		logger.Info("reclaimed expired leases",
			logging.Int("released", result.Released),
			logging.Int("dead", result.Dead),
			logging.String(logging.FieldEventType, "lease_reclaimed"),
		)
	}

	dead, err := m.store.ListUnnotifiedDead(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("list unreported dead jobs failed", logging.Error(err))
		}
	}
	for _, job := range dead {
		jobLogger := logger.With(
			logging.JobID(job.ID),
			logging.SubmissionID(job.SubmissionID),
		)
		m.reportDead(ctx, jobLogger, job)
	}

	m.refreshQueueDepth(ctx)
}

func (m *Manager) refreshQueueDepth(ctx context.Context) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return
	}
	for _, st := range queue.AllStages() {
		metrics.SetQueueDepth(string(st), stats[st])
	}
}
