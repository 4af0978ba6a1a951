package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ventpipe/internal/logging"
	"ventpipe/internal/queue"
)

// keepLease extends the lease every heartbeat interval until ctx ends. When
// the lease is lost or the job withdrawn it cancels the stage through lost.
func (m *Manager) keepLease(ctx context.Context, wg *sync.WaitGroup, lost context.CancelCauseFunc, lease queue.Lease, logger *slog.Logger) {
	defer wg.Done()
	interval := m.cfg.Pipeline.HeartbeatInterval()
	if interval <= 0 {
		interval = m.store.LeaseTimeout() / 3
	}
	if interval < minPollInterval {
		interval = minPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger = logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := m.store.ExtendLease(ctx, lease)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, queue.ErrCancelled):
				logger.Info("submission withdrawn, stopping stage",
					logging.String(logging.FieldEventType, "lease_cancelled"))
				lost(err)
				return
			case errors.Is(err, queue.ErrLeaseExpired), errors.Is(err, queue.ErrNotFound):
				logging.WarnWithContext(logger, "lease lost, stopping stage", "lease_lost",
					logging.Error(err),
					logging.Hint("raise pipeline.lease_timeout_seconds if stages routinely outlive it"),
				)
				lost(err)
				return
			default:
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
