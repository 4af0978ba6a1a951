package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ventpipe/internal/config"
	"ventpipe/internal/logging"
	"ventpipe/internal/metrics"
	"ventpipe/internal/notifications"
	"ventpipe/internal/queue"
	"ventpipe/internal/services"
	"ventpipe/internal/submissions"
)

func (m *Manager) handleStageFailure(ctx context.Context, logger *slog.Logger, lease queue.Lease, job *queue.Job, stageErr error) {
	kind := services.FailureKind(stageErr)
	message := strings.TrimSpace(stageErr.Error())
	m.setLastError(stageErr)

	var (
		updated *queue.Job
		err     error
		delay   time.Duration
	)
	if services.Classify(stageErr) == services.OutcomePermanent {
		updated, err = m.store.MarkDead(ctx, lease, kind, message)
	} else {
		delay = RetryDelay(m.cfg.Backoff, job.Attempts)
		updated, err = m.store.RecordFailure(ctx, lease, queue.Failure{Kind: kind, Message: message, Backoff: delay})
	}
	if err != nil {
		if errors.Is(err, queue.ErrCancelled) || errors.Is(err, queue.ErrLeaseExpired) {
			m.discardStage(logger, job.Stage, err, 0)
			return
		}
		logging.ErrorWithContext(logger, "failed to record stage failure; lease will be reclaimed", "stage_failure_unrecorded",
			logging.Error(err),
			logging.String("stage_error", message),
		)
		return
	}
	m.setLastJob(updated)

	if updated.Stage != queue.StageDead {
		logging.WarnWithContext(logger, "stage failed, retry scheduled", "stage_retry",
			logging.ErrorKind(kind),
			logging.Error(stageErr),
			logging.Int("attempt", job.Attempts),
			logging.Int("max_attempts", m.store.MaxAttempts()),
			logging.Duration("retry_in", delay),
		)
		return
	}

	metrics.JobFinished(string(queue.StageDead))
	logging.ErrorWithContext(logger, "job dead", "job_dead",
		logging.Alert("job_dead"),
		logging.ErrorKind(kind),
		logging.String("failed_stage", string(updated.FailedStage)),
		logging.Int("attempt", job.Attempts),
		logging.Error(stageErr),
	)
	m.reportDead(ctx, logger, updated)
}

// RetryDelay returns the wait before retrying a stage after its attempt-th
// failed attempt.
func RetryDelay(cfg config.Backoff, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = seconds(cfg.InitialSeconds)
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = seconds(cfg.MaxSeconds)
	b.RandomizationFactor = cfg.Randomization
	b.MaxElapsedTime = 0
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.Reset()
	delay := b.InitialInterval
	for range max(attempt, 1) {
		delay = b.NextBackOff()
	}
	return delay
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// reportDead delivers a dead job's outcome to the sink and then the
// notifier. The job is marked notified only after the sink accepted it, so a
// failed delivery is picked up again by the maintenance loop.
func (m *Manager) reportDead(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	if !m.claimReport(job.ID) {
		return
	}
	defer m.releaseReport(job.ID)
	current, err := m.store.GetByID(ctx, job.ID)
	if err != nil || current == nil || !current.NotifiedAt.IsZero() {
		return
	}
	job = current

	userMessage := services.UserMessageForKind(job.LastErrorKind, job.LastErrorMessage)
	if m.sink != nil {
		err := m.sink.MarkFailed(ctx, job.SubmissionID, job.LastErrorKind, userMessage)
		if err != nil && !errors.Is(err, submissions.ErrNotFound) {
			logging.WarnWithContext(logger, "failed to report dead job to sink; will retry", "dead_report_failed",
				logging.Error(err),
				logging.Hint("check the publication sink"),
			)
			return
		}
	}
	if err := m.store.MarkNotified(ctx, job.ID); err != nil {
		logger.Warn("failed to mark dead job notified", logging.Error(err))
		return
	}
	if err := m.notifier.NotifyJobDead(ctx, notifications.DeadJob{
		JobID:        job.ID,
		SubmissionID: job.SubmissionID,
		Kind:         string(job.Kind),
		Stage:        string(job.FailedStage),
		ErrorKind:    job.LastErrorKind,
		Message:      userMessage,
	}); err != nil {
		logger.Debug("dead job notification failed", logging.Error(err))
	}
}

func (m *Manager) claimReport(jobID string) bool {
	m.reportMu.Lock()
	defer m.reportMu.Unlock()
	if m.reporting == nil {
		m.reporting = make(map[string]struct{})
	}
	if _, busy := m.reporting[jobID]; busy {
		return false
	}
	m.reporting[jobID] = struct{}{}
	return true
}

func (m *Manager) releaseReport(jobID string) {
	m.reportMu.Lock()
	delete(m.reporting, jobID)
	m.reportMu.Unlock()
}
