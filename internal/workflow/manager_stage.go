package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ventpipe/internal/logging"
	"ventpipe/internal/metrics"
	"ventpipe/internal/queue"
	"ventpipe/internal/services"
	"ventpipe/internal/stage"
)

var errStageReturned = errors.New("stage returned")

func (m *Manager) processJob(ctx context.Context, base *slog.Logger, workerID string, job *queue.Job) {
	m.setLastJob(job)
	lease := job.Lease()
	stageCtx := withStageContext(ctx, job, workerID, uuid.NewString())
	logger := logging.WithContext(stageCtx, base)

	handler, ok := m.stages.Handler(job.Kind, job.Stage)
	if !ok {
		err := services.Wrap(services.ErrPermanent, string(job.Stage), "resolve handler",
			fmt.Sprintf("no handler for %s jobs at stage %s", job.Kind, job.Stage), nil)
		m.handleStageFailure(stageCtx, logger, lease, job, err)
		return
	}
	artifacts, err := m.store.Artifacts(stageCtx, job.ID)
	if err != nil {
		m.setLastError(err)
		logger.Error("failed to load job artifacts; lease will be reclaimed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "artifacts_load_failed"),
		)
		return
	}

	logger.Info("stage started",
		logging.Int("attempt", job.Attempts),
		logging.Int("max_attempts", m.store.MaxAttempts()),
		logging.String(logging.FieldEventType, "stage_start"),
	)
	start := time.Now()
	result, execErr, lost := m.executeWithHeartbeat(stageCtx, logger, handler, lease, stage.Request{
		Job:        job,
		Artifacts:  artifacts,
		Checkpoint: m.checkpoint(job),
	})
	elapsed := time.Since(start)

	switch {
	case ctx.Err() != nil:
		logger.Info("stage interrupted by shutdown", logging.String(logging.FieldEventType, "stage_interrupted"))
		return
	case lost != nil:
		m.discardStage(logger, job.Stage, lost, elapsed)
		return
	case execErr != nil && errors.Is(execErr, services.ErrCancelled):
		m.discardStage(logger, job.Stage, execErr, elapsed)
		return
	case execErr != nil:
		metrics.ObserveStage(string(job.Stage), services.Classify(execErr).String(), elapsed)
		m.handleStageFailure(stageCtx, logger, lease, job, execErr)
		return
	}

	m.commitStage(stageCtx, logger, lease, job, result, elapsed)
}

// executeWithHeartbeat runs the handler under the stage timeout while a
// heartbeat keeps the lease alive. lost is non-nil when the heartbeat found
// the lease taken away or the job withdrawn.
func (m *Manager) executeWithHeartbeat(ctx context.Context, logger *slog.Logger, handler stage.Handler, lease queue.Lease, req stage.Request) (result stage.Result, execErr, lost error) {
	leaseCtx, stopLease := context.WithCancelCause(ctx)
	defer stopLease(errStageReturned)

	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.keepLease(leaseCtx, &hbWG, stopLease, lease, logger)

	execCtx := leaseCtx
	if timeout := m.cfg.Pipeline.StageTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(leaseCtx, timeout)
		defer cancel()
	}
	result, execErr = handler.Execute(execCtx, req)

	if cause := context.Cause(leaseCtx); cause != nil && ctx.Err() == nil {
		lost = cause
	}
	stopLease(errStageReturned)
	hbWG.Wait()

	if execErr != nil && lost == nil && errors.Is(execErr, context.DeadlineExceeded) && execCtx.Err() != nil {
		execErr = services.Wrap(services.ErrTimeout, string(lease.Stage), "execute",
			fmt.Sprintf("stage exceeded %s", m.cfg.Pipeline.StageTimeout()), execErr)
	}
	return result, execErr, lost
}

// checkpoint stops a handler before its next capability call once the job
// has been withdrawn.
func (m *Manager) checkpoint(job *queue.Job) stage.Checkpoint {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			if cause := context.Cause(ctx); errors.Is(cause, queue.ErrCancelled) {
				return services.Wrap(services.ErrCancelled, string(job.Stage), "checkpoint", "submission withdrawn", nil)
			}
			return err
		}
		cancelled, err := m.store.IsCancelled(ctx, job.ID)
		if err != nil {
			return services.Wrap(services.ErrTransient, string(job.Stage), "checkpoint", "", err)
		}
		if cancelled {
			return services.Wrap(services.ErrCancelled, string(job.Stage), "checkpoint", "submission withdrawn", nil)
		}
		return nil
	}
}

func (m *Manager) commitStage(ctx context.Context, logger *slog.Logger, lease queue.Lease, job *queue.Job, result stage.Result, elapsed time.Duration) {
	next, ok := job.Stage.Next()
	if !ok {
		logging.ErrorWithContext(logger, "stage has no successor", "stage_commit_failed")
		return
	}
	updated, err := m.store.CommitStage(ctx, lease, next, result.Artifacts, result.Payload)
	if err != nil {
		if errors.Is(err, queue.ErrCancelled) || errors.Is(err, queue.ErrLeaseExpired) {
			m.discardStage(logger, job.Stage, err, elapsed)
			return
		}
		m.setLastError(err)
		logging.ErrorWithContext(logger, "failed to commit stage; lease will be reclaimed", "stage_commit_failed",
			logging.Error(err),
			logging.Hint("check queue database access"),
		)
		return
	}
	metrics.ObserveStage(string(job.Stage), services.OutcomeSuccess.String(), elapsed)
	m.setLastJob(updated)
	logger.Info("stage completed",
		logging.String("next_stage", string(next)),
		logging.Int("artifacts", len(result.Artifacts)),
		logging.Duration("stage_duration", elapsed),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
	if next == queue.StageDone {
		metrics.JobFinished(string(queue.StageDone))
		logger.Info("job done",
			logging.Int("run", job.Run),
			logging.Duration("job_duration", time.Since(job.CreatedAt)),
			logging.String(logging.FieldEventType, "job_done"),
		)
	}
}

// discardStage drops a stage result that can no longer be committed because
// the lease is gone or the submission was withdrawn.
func (m *Manager) discardStage(logger *slog.Logger, st queue.Stage, reason error, elapsed time.Duration) {
	outcome := "lease_lost"
	if errors.Is(reason, queue.ErrCancelled) || errors.Is(reason, services.ErrCancelled) {
		outcome = "cancelled"
	}
	metrics.ObserveStage(string(st), outcome, elapsed)
	logger.Info("stage result discarded",
		logging.String("reason", outcome),
		logging.Error(reason),
		logging.String(logging.FieldEventType, "stage_discarded"),
	)
}
