package workflow

import (
	"context"

	"ventpipe/internal/queue"
	"ventpipe/internal/services"
)

func withStageContext(ctx context.Context, job *queue.Job, workerID, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if job != nil {
		ctx = services.WithJobID(ctx, job.ID)
		ctx = services.WithSubmissionID(ctx, job.SubmissionID)
		ctx = services.WithStage(ctx, string(job.Stage))
	}
	if workerID != "" {
		ctx = services.WithWorker(ctx, workerID)
	}
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx
}
