package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"ventpipe/internal/services"
	"ventpipe/internal/stage"
	"ventpipe/internal/submissions"
)

// persistHandler writes the annotations through to the submission record
// without making them visible.
type persistHandler struct {
	submissions *submissions.Store
}

func (h *persistHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	ann := AnnotationsFromArtifacts(req.Job.Kind, req.Artifacts)
	if err := req.Check(ctx); err != nil {
		return stage.Result{}, err
	}
	if err := h.submissions.SaveAnnotations(ctx, req.Job.SubmissionID, ann); err != nil {
		return stage.Result{}, sinkError("persist", "save annotations", err)
	}
	payload, err := json.Marshal(ann)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrPermanent, "persist", "encode result", "", err)
	}
	return stage.Result{Payload: payload}, nil
}

func (h *persistHandler) HealthCheck(ctx context.Context) stage.Health {
	if h.submissions == nil {
		return stage.Unhealthy("persist", "submission store not configured")
	}
	return stage.Healthy("persist")
}

// publishHandler marks the submission ready through the publication sink.
type publishHandler struct {
	sink submissions.Sink
}

func (h *publishHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	ann := AnnotationsFromArtifacts(req.Job.Kind, req.Artifacts)
	if err := req.Check(ctx); err != nil {
		return stage.Result{}, err
	}
	if err := h.sink.MarkReady(ctx, req.Job.SubmissionID, ann); err != nil {
		return stage.Result{}, sinkError("publish", "mark ready", err)
	}
	return stage.Result{}, nil
}

func (h *publishHandler) HealthCheck(ctx context.Context) stage.Health {
	if h.sink == nil {
		return stage.Unhealthy("publish", "sink not configured")
	}
	return stage.Healthy("publish")
}

func sinkError(stageName, op string, err error) error {
	switch {
	case errors.Is(err, submissions.ErrWithdrawn):
		return services.Wrap(services.ErrCancelled, stageName, op, "submission withdrawn", err)
	case errors.Is(err, submissions.ErrNotFound):
		return services.Wrap(services.ErrPermanent, stageName, op, "submission record missing", err)
	case errors.Is(err, submissions.ErrInvalid):
		return services.Wrap(services.ErrValidation, stageName, op, "", err)
	default:
		return services.Wrap(services.ErrTransient, stageName, op, "", err)
	}
}
