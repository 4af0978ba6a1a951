package stage

import (
	"context"
	"encoding/json"

	"ventpipe/internal/queue"
)

// Checkpoint reports an error when the job must stop before its next
// capability call, for example because the submission was withdrawn.
type Checkpoint func(context.Context) error

// Request is the input of one stage execution.
type Request struct {
	Job        *queue.Job
	Artifacts  map[string]string
	Checkpoint Checkpoint
}

// Check runs the checkpoint if one is set.
func (r Request) Check(ctx context.Context) error {
	if r.Checkpoint == nil {
		return ctx.Err()
	}
	return r.Checkpoint(ctx)
}

// Artifact returns a previously committed artifact.
func (r Request) Artifact(name string) (string, bool) {
	value, ok := r.Artifacts[name]
	return value, ok && value != ""
}

// Result is what a successful stage hands back for commit. Artifacts are
// write-once; Payload replaces the job's stored result when non-empty.
type Result struct {
	Artifacts map[string]string
	Payload   json.RawMessage
}

// Handler describes the contract the workflow manager needs from each stage.
type Handler interface {
	Execute(context.Context, Request) (Result, error)
	HealthCheck(context.Context) Health
}
