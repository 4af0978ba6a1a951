package pipeline

import (
	"context"
	"errors"

	"ventpipe/internal/blobstore"
	"ventpipe/internal/capability"
	"ventpipe/internal/config"
	"ventpipe/internal/queue"
	"ventpipe/internal/stage"
	"ventpipe/internal/submissions"
)

// Deps are the collaborators the stage handlers need.
type Deps struct {
	Config       *config.Config
	Blobs        blobstore.Store
	Capabilities capability.Set
	Submissions  *submissions.Store
	Sink         submissions.Sink
	Parents      submissions.ParentLookup
}

// Table maps a job's kind and stage onto the handler that executes it.
type Table struct {
	handlers map[queue.Kind]map[queue.Stage]stage.Handler
	order    []named
}

type named struct {
	name    string
	handler stage.Handler
}

// NewTable builds the per-kind stage table. Both kinds share every stage
// except summarize_classify: posts are summarized, comments classified.
func NewTable(deps Deps) (*Table, error) {
	if deps.Config == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if deps.Blobs == nil {
		return nil, errors.New("pipeline: blob store is required")
	}
	if deps.Submissions == nil {
		return nil, errors.New("pipeline: submission store is required")
	}
	caps := deps.Capabilities
	if caps.Anonymizer == nil || caps.Transcriber == nil || caps.Analyzer == nil {
		return nil, errors.New("pipeline: anonymizer, transcriber and analyzer are required")
	}
	sink := deps.Sink
	if sink == nil {
		sink = deps.Submissions
	}
	parents := deps.Parents
	if parents == nil {
		parents = deps.Submissions
	}

	store := &storeHandler{
		blobs:     deps.Blobs,
		uploadDir: deps.Config.Paths.UploadDir,
		maxBytes:  deps.Config.Pipeline.MaxUploadBytes(),
	}
	anonymize := &anonymizeHandler{
		blobs:            deps.Blobs,
		anonymizer:       caps.Anonymizer,
		allowPassthrough: deps.Config.Anonymizer.AllowPassthrough,
	}
	transcribe := &transcribeHandler{blobs: deps.Blobs, transcriber: caps.Transcriber}
	summarize := &summarizeHandler{analyzer: caps.Analyzer}
	classify := &classifyHandler{analyzer: caps.Analyzer, submissions: deps.Submissions, parents: parents}
	persist := &persistHandler{submissions: deps.Submissions}
	publish := &publishHandler{sink: sink}

	shared := map[queue.Stage]stage.Handler{
		queue.StageStore:      store,
		queue.StageAnonymize:  anonymize,
		queue.StageTranscribe: transcribe,
		queue.StagePersist:    persist,
		queue.StagePublish:    publish,
	}
	posts := make(map[queue.Stage]stage.Handler, len(shared)+1)
	comments := make(map[queue.Stage]stage.Handler, len(shared)+1)
	for st, h := range shared {
		posts[st] = h
		comments[st] = h
	}
	posts[queue.StageSummarizeClassify] = summarize
	comments[queue.StageSummarizeClassify] = classify

	return &Table{
		handlers: map[queue.Kind]map[queue.Stage]stage.Handler{
			queue.KindPost:    posts,
			queue.KindComment: comments,
		},
		order: []named{
			{"store", store},
			{"anonymize", anonymize},
			{"transcribe", transcribe},
			{"summarize", summarize},
			{"classify", classify},
			{"persist", persist},
			{"publish", publish},
		},
	}, nil
}

// Handler returns the handler for kind at st.
func (t *Table) Handler(kind queue.Kind, st queue.Stage) (stage.Handler, bool) {
	if t == nil {
		return nil, false
	}
	h, ok := t.handlers[kind][st]
	return h, ok
}

// Override replaces the handler for kind at st.
func (t *Table) Override(kind queue.Kind, st queue.Stage, h stage.Handler) {
	if t.handlers[kind] == nil {
		t.handlers[kind] = make(map[queue.Stage]stage.Handler)
	}
	t.handlers[kind][st] = h
}

// Health reports every handler's readiness keyed by handler name.
func (t *Table) Health(ctx context.Context) map[string]stage.Health {
	out := make(map[string]stage.Health, len(t.order))
	for _, n := range t.order {
		out[n.name] = n.handler.HealthCheck(ctx)
	}
	return out
}
