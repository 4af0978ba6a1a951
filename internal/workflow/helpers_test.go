package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"ventpipe/internal/config"
	"ventpipe/internal/logging"
	"ventpipe/internal/notifications"
	"ventpipe/internal/pipeline"
	"ventpipe/internal/queue"
	"ventpipe/internal/submissions"
	"ventpipe/internal/testsupport"
	"ventpipe/internal/workflow"
)

type recordingNotifier struct {
	mu   sync.Mutex
	dead []notifications.DeadJob
}

func (r *recordingNotifier) NotifyJobDead(_ context.Context, job notifications.DeadJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dead = append(r.dead, job)
	return nil
}

func (r *recordingNotifier) NotifyBreakerChange(context.Context, string, string, string) error {
	return nil
}

func (r *recordingNotifier) NotifyError(context.Context, error, string) error { return nil }

func (r *recordingNotifier) TestNotification(context.Context) error { return nil }

func (r *recordingNotifier) Dead() []notifications.DeadJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.DeadJob(nil), r.dead...)
}

type harness struct {
	cfg      *config.Config
	store    *queue.Store
	subs     *submissions.Store
	blobs    *testsupport.MemoryBlobs
	caps     *testsupport.Capabilities
	sink     *testsupport.RecordingSink
	notifier *recordingNotifier
	table    *pipeline.Table
	service  *pipeline.Service
	manager  *workflow.Manager
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithFastPolling(), testsupport.WithMaxAttempts(3)}, opts...)
	return buildHarness(t, testsupport.NewConfig(t, opts...))
}

func buildHarness(t *testing.T, cfg *config.Config, queueOpts ...queue.Option) *harness {
	t.Helper()
	h := &harness{
		cfg:      cfg,
		store:    testsupport.MustOpenStore(t, cfg, queueOpts...),
		subs:     testsupport.MustOpenSubmissions(t, cfg),
		blobs:    testsupport.NewMemoryBlobs(),
		caps:     testsupport.NewCapabilities(),
		notifier: &recordingNotifier{},
	}
	h.sink = &testsupport.RecordingSink{Next: h.subs}
	table, err := pipeline.NewTable(pipeline.Deps{
		Config:       cfg,
		Blobs:        h.blobs,
		Capabilities: h.caps.Set(),
		Submissions:  h.subs,
		Sink:         h.sink,
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	h.table = table
	h.service = pipeline.NewService(cfg, h.store, h.subs, h.sink)
	h.manager = workflow.NewManager(cfg, h.store, table, logging.NewNop(),
		workflow.WithNotifier(h.notifier),
		workflow.WithSink(h.sink),
	)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.manager.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		h.manager.Stop()
	})
}

func (h *harness) submit(t *testing.T, id string, kind queue.Kind, parentID string) pipeline.Ack {
	t.Helper()
	key := "incoming/" + id + ".wav"
	testsupport.WriteUpload(t, h.cfg, key, testsupport.AudioBytes(32000))
	ack, err := h.service.SubmitForProcessing(context.Background(), pipeline.SubmitRequest{
		SubmissionID: id,
		Kind:         string(kind),
		Owner:        "owner-" + id,
		ParentID:     parentID,
		RawAudioKey:  key,
	})
	if err != nil {
		t.Fatalf("submit %s: %v", id, err)
	}
	return ack
}

func (h *harness) waitForStage(t *testing.T, jobID string, want queue.Stage) *queue.Job {
	t.Helper()
	var job *queue.Job
	waitFor(t, 10*time.Second, func() bool {
		var err error
		job, err = h.store.GetByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		return job != nil && job.Stage == want
	}, "job %s to reach %s", jobID, want)
	return job
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for "+format, args...)
}

func sinkCalls(sink *testsupport.RecordingSink, method, id string) []testsupport.SinkCall {
	var out []testsupport.SinkCall
	for _, call := range sink.Calls() {
		if call.Method == method && call.ID == id {
			out = append(out, call)
		}
	}
	return out
}
