package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ventpipe/internal/blobstore"
	"ventpipe/internal/capability"
	"ventpipe/internal/config"
	"ventpipe/internal/pipeline"
	"ventpipe/internal/queue"
	"ventpipe/internal/services"
	"ventpipe/internal/stage"
	"ventpipe/internal/submissions"
	"ventpipe/internal/testsupport"
	"ventpipe/internal/workflow"
)

func TestPostRunsToReady(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ack := h.submit(t, "p1", queue.KindPost, "")

	job := h.waitForStage(t, ack.JobID, queue.StageDone)
	if job.FinishedAt.IsZero() || job.LeaseToken != "" {
		t.Fatalf("done job should be finished and unleased: %+v", job)
	}

	sub, err := h.subs.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if sub.Status != submissions.StatusReady {
		t.Fatalf("status = %s", sub.Status)
	}
	ann := sub.Annotations
	if ann.Transcript == "" || ann.Summary == "" || ann.Language != "en" || ann.AudioDurationSec <= 0 {
		t.Fatalf("incomplete annotations: %+v", ann)
	}
	if n := len(strings.Fields(ann.TLDR)); n == 0 || n > 10 {
		t.Fatalf("tldr has %d words: %q", n, ann.TLDR)
	}
	if !strings.HasPrefix(ann.AnonAudioKey, blobstore.PrefixAnon+"/") {
		t.Fatalf("anon key = %q", ann.AnonAudioKey)
	}
	if ok, _ := h.blobs.Exists(context.Background(), ann.AnonAudioKey); !ok {
		t.Fatalf("anonymized audio missing from blob store")
	}
	if len(sinkCalls(h.sink, "MarkReady", "p1")) != 1 {
		t.Fatalf("expected exactly one MarkReady, got %+v", h.sink.Calls())
	}

	for _, st := range queue.WorkStages() {
		attempt, err := h.store.StageAttempt(context.Background(), ack.JobID, st)
		if err != nil {
			t.Fatalf("stage attempt %s: %v", st, err)
		}
		if attempt.Attempts != 1 || attempt.Failures != 0 {
			t.Fatalf("stage %s: attempts=%d failures=%d", st, attempt.Attempts, attempt.Failures)
		}
	}
}

func TestCommentClassifiedAgainstReadyParent(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	post := h.submit(t, "p1", queue.KindPost, "")
	h.waitForStage(t, post.JobID, queue.StageDone)

	h.caps.Analyzer.Sentiment = capability.SentimentAgainst
	comment := h.submit(t, "c1", queue.KindComment, "p1")
	h.waitForStage(t, comment.JobID, queue.StageDone)

	sub, _ := h.subs.Get(context.Background(), "c1")
	if sub.Status != submissions.StatusReady || sub.Annotations.Sentiment != capability.SentimentAgainst {
		t.Fatalf("unexpected comment record: %s %q", sub.Status, sub.Annotations.Sentiment)
	}
	if sub.Annotations.Summary != "" || sub.Annotations.TLDR != "" {
		t.Fatalf("comments carry no summary: %+v", sub.Annotations)
	}
	parents := h.caps.Analyzer.ParentSummaries()
	if len(parents) != 1 || parents[0] != h.caps.Analyzer.Summary.Summary {
		t.Fatalf("parent summaries = %q", parents)
	}
}

func TestTransientFailuresRetryThenSucceed(t *testing.T) {
	h := newHarness(t)
	h.caps.Transcriber.Fail(2, testsupport.TransientError("transcription", "upstream 503"))
	h.start(t)
	ack := h.submit(t, "p1", queue.KindPost, "")

	h.waitForStage(t, ack.JobID, queue.StageDone)
	attempt, err := h.store.StageAttempt(context.Background(), ack.JobID, queue.StageTranscribe)
	if err != nil {
		t.Fatalf("stage attempt: %v", err)
	}
	if attempt.Attempts != 3 || attempt.Failures != 2 {
		t.Fatalf("transcribe attempts=%d failures=%d", attempt.Attempts, attempt.Failures)
	}
	if h.caps.Transcriber.Calls() != 3 {
		t.Fatalf("transcriber calls = %d", h.caps.Transcriber.Calls())
	}
	// Earlier stages are not repeated by a later stage's retry.
	if h.caps.Anonymizer.Calls() != 1 {
		t.Fatalf("anonymizer calls = %d", h.caps.Anonymizer.Calls())
	}
	if len(h.notifier.Dead()) != 0 {
		t.Fatalf("no dead notification expected")
	}
}

func TestUploadWithPresetPublishesReady(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	testsupport.WriteUpload(t, h.cfg, "raw-1", testsupport.AudioBytes(32000))
	ack, err := h.service.SubmitForProcessing(context.Background(), pipeline.SubmitRequest{
		SubmissionID: "post-raw-1",
		Kind:         string(queue.KindPost),
		Owner:        "owner-1",
		RawAudioKey:  "raw-1",
		PresetID:     "pitch-shift-lo",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	job := h.waitForStage(t, ack.JobID, queue.StageDone)
	if job.PresetID != "pitch-shift-lo" || job.RawAudioKey != "raw-1" {
		t.Fatalf("unexpected job %+v", job)
	}
	sub, err := h.subs.Get(context.Background(), "post-raw-1")
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if sub.Status != submissions.StatusReady || sub.PresetID != "pitch-shift-lo" {
		t.Fatalf("unexpected record: status %s preset %s", sub.Status, sub.PresetID)
	}
	anon, err := h.blobs.Get(context.Background(), sub.Annotations.AnonAudioKey)
	if err != nil {
		t.Fatalf("anonymized audio: %v", err)
	}
	if !strings.HasPrefix(string(anon), "anon:pitch-shift-lo:") {
		t.Fatalf("audio not anonymized with the requested preset")
	}
}

func TestThreeTransientTranscribeFailuresWithinFiveAttempts(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxAttempts(5))
	h.caps.Transcriber.Fail(3, testsupport.TransientError("transcription", "upstream 503"))
	h.start(t)
	ack := h.submit(t, "p1", queue.KindPost, "")

	h.waitForStage(t, ack.JobID, queue.StageDone)
	attempt, err := h.store.StageAttempt(context.Background(), ack.JobID, queue.StageTranscribe)
	if err != nil {
		t.Fatalf("stage attempt: %v", err)
	}
	if attempt.Attempts != 4 || attempt.Failures != 3 {
		t.Fatalf("transcribe attempts=%d failures=%d", attempt.Attempts, attempt.Failures)
	}
	sub, _ := h.subs.Get(context.Background(), "p1")
	if sub.Status != submissions.StatusReady {
		t.Fatalf("status = %s", sub.Status)
	}
}

func TestPermanentFailureGoesStraightToDead(t *testing.T) {
	h := newHarness(t)
	h.caps.Anonymizer.Fail(1, testsupport.PermanentError("anonymize", "unsupported codec"))
	h.start(t)
	ack := h.submit(t, "p1", queue.KindPost, "")

	job := h.waitForStage(t, ack.JobID, queue.StageDead)
	if job.FailedStage != queue.StageAnonymize || job.LastErrorKind != "permanent" {
		t.Fatalf("unexpected dead job: stage=%s kind=%s", job.FailedStage, job.LastErrorKind)
	}
	if h.caps.Anonymizer.Calls() != 1 {
		t.Fatalf("permanent failures must not retry, calls=%d", h.caps.Anonymizer.Calls())
	}

	waitFor(t, 5*time.Second, func() bool { return len(h.notifier.Dead()) == 1 }, "dead notification")
	failed := sinkCalls(h.sink, "MarkFailed", "p1")
	if len(failed) != 1 || failed[0].ReasonKind != "permanent" || !strings.Contains(failed[0].Message, "unsupported codec") {
		t.Fatalf("unexpected MarkFailed calls: %+v", failed)
	}
	sub, _ := h.subs.Get(context.Background(), "p1")
	if sub.Status != submissions.StatusFailed {
		t.Fatalf("status = %s", sub.Status)
	}
	if view := sub.View(time.Now()); view.Annotations.Transcript != "" {
		t.Fatalf("failed submission exposes annotations")
	}
	dead := h.notifier.Dead()[0]
	if dead.SubmissionID != "p1" || dead.Stage != string(queue.StageAnonymize) {
		t.Fatalf("unexpected notification %+v", dead)
	}

	// The maintenance pass does not report the same job twice.
	h.manager.Maintain(context.Background())
	if len(h.notifier.Dead()) != 1 || len(sinkCalls(h.sink, "MarkFailed", "p1")) != 1 {
		t.Fatalf("dead job reported more than once")
	}
}

func TestTransientFailuresExhaustAttempts(t *testing.T) {
	h := newHarness(t)
	h.caps.Analyzer.Fail(10, testsupport.TransientError("analysis", "rate limited"))
	h.start(t)
	ack := h.submit(t, "p1", queue.KindPost, "")

	job := h.waitForStage(t, ack.JobID, queue.StageDead)
	if job.FailedStage != queue.StageSummarizeClassify {
		t.Fatalf("failed stage = %s", job.FailedStage)
	}
	if h.caps.Analyzer.Calls() != h.cfg.Pipeline.MaxAttempts {
		t.Fatalf("analyzer calls = %d, want %d", h.caps.Analyzer.Calls(), h.cfg.Pipeline.MaxAttempts)
	}
	attempt, _ := h.store.StageAttempt(context.Background(), ack.JobID, queue.StageSummarizeClassify)
	if attempt.Attempts != h.cfg.Pipeline.MaxAttempts || attempt.Failures != h.cfg.Pipeline.MaxAttempts {
		t.Fatalf("attempts=%d failures=%d", attempt.Attempts, attempt.Failures)
	}
	waitFor(t, 5*time.Second, func() bool { return len(sinkCalls(h.sink, "MarkFailed", "p1")) == 1 }, "sink failure report")
	if msg := sinkCalls(h.sink, "MarkFailed", "p1")[0].Message; msg != services.GenericRetryMessage {
		t.Fatalf("user message = %q", msg)
	}
}

func TestDeadReportRetriedAfterSinkFailure(t *testing.T) {
	h := newHarness(t)
	h.caps.Anonymizer.Fail(1, testsupport.PermanentError("anonymize", "corrupt audio"))
	h.sink.SetErr(errors.New("sink offline"))
	h.start(t)
	ack := h.submit(t, "p1", queue.KindPost, "")

	h.waitForStage(t, ack.JobID, queue.StageDead)
	waitFor(t, 5*time.Second, func() bool { return len(sinkCalls(h.sink, "MarkFailed", "p1")) >= 1 }, "first report attempt")
	if len(h.notifier.Dead()) != 0 {
		t.Fatalf("notification sent before the sink accepted the failure")
	}
	unnotified, err := h.store.ListUnnotifiedDead(context.Background())
	if err != nil || len(unnotified) != 1 {
		t.Fatalf("expected one unnotified dead job, got %d (%v)", len(unnotified), err)
	}

	h.sink.SetErr(nil)
	h.manager.Maintain(context.Background())
	if len(h.notifier.Dead()) != 1 {
		t.Fatalf("expected one notification after retry, got %d", len(h.notifier.Dead()))
	}
	unnotified, _ = h.store.ListUnnotifiedDead(context.Background())
	if len(unnotified) != 0 {
		t.Fatalf("job still unnotified")
	}
	sub, _ := h.subs.Get(context.Background(), "p1")
	if sub.Status != submissions.StatusFailed {
		t.Fatalf("status = %s", sub.Status)
	}
}

type blockingHandler struct {
	next    stage.Handler
	entered chan struct{}
	release chan struct{}
	done    chan error
	once    sync.Once
}

func newBlockingHandler(next stage.Handler) *blockingHandler {
	return &blockingHandler{
		next:    next,
		entered: make(chan struct{}),
		release: make(chan struct{}),
		done:    make(chan error, 1),
	}
}

func (b *blockingHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	res, err := b.next.Execute(ctx, req)
	b.done <- err
	return res, err
}

func (b *blockingHandler) HealthCheck(ctx context.Context) stage.Health {
	return b.next.HealthCheck(ctx)
}

func TestWithdrawDuringStageDiscardsResult(t *testing.T) {
	h := newHarness(t)
	inner, _ := h.table.Handler(queue.KindPost, queue.StageTranscribe)
	blocking := newBlockingHandler(inner)
	h.table.Override(queue.KindPost, queue.StageTranscribe, blocking)
	h.start(t)
	ack := h.submit(t, "p1", queue.KindPost, "")

	select {
	case <-blocking.entered:
	case <-time.After(10 * time.Second):
		t.Fatalf("transcribe stage never started")
	}
	if _, err := h.service.Withdraw(context.Background(), "p1"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	close(blocking.release)

	select {
	case err := <-blocking.done:
		if !errors.Is(err, services.ErrCancelled) {
			t.Fatalf("expected cancellation at checkpoint, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("stage never returned")
	}
	if len(h.caps.Transcriber.Requests()) != 0 {
		t.Fatalf("transcriber called after withdrawal")
	}

	job, _ := h.store.GetByID(context.Background(), ack.JobID)
	if job.Stage != queue.StageCancelled || job.FailedStage != queue.StageTranscribe {
		t.Fatalf("unexpected job after withdraw: stage=%s failed=%s", job.Stage, job.FailedStage)
	}
	artifacts, _ := h.store.Artifacts(context.Background(), ack.JobID)
	if _, ok := artifacts["transcript"]; ok {
		t.Fatalf("withdrawn stage committed artifacts")
	}
	if len(sinkCalls(h.sink, "MarkReady", "p1")) != 0 {
		t.Fatalf("withdrawn submission published")
	}
}

func TestExpiredLeaseIsReclaimedAndRetried(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFastPolling(), testsupport.WithMaxAttempts(3))
	clock := testsupport.NewClock(time.Now())
	h := buildHarness(t, cfg, queue.WithClock(clock.Now))
	ctx := context.Background()

	ack := h.submit(t, "p1", queue.KindPost, "")
	crashed, err := h.store.LeaseNext(ctx, "crashed-worker")
	if err != nil || crashed == nil || crashed.ID != ack.JobID {
		t.Fatalf("lease for crashed worker: %v", err)
	}
	clock.Advance(h.store.LeaseTimeout() + time.Second)
	h.manager.Maintain(ctx)

	job, _ := h.store.GetByID(ctx, ack.JobID)
	if job.LeaseToken != "" || job.Stage != queue.StageStore || job.LastErrorKind != "lease_timeout" {
		t.Fatalf("lease not released: %+v", job)
	}

	h.start(t)
	h.waitForStage(t, ack.JobID, queue.StageDone)
	attempt, _ := h.store.StageAttempt(ctx, ack.JobID, queue.StageStore)
	if attempt.Attempts != 2 || attempt.Failures != 1 {
		t.Fatalf("store attempts=%d failures=%d", attempt.Attempts, attempt.Failures)
	}
	events, err := h.store.Events(ctx, ack.JobID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var reclaimed bool
	for _, ev := range events {
		if ev.Type == queue.EventReclaimed && ev.WorkerID == "crashed-worker" {
			reclaimed = true
		}
	}
	if !reclaimed {
		t.Fatalf("no reclaim event recorded")
	}
}

func TestConcurrentWorkersProcessEachJobOnce(t *testing.T) {
	h := newHarness(t, testsupport.WithWorkers(4))
	h.start(t)

	const posts = 12
	acks := make([]string, 0, posts)
	for i := range posts {
		acks = append(acks, h.submit(t, fmt.Sprintf("p%02d", i), queue.KindPost, "").JobID)
	}
	for _, id := range acks {
		h.waitForStage(t, id, queue.StageDone)
	}
	for i := range posts {
		id := fmt.Sprintf("p%02d", i)
		if n := len(sinkCalls(h.sink, "MarkReady", id)); n != 1 {
			t.Fatalf("%s published %d times", id, n)
		}
	}
	if h.caps.Anonymizer.Calls() != posts || h.caps.Transcriber.Calls() != posts {
		t.Fatalf("capability calls: anonymize=%d transcribe=%d", h.caps.Anonymizer.Calls(), h.caps.Transcriber.Calls())
	}
	status := h.manager.Status(context.Background())
	if !status.Running || status.QueueStats[queue.StageDone] != posts || status.QueueHealth.Active != 0 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if err := h.manager.Start(context.Background()); err == nil {
		t.Fatalf("second Start should fail")
	}
}

func TestRetryDelay(t *testing.T) {
	cfg := config.Backoff{InitialSeconds: 1, Multiplier: 2, MaxSeconds: 5, Randomization: 0}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := workflow.RetryDelay(cfg, i+1); got != w {
			t.Fatalf("attempt %d: delay %s, want %s", i+1, got, w)
		}
	}

	jittered := config.Backoff{InitialSeconds: 10, Multiplier: 2, MaxSeconds: 60, Randomization: 0.5}
	for range 20 {
		got := workflow.RetryDelay(jittered, 1)
		if got < 5*time.Second || got > 15*time.Second {
			t.Fatalf("jittered delay %s outside [5s, 15s]", got)
		}
	}
}
