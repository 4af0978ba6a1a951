package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ventpipe/internal/queue"
	"ventpipe/internal/testsupport"
)

func TestEnqueueCreatesJobAtStoreStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, queue.EnqueueRequest{
		SubmissionID: "sub-1",
		Kind:         queue.KindPost,
		PresetID:     "pitch-shift-lo",
		RawAudioKey:  "raw-1",
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected job id to be assigned")
	}
	if job.Stage != queue.StageStore || job.Run != 1 || job.Attempts != 0 {
		t.Fatalf("unexpected new job: %#v", job)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.RawAudioKey != "raw-1" || fetched.Kind != queue.KindPost {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}

	missing, err := store.GetByID(ctx, "does-not-exist")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing job, got %#v err=%v", missing, err)
	}

	events, err := store.Events(ctx, job.ID)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != queue.EventEnqueued {
		t.Fatalf("expected enqueued event, got %#v", events)
	}
}

func TestEnqueueValidatesInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	cases := []struct {
		name string
		req  queue.EnqueueRequest
	}{
		{"missing submission", queue.EnqueueRequest{Kind: queue.KindPost}},
		{"unknown kind", queue.EnqueueRequest{SubmissionID: "s", Kind: "video"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.Enqueue(ctx, tc.req); err == nil {
				t.Fatal("expected enqueue error")
			}
		})
	}
}

func TestEnqueueRejectsSecondActiveJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.MustEnqueue(t, store, "sub-1", queue.KindPost)
	_, err := store.Enqueue(ctx, queue.EnqueueRequest{SubmissionID: "sub-1", Kind: queue.KindPost})
	if !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// A different submission is unaffected.
	testsupport.MustEnqueue(t, store, "sub-2", queue.KindComment)
}

func TestConcurrentEnqueueSingleWinner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		other     []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.Enqueue(ctx, queue.EnqueueRequest{
				SubmissionID: "sub-race",
				Kind:         queue.KindComment,
				PresetID:     "deep-formant",
				RawAudioKey:  "raw-race",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, queue.ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if successes != 1 || conflicts != callers-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", callers-1, successes, conflicts)
	}

	jobs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected exactly one job row, got %d", len(jobs))
	}
}

func TestCancelMovesActiveJobToCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustEnqueue(t, store, "sub-1", queue.KindPost)
	cancelled, err := store.Cancel(ctx, "sub-1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.ID != job.ID || cancelled.Stage != queue.StageCancelled {
		t.Fatalf("unexpected cancelled job: %#v", cancelled)
	}
	if cancelled.FailedStage != queue.StageStore || cancelled.FinishedAt.IsZero() {
		t.Fatalf("expected cancel to record stage and finish time: %#v", cancelled)
	}

	isCancelled, err := store.IsCancelled(ctx, job.ID)
	if err != nil || !isCancelled {
		t.Fatalf("expected IsCancelled true, got %v err=%v", isCancelled, err)
	}

	if _, err := store.Cancel(ctx, "sub-1"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second cancel, got %v", err)
	}

	leased, err := store.LeaseNext(ctx, "worker-1")
	if err != nil {
		t.Fatalf("LeaseNext failed: %v", err)
	}
	if leased != nil {
		t.Fatalf("cancelled job must not be leased, got %#v", leased)
	}

	// The slot is free again for a new submission run.
	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{SubmissionID: "sub-1", Kind: queue.KindPost}); err != nil {
		t.Fatalf("expected enqueue after cancel to succeed: %v", err)
	}
}

func TestRequeueStartsNewRunForDeadJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustEnqueue(t, store, "sub-1", queue.KindPost)

	if _, err := store.Requeue(ctx, "sub-1"); !errors.Is(err, queue.ErrConflict) {
		t.Fatalf("expected ErrConflict while job active, got %v", err)
	}
	if _, err := store.Requeue(ctx, "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown submission, got %v", err)
	}

	leased := mustLease(t, store, "worker-1")
	if _, err := store.MarkDead(ctx, leased.Lease(), "validation", "bad audio"); err != nil {
		t.Fatalf("MarkDead failed: %v", err)
	}

	rerun, err := store.Requeue(ctx, "sub-1")
	if err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	if rerun.ID == job.ID || rerun.Run != 2 || rerun.Stage != queue.StageStore {
		t.Fatalf("unexpected requeued job: %#v", rerun)
	}
	if rerun.RawAudioKey != job.RawAudioKey || rerun.PresetID != job.PresetID {
		t.Fatalf("requeue must keep the submission inputs: %#v", rerun)
	}

	artifacts, err := store.Artifacts(ctx, rerun.ID)
	if err != nil {
		t.Fatalf("Artifacts failed: %v", err)
	}
	if len(artifacts) != 0 {
		t.Fatalf("expected no carried-over artifacts, got %v", artifacts)
	}

	latest, err := store.LatestBySubmission(ctx, "sub-1")
	if err != nil || latest == nil || latest.ID != rerun.ID {
		t.Fatalf("expected latest run to be the requeued job, got %#v err=%v", latest, err)
	}
}

func TestHealthAndStats(t *testing.T) {
	clock := testsupport.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		testsupport.MustEnqueue(t, store, fmt.Sprintf("sub-%d", i), queue.KindPost)
		clock.Advance(time.Millisecond)
	}
	mustLease(t, store, "worker-1")
	if _, err := store.Cancel(ctx, "sub-2"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 3 || health.Active != 2 || health.Leased != 1 || health.Waiting != 1 || health.Cancelled != 1 {
		t.Fatalf("unexpected health: %#v", health)
	}

	dbHealth, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !dbHealth.DatabaseExists || !dbHealth.DatabaseReadable || !dbHealth.TableExists || !dbHealth.IntegrityCheck {
		t.Fatalf("unexpected database health: %#v", dbHealth)
	}
	if dbHealth.TotalJobs != 3 || dbHealth.SchemaVersion != 1 {
		t.Fatalf("unexpected database counts: %#v", dbHealth)
	}
}

func TestPurgeFinishedKeepsDeadJobs(t *testing.T) {
	clock := testsupport.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg, queue.WithClock(clock.Now))
	ctx := context.Background()

	testsupport.MustEnqueue(t, store, "cancelled", queue.KindPost)
	if _, err := store.Cancel(ctx, "cancelled"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	testsupport.MustEnqueue(t, store, "dead", queue.KindPost)
	leased := mustLease(t, store, "worker-1")
	if _, err := store.MarkDead(ctx, leased.Lease(), "validation", "bad"); err != nil {
		t.Fatalf("MarkDead failed: %v", err)
	}

	clock.Advance(48 * time.Hour)
	removed, err := store.PurgeFinished(ctx, clock.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeFinished failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one purged job, got %d", removed)
	}
	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Stage != queue.StageDead {
		t.Fatalf("expected only the dead job to remain, got %#v", remaining)
	}
}

func mustLease(t *testing.T, store *queue.Store, worker string) *queue.Job {
	t.Helper()
	job, err := store.LeaseNext(context.Background(), worker)
	if err != nil {
		t.Fatalf("LeaseNext failed: %v", err)
	}
	if job == nil {
		t.Fatal("expected a leasable job")
	}
	return job
}
