package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"ventpipe/internal/config"
	"ventpipe/internal/queue"
	"ventpipe/internal/submissions"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...queue.Option) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenSubmissions opens a submissions.Store for tests and registers cleanup.
func MustOpenSubmissions(t testing.TB, cfg *config.Config, opts ...submissions.Option) *submissions.Store {
	t.Helper()

	store, err := submissions.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("submissions.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustEnqueue creates a job for tests using the provided store.
func MustEnqueue(t testing.TB, store *queue.Store, submissionID string, kind queue.Kind) *queue.Job {
	t.Helper()

	job, err := store.Enqueue(context.Background(), queue.EnqueueRequest{
		SubmissionID: submissionID,
		Kind:         kind,
		PresetID:     "pitch-shift-lo",
		RawAudioKey:  "raw-" + submissionID,
	})
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return job
}

// Clock is a manually advanced time source for lease tests.
type Clock struct {
	now time.Time
	mu  sync.Mutex
}

// NewClock returns a clock fixed at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
