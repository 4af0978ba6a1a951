package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ventpipe/internal/config"
	"ventpipe/internal/notifications"
)

type capturedRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured = append(captured, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobDead(context.Background(), notifications.DeadJob{JobID: "j"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, captured := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	if err := svc.NotifyJobDead(ctx, notifications.DeadJob{
		JobID: "job-1", SubmissionID: "post-1", Kind: "post", Stage: "anonymize",
		ErrorKind: "permanent", Message: "corrupt audio",
	}); err != nil {
		t.Fatalf("NotifyJobDead: %v", err)
	}
	if err := svc.NotifyBreakerChange(ctx, "transcription", "closed", "open"); err != nil {
		t.Fatalf("NotifyBreakerChange: %v", err)
	}
	if err := svc.NotifyError(ctx, errors.New("disk full"), "retention"); err != nil {
		t.Fatalf("NotifyError: %v", err)
	}

	if len(*captured) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(*captured))
	}
	dead := (*captured)[0]
	if dead.title != "ventpipe - Job Dead" || dead.priority != "high" {
		t.Fatalf("unexpected dead job headers: %+v", dead)
	}
	if !strings.Contains(dead.body, "post-1 died at anonymize (permanent)") || !strings.Contains(dead.body, "corrupt audio") {
		t.Fatalf("unexpected dead job body: %q", dead.body)
	}
	breaker := (*captured)[1]
	if breaker.tags != "ventpipe,breaker,open" || breaker.body != "transcription breaker closed -> open" {
		t.Fatalf("unexpected breaker payload: %+v", breaker)
	}
	if got := (*captured)[2].body; got != "Error with retention: disk full" {
		t.Fatalf("unexpected error body: %q", got)
	}
}

func TestNtfyServiceHonoursToggles(t *testing.T) {
	srv, captured := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.DeadJobs = false
	cfg.Notifications.Breaker = false
	svc := notifications.NewService(&cfg)

	_ = svc.NotifyJobDead(context.Background(), notifications.DeadJob{JobID: "j"})
	_ = svc.NotifyBreakerChange(context.Background(), "transcription", "closed", "open")
	if len(*captured) != 0 {
		t.Fatalf("expected no requests, got %d", len(*captured))
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}
