package stage

import (
	"context"
	"errors"
	"testing"
)

func TestRequestCheckUsesCheckpoint(t *testing.T) {
	stop := errors.New("stop")
	req := Request{Checkpoint: func(context.Context) error { return stop }}
	if err := req.Check(context.Background()); !errors.Is(err, stop) {
		t.Fatalf("expected checkpoint error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Request{}).Check(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error without checkpoint, got %v", err)
	}
}

func TestRequestArtifactIgnoresEmptyValues(t *testing.T) {
	req := Request{Artifacts: map[string]string{"raw_key": "raw/abc", "summary": ""}}
	if v, ok := req.Artifact("raw_key"); !ok || v != "raw/abc" {
		t.Fatalf("unexpected artifact %q %v", v, ok)
	}
	if _, ok := req.Artifact("summary"); ok {
		t.Fatal("empty artifact should be reported missing")
	}
	if _, ok := req.Artifact("missing"); ok {
		t.Fatal("missing artifact reported present")
	}
}

func TestHealthStatus(t *testing.T) {
	cases := []struct {
		h    Health
		want string
	}{
		{Healthy("store"), "ready"},
		{Unhealthy("publish", "sink not configured"), "unavailable"},
		{Degraded("transcribe", "circuit breaker open"), "degraded"},
	}
	for _, tc := range cases {
		if got := tc.h.Status(); got != tc.want {
			t.Fatalf("%s: status %q, want %q", tc.h.Name, got, tc.want)
		}
	}
	if d := Degraded("transcribe", "x"); !d.Ready {
		t.Fatal("degraded stages still accept work")
	}
}
