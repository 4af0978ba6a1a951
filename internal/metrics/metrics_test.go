package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ventpipe/internal/metrics"
)

func TestHandlerExposesPipelineCollectors(t *testing.T) {
	metrics.ObserveStage("transcribe", "transient", 250*time.Millisecond)
	metrics.JobFinished("done")
	metrics.SetBreakerState("transcription", 1)
	metrics.ObserveSQL("conn-exec-context", "update", 3*time.Millisecond)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)
	for _, want := range []string{
		`ventpipe_stage_outcomes_total{outcome="transient",stage="transcribe"} 1`,
		`ventpipe_jobs_finished_total{stage="done"} 1`,
		`ventpipe_circuit_breaker_state{capability="transcription"} 1`,
		`ventpipe_sqlite_op_total{op="conn-exec-context"}`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}
