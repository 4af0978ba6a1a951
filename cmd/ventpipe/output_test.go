package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"ventpipe/internal/api"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), exitFailure},
		{fmt.Errorf("wait: %w", context.Canceled), exitInterrupted},
		{fmt.Errorf("connect to daemon: %w", api.ErrDaemonUnavailable), exitUnavailable},
		{&api.StatusError{Code: http.StatusConflict, Msg: "already ready"}, exitConflict},
		{&api.StatusError{Code: http.StatusNotFound, Msg: "not found"}, exitRejected},
		{&api.StatusError{Code: http.StatusBadRequest, Msg: "validation failed"}, exitRejected},
		{&api.StatusError{Code: http.StatusInternalServerError, Msg: "internal"}, exitFailure},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWriteJSONKeepsTranscriptText(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := writeJSON(cmd, map[string]string{"transcript": "parks & trails <downtown>"}); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	if !strings.Contains(out.String(), `"parks & trails <downtown>"`) {
		t.Fatalf("transcript escaped: %s", out.String())
	}
}

func TestJobsTableFooterCountsLeases(t *testing.T) {
	jobs := []api.Job{
		{ID: "0123456789abcdef", SubmissionID: "p1", Run: 1, Kind: "post", Stage: "transcribe", Leased: true},
		{ID: "fedcba9876543210", SubmissionID: "p2", Run: 2, Kind: "post", Stage: "store"},
	}
	layout := tableLayout{Headers: []string{"Job", "Submission", "Run"}, Aligns: []columnAlignment{alignLeft, alignLeft, alignRight}, Footer: jobsFooter(jobs)}
	rendered := layout.render([][]string{{"a", "p1", "1"}, {"b"}})
	if !strings.Contains(rendered, "2 jobs, 1 leased") {
		t.Fatalf("missing footer in\n%s", rendered)
	}
	if jobsFooter(jobs[:1]) != "1 job, 1 leased" {
		t.Fatalf("footer = %q", jobsFooter(jobs[:1]))
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("table without headers should render nothing")
	}
}
