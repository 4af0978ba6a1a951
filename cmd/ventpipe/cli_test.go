package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ventpipe/internal/api"
	"ventpipe/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t, "")

	out, _, err := runCLI(t, env.configPath, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, "", "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestSubmitWaitShowsAnnotations(t *testing.T) {
	env := setupCLITestEnv(t, "")
	testsupport.WriteUpload(t, env.cfg, "incoming/p1.wav", testsupport.AudioBytes(32000))

	out, _, err := runCLI(t, env.configPath, "submit", "p1", "--audio", "incoming/p1.wav", "--owner", "u1", "--wait", "10s")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, out, "Submission: p1 (post)")
	requireContains(t, out, "Status: ready")
	requireContains(t, out, "Transcript: The park on Elm street")

	out, _, err = runCLI(t, env.configPath, "show", "p1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "TL;DR:")

	_, _, err = runCLI(t, env.configPath, "retry", "p1")
	if err == nil || !strings.Contains(err.Error(), "already ready") {
		t.Fatalf("expected retry of ready submission to fail, got %v", err)
	}
	if exitCode(err) != exitConflict {
		t.Fatalf("exit code = %d, want %d", exitCode(err), exitConflict)
	}
}

func TestSubmitJSONAndJobCommands(t *testing.T) {
	env := setupCLITestEnv(t, "")
	testsupport.WriteUpload(t, env.cfg, "incoming/p2.wav", testsupport.AudioBytes(32000))

	out, _, err := runCLI(t, env.configPath, "--json", "submit", "p2", "-a", "incoming/p2.wav", "-p", "2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var ack api.SubmitResponse
	if err := json.Unmarshal([]byte(out), &ack); err != nil {
		t.Fatalf("decode ack %q: %v", out, err)
	}
	if ack.JobID == "" || ack.Run != 1 {
		t.Fatalf("unexpected ack %+v", ack)
	}

	waitFor(t, 10*time.Second, func() bool {
		job, err := env.store.GetByID(t.Context(), ack.JobID)
		return err == nil && job != nil && job.Stage == "done"
	})

	out, _, err = runCLI(t, env.configPath, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	requireContains(t, out, "p2")
	requireContains(t, out, "done")

	out, _, err = runCLI(t, env.configPath, "jobs", "list", "--stage", "dead")
	if err != nil {
		t.Fatalf("jobs list dead: %v", err)
	}
	requireContains(t, out, "No jobs")

	if _, _, err := runCLI(t, env.configPath, "jobs", "list", "--stage", "bogus"); err == nil {
		t.Fatal("expected unknown stage to fail")
	}

	out, _, err = runCLI(t, env.configPath, "jobs", "show", ack.JobID)
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	requireContains(t, out, "Submission: p2 (run 1, post)")
	requireContains(t, out, "transcribe")

	out, _, err = runCLI(t, env.configPath, "--json", "jobs", "stats")
	if err != nil {
		t.Fatalf("jobs stats: %v", err)
	}
	var counts map[string]int
	if err := json.Unmarshal([]byte(out), &counts); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if counts["done"] != 1 {
		t.Fatalf("expected one done job, got %v", counts)
	}
}

func TestSubmitValidationErrorsSurface(t *testing.T) {
	env := setupCLITestEnv(t, "")
	_, _, err := runCLI(t, env.configPath, "submit", "c1", "--kind", "comment", "--audio", "../escape.wav")
	if err == nil {
		t.Fatal("expected validation failure")
	}
	requireContains(t, err.Error(), "400")
	requireContains(t, err.Error(), "rawAudioKey")
	requireContains(t, err.Error(), "parentId")
}

func TestWithdrawUnknownSubmission(t *testing.T) {
	env := setupCLITestEnv(t, "")
	_, _, err := runCLI(t, env.configPath, "withdraw", "missing")
	if err == nil {
		t.Fatal("expected withdraw of unknown submission to fail")
	}
	requireContains(t, err.Error(), "404")
}

func TestStatusWithRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t, "")
	out, _, err := runCLI(t, env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "running (pid")
	requireContains(t, out, "Queue is empty")

	out, _, err = runCLI(t, env.configPath, "--json", "status")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if report.Daemon == nil || !report.Daemon.Running {
		t.Fatalf("expected running daemon, got %+v", report)
	}
}

func TestStatusFallsBackToDatabase(t *testing.T) {
	env := setupCLITestEnv(t, "")
	testsupport.MustEnqueue(t, env.store, "p9", "post")
	env.daemon.Stop()

	out, _, err := runCLI(t, env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, "store")

	if _, _, err := runCLI(t, env.configPath, "jobs", "list"); err == nil {
		t.Fatal("expected jobs list to fail without a daemon")
	} else {
		requireContains(t, err.Error(), "ventpipe daemon")
	}
}

func TestJobsHealthAndPurge(t *testing.T) {
	env := setupCLITestEnv(t, "")
	out, _, err := runCLI(t, env.configPath, "jobs", "health")
	if err != nil {
		t.Fatalf("jobs health: %v", err)
	}
	requireContains(t, out, "Integrity check: yes")
	requireContains(t, out, "Total jobs: 0")

	out, _, err = runCLI(t, env.configPath, "jobs", "purge", "--older-than", "1h")
	if err != nil {
		t.Fatalf("jobs purge: %v", err)
	}
	requireContains(t, out, "Removed 0 finished jobs")
}

func TestBearerTokenRequired(t *testing.T) {
	env := setupCLITestEnv(t, "s3cret")

	_, _, err := runCLI(t, env.configPath, "jobs", "stats")
	if err == nil {
		t.Fatal("expected unauthorized error without token")
	}
	requireContains(t, err.Error(), "401")

	if _, _, err := runCLI(t, env.configPath, "--token", "s3cret", "jobs", "stats"); err != nil {
		t.Fatalf("jobs stats with token: %v", err)
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t, "")
	t.Setenv("VENTPIPE_NTFY_TOPIC", "")
	out, _, err := runCLI(t, env.configPath, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "not configured")
}

func TestQueueStatRowsFollowPipelineOrder(t *testing.T) {
	rows := queueStatRows(map[string]int{"dead": 1, "store": 2, "done": 3, "transcribe": 0})
	if len(rows) != 3 {
		t.Fatalf("expected zero counts dropped, got %v", rows)
	}
	if rows[0][0] != "store" || rows[1][0] != "done" || rows[2][0] != "dead" {
		t.Fatalf("unexpected order %v", rows)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Fatalf("truncate long = %q", got)
	}
}

func TestLogsFiltersByJobAndSubmission(t *testing.T) {
	env := setupCLITestEnv(t, "")
	logPath := filepath.Join(env.cfg.Paths.LogDir, "ventpipe.log")
	content := strings.Join([]string{
		`level=INFO msg="stage started" job_id=j1 submission_id=p1 stage=anonymize`,
		`level=INFO msg="stage started" job_id=j2 submission_id=p2 stage=anonymize`,
		`level=WARN msg="stage failed" job_id=j1 submission_id=p1 stage=transcribe`,
		`level=INFO msg="api server listening"`,
	}, "\n") + "\n"
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, env.configPath, "logs", "--submission", "p1")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Count(out, "\n") != 2 || strings.Contains(out, "p2") {
		t.Fatalf("unexpected filtered output %q", out)
	}

	out, _, err = runCLI(t, env.configPath, "logs", "--job", "j1", "--grep", "WARN")
	if err != nil {
		t.Fatalf("logs --grep: %v", err)
	}
	requireContains(t, out, "stage failed")
	if strings.Contains(out, "stage started") {
		t.Fatalf("grep should exclude other lines, got %q", out)
	}

	out, _, err = runCLI(t, env.configPath, "logs", "-n", "1")
	if err != nil {
		t.Fatalf("logs -n: %v", err)
	}
	if strings.TrimSpace(out) != `level=INFO msg="api server listening"` {
		t.Fatalf("unexpected tail %q", out)
	}
}

func TestStopWithoutBackgroundDaemon(t *testing.T) {
	env := setupCLITestEnv(t, "")
	env.daemon.Stop()

	out, _, err := runCLI(t, env.configPath, "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}

func TestStartReportsRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t, "")
	out, _, err := runCLI(t, env.configPath, "start")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Daemon already running")
}

func TestLogFilterTerms(t *testing.T) {
	got := logFilterTerms(" j1 ", "", []string{"WARN", "  "})
	if len(got) != 2 || got[0] != "j1" || got[1] != "WARN" {
		t.Fatalf("unexpected terms %v", got)
	}
}
