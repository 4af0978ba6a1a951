package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ventpipe/internal/sqlitedb"
)

const jobColumns = "id, submission_id, run, kind, preset_id, raw_audio_key, stage, attempts, failures, next_run_at, lease_owner, lease_token, lease_expires_at, last_error_kind, last_error_message, failed_stage, result_json, created_at, updated_at, finished_at, notified_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job           Job
		kind          string
		stage         string
		nextRunAt     string
		leaseOwner    sql.NullString
		leaseToken    sql.NullString
		leaseExpires  sql.NullString
		lastErrorKind sql.NullString
		lastErrorMsg  sql.NullString
		failedStage   sql.NullString
		resultJSON    sql.NullString
		createdRaw    string
		updatedRaw    string
		finishedRaw   sql.NullString
		notifiedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&job.ID,
		&job.SubmissionID,
		&job.Run,
		&kind,
		&job.PresetID,
		&job.RawAudioKey,
		&stage,
		&job.Attempts,
		&job.Failures,
		&nextRunAt,
		&leaseOwner,
		&leaseToken,
		&leaseExpires,
		&lastErrorKind,
		&lastErrorMsg,
		&failedStage,
		&resultJSON,
		&createdRaw,
		&updatedRaw,
		&finishedRaw,
		&notifiedRaw,
	); err != nil {
		return nil, err
	}

	job.Kind = Kind(kind)
	job.Stage = Stage(stage)
	job.NextRunAt = sqlitedb.ParseTime(nextRunAt)
	job.LeaseOwner = leaseOwner.String
	job.LeaseToken = leaseToken.String
	job.LeaseExpiresAt = sqlitedb.ParseTime(leaseExpires.String)
	job.LastErrorKind = lastErrorKind.String
	job.LastErrorMessage = lastErrorMsg.String
	job.FailedStage = Stage(failedStage.String)
	if resultJSON.Valid && resultJSON.String != "" {
		job.Result = json.RawMessage(resultJSON.String)
	}
	job.CreatedAt = sqlitedb.ParseTime(createdRaw)
	job.UpdatedAt = sqlitedb.ParseTime(updatedRaw)
	job.FinishedAt = sqlitedb.ParseTime(finishedRaw.String)
	job.NotifiedAt = sqlitedb.ParseTime(notifiedRaw.String)
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableJSON(value json.RawMessage) any {
	if len(value) == 0 {
		return nil
	}
	return string(value)
}

func formatTime(t time.Time) string {
	return sqlitedb.FormatTime(t)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev Event) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO job_events (job_id, event_type, from_stage, to_stage, worker_id, attempt, detail, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.JobID,
		ev.Type,
		nullableString(string(ev.FromStage)),
		nullableString(string(ev.ToStage)),
		nullableString(ev.WorkerID),
		ev.Attempt,
		nullableString(ev.Detail),
		formatTime(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Type, err)
	}
	return nil
}

// bumpStageAttempts upserts the per-stage counters. attemptDelta and
// failureDelta are 0 or 1.
func bumpStageAttempts(ctx context.Context, tx *sql.Tx, jobID string, stage Stage, attemptDelta, failureDelta int, errorKind string, at time.Time) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO job_stage_attempts (job_id, stage, attempts, failures, last_error_kind, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(job_id, stage) DO UPDATE SET
            attempts = attempts + excluded.attempts,
            failures = failures + excluded.failures,
            last_error_kind = COALESCE(excluded.last_error_kind, last_error_kind),
            updated_at = excluded.updated_at`,
		jobID,
		string(stage),
		attemptDelta,
		failureDelta,
		nullableString(errorKind),
		formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("update stage attempts: %w", err)
	}
	return nil
}
