package queue

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"ventpipe/internal/sqlitedb"
)

// Artifacts returns the artifacts committed for a job keyed by name.
// Stages consult this before calling a capability so re-executions after a
// lost lease reuse what an earlier attempt already produced.
func (s *Store) Artifacts(ctx context.Context, jobID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT name, value FROM job_artifacts WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		artifacts[name] = value
	}
	return artifacts, rows.Err()
}

// ArtifactInUse reports whether a job that can still run holds value as
// one of its artifacts. Content-addressed blob keys are shared between
// submissions, so a key can outlive every submission row that named it.
func (s *Store) ArtifactInUse(ctx context.Context, value string) (bool, error) {
	var refs int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM job_artifacts a JOIN jobs j ON j.id = a.job_id
         WHERE a.value = ? AND j.stage NOT IN `+terminalStageSQL, value).Scan(&refs)
	if err != nil {
		return false, fmt.Errorf("check artifact references: %w", err)
	}
	return refs > 0, nil
}

// StageAttempts returns the per-stage attempt history of a job in pipeline order.
func (s *Store) StageAttempts(ctx context.Context, jobID string) ([]StageAttempt, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT stage, attempts, failures, last_error_kind, updated_at
         FROM job_stage_attempts WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list stage attempts: %w", err)
	}
	defer rows.Close()

	var attempts []StageAttempt
	for rows.Next() {
		var (
			a       StageAttempt
			stage   string
			kind    sql.NullString
			updated string
		)
		if err := rows.Scan(&stage, &a.Attempts, &a.Failures, &kind, &updated); err != nil {
			return nil, err
		}
		a.Stage = Stage(stage)
		a.LastErrorKind = kind.String
		a.UpdatedAt = sqlitedb.ParseTime(updated)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortStageAttempts(attempts)
	return attempts, nil
}

// StageAttempt returns the history for one stage, or a zero value when the
// stage never ran.
func (s *Store) StageAttempt(ctx context.Context, jobID string, stage Stage) (StageAttempt, error) {
	all, err := s.StageAttempts(ctx, jobID)
	if err != nil {
		return StageAttempt{}, err
	}
	for _, a := range all {
		if a.Stage == stage {
			return a, nil
		}
	}
	return StageAttempt{Stage: stage}, nil
}

func sortStageAttempts(attempts []StageAttempt) {
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].Stage.Rank() < attempts[j].Stage.Rank()
	})
}

// Events returns the job's transition history, oldest first.
func (s *Store) Events(ctx context.Context, jobID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, job_id, event_type, from_stage, to_stage, worker_id, attempt, detail, created_at
         FROM job_events WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev      Event
			from    sql.NullString
			to      sql.NullString
			worker  sql.NullString
			detail  sql.NullString
			created string
		)
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Type, &from, &to, &worker, &ev.Attempt, &detail, &created); err != nil {
			return nil, err
		}
		ev.FromStage = Stage(from.String)
		ev.ToStage = Stage(to.String)
		ev.WorkerID = worker.String
		ev.Detail = detail.String
		ev.CreatedAt = sqlitedb.ParseTime(created)
		events = append(events, ev)
	}
	return events, rows.Err()
}
