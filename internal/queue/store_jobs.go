package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ventpipe/internal/sqlitedb"
)

// Enqueue creates a job at the store stage. It returns ErrConflict when the
// submission already has a non-terminal job.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error) {
	req.SubmissionID = strings.TrimSpace(req.SubmissionID)
	if req.SubmissionID == "" {
		return nil, errors.New("enqueue: submission id is required")
	}
	if _, ok := ParseKind(string(req.Kind)); !ok {
		return nil, fmt.Errorf("enqueue: unknown kind %q", req.Kind)
	}

	var jobID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := insertJob(ctx, tx, req, s.clock())
		jobID = id
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, jobID)
}

func insertJob(ctx context.Context, tx *sql.Tx, req EnqueueRequest, now time.Time) (string, error) {
	var run int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(run), 0) + 1 FROM jobs WHERE submission_id = ?`,
		req.SubmissionID,
	).Scan(&run); err != nil {
		return "", fmt.Errorf("next run number: %w", err)
	}

	id := uuid.NewString()
	ts := formatTime(now)
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, submission_id, run, kind, preset_id, raw_audio_key, stage,
            attempts, failures, next_run_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
		id,
		req.SubmissionID,
		run,
		string(req.Kind),
		req.PresetID,
		req.RawAudioKey,
		string(StageStore),
		ts,
		ts,
		ts,
	)
	if err != nil {
		if sqlitedb.IsConstraint(err) {
			return "", ErrConflict
		}
		return "", fmt.Errorf("insert job: %w", err)
	}

	if err := insertEvent(ctx, tx, Event{
		JobID:     id,
		Type:      EventEnqueued,
		ToStage:   StageStore,
		Detail:    fmt.Sprintf("run %d", run),
		CreatedAt: now,
	}); err != nil {
		return "", err
	}
	return id, nil
}

// GetByID fetches a job by identifier. It returns nil when the job does not exist.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ActiveBySubmission returns the submission's non-terminal job, or nil.
func (s *Store) ActiveBySubmission(ctx context.Context, submissionID string) (*Job, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE submission_id = ? AND stage NOT IN `+terminalStageSQL+` LIMIT 1`,
		submissionID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job: %w", err)
	}
	return job, nil
}

// LatestBySubmission returns the most recent run for the submission, or nil.
func (s *Store) LatestBySubmission(ctx context.Context, submissionID string) (*Job, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE submission_id = ? ORDER BY run DESC LIMIT 1`,
		submissionID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest job: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by stage, oldest first. No stages means all jobs.
func (s *Store) List(ctx context.Context, stages ...Stage) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(stages))
	if len(stages) > 0 {
		query += ` WHERE stage IN (` + makePlaceholders(len(stages)) + `)`
		for _, stage := range stages {
			args = append(args, string(stage))
		}
	}
	query += ` ORDER BY created_at, run`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return scanJobs(rows)
}

// Cancel moves the submission's active job to cancelled. A worker holding
// the lease observes this through IsCancelled or a failed commit.
func (s *Store) Cancel(ctx context.Context, submissionID string) (*Job, error) {
	var jobID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.clock()
		var from string
		err := tx.QueryRowContext(ctx,
			`SELECT id, stage FROM jobs WHERE submission_id = ? AND stage NOT IN `+terminalStageSQL+` LIMIT 1`,
			submissionID,
		).Scan(&jobID, &from)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("find active job: %w", err)
		}

		ts := formatTime(now)
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs
             SET stage = ?, failed_stage = ?, lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL,
                 last_error_kind = 'cancelled', last_error_message = 'submission withdrawn',
                 updated_at = ?, finished_at = ?
             WHERE id = ?`,
			string(StageCancelled), from, ts, ts, jobID,
		); err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		return insertEvent(ctx, tx, Event{
			JobID:     jobID,
			Type:      EventCancelled,
			FromStage: Stage(from),
			ToStage:   StageCancelled,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, jobID)
}

// IsCancelled reports whether the job has been cancelled.
func (s *Store) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	var stage string
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT stage FROM jobs WHERE id = ?`, jobID).Scan(&stage)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check cancellation: %w", err)
	}
	return Stage(stage) == StageCancelled, nil
}

// Requeue starts a new run for a submission whose latest job is dead or
// cancelled. Artifacts from earlier runs are not carried over.
func (s *Store) Requeue(ctx context.Context, submissionID string) (*Job, error) {
	var jobID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE submission_id = ? ORDER BY run DESC LIMIT 1`,
			submissionID,
		)
		latest, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("latest job: %w", err)
		}
		switch latest.Stage {
		case StageDead, StageCancelled:
		case StageDone:
			return fmt.Errorf("%w: submission %s already processed", ErrInvalidTransition, submissionID)
		default:
			return ErrConflict
		}
		id, err := insertJob(ctx, tx, EnqueueRequest{
			SubmissionID: latest.SubmissionID,
			Kind:         latest.Kind,
			PresetID:     latest.PresetID,
			RawAudioKey:  latest.RawAudioKey,
		}, s.clock())
		jobID = id
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, jobID)
}
