package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ventpipe/internal/sqlitedb"
)

// LeaseNext claims the next runnable job for workerID. It returns nil when
// no job is eligible. Attempts for the job's current stage are incremented
// as part of the claim.
func (s *Store) LeaseNext(ctx context.Context, workerID string) (*Job, error) {
	ctx = ensureContext(ctx)
	var job *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job = nil
		now := s.clock()
		ts := formatTime(now)
		row := tx.QueryRowContext(ctx,
			`UPDATE jobs
             SET lease_owner = ?, lease_token = ?, lease_expires_at = ?, attempts = attempts + 1, updated_at = ?
             WHERE id = (
                SELECT id FROM jobs
                WHERE stage NOT IN `+terminalStageSQL+`
                  AND next_run_at <= ?
                  AND (lease_token IS NULL OR lease_expires_at <= ?)
                  AND attempts < ?
                ORDER BY next_run_at, created_at
                LIMIT 1
             )
             RETURNING `+jobColumns,
			workerID,
			uuid.NewString(),
			formatTime(now.Add(s.leaseTimeout)),
			ts,
			ts,
			ts,
			s.maxAttempts,
		)
		leased, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lease job: %w", err)
		}
		if err := bumpStageAttempts(ctx, tx, leased.ID, leased.Stage, 1, 0, "", now); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, Event{
			JobID:     leased.ID,
			Type:      EventLeased,
			FromStage: leased.Stage,
			ToStage:   leased.Stage,
			WorkerID:  workerID,
			Attempt:   leased.Attempts,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		job = leased
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

type leaseState struct {
	stage      Stage
	token      string
	expiresAt  time.Time
	attempts   int
	submission string
}

// checkLease loads the job's lease inside tx and verifies lease still holds it.
func checkLease(ctx context.Context, tx *sql.Tx, lease Lease, now time.Time) (leaseState, error) {
	var (
		state   leaseState
		stage   string
		token   sql.NullString
		expires sql.NullString
	)
	err := tx.QueryRowContext(ctx,
		`SELECT stage, lease_token, lease_expires_at, attempts, submission_id FROM jobs WHERE id = ?`,
		lease.JobID,
	).Scan(&stage, &token, &expires, &state.attempts, &state.submission)
	if errors.Is(err, sql.ErrNoRows) {
		return state, ErrNotFound
	}
	if err != nil {
		return state, fmt.Errorf("load lease: %w", err)
	}
	state.stage = Stage(stage)
	state.token = token.String
	if expires.Valid {
		state.expiresAt = sqlitedb.ParseTime(expires.String)
	}

	if state.stage == StageCancelled {
		return state, ErrCancelled
	}
	if state.token == "" || state.token != lease.Token || state.stage != lease.Stage {
		return state, ErrLeaseExpired
	}
	if !state.expiresAt.After(now) {
		return state, ErrLeaseExpired
	}
	return state, nil
}

// CommitStage advances the job one stage, stores any new artifacts, and
// releases the lease. result replaces the stored result payload when non-empty.
func (s *Store) CommitStage(ctx context.Context, lease Lease, next Stage, artifacts map[string]string, result json.RawMessage) (*Job, error) {
	ctx = ensureContext(ctx)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.clock()
		state, err := checkLease(ctx, tx, lease, now)
		if err != nil {
			return err
		}
		expected, ok := state.stage.Next()
		if !ok || expected != next {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state.stage, next)
		}

		ts := formatTime(now)
		var finishedAt any
		if next == StageDone {
			finishedAt = ts
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs
             SET stage = ?, attempts = 0, failures = 0, next_run_at = ?,
                 lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL,
                 last_error_kind = NULL, last_error_message = NULL,
                 result_json = COALESCE(?, result_json),
                 updated_at = ?, finished_at = COALESCE(?, finished_at)
             WHERE id = ?`,
			string(next), ts, nullableJSON(result), ts, finishedAt, lease.JobID,
		); err != nil {
			return fmt.Errorf("commit stage: %w", err)
		}

		for name, value := range artifacts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO job_artifacts (job_id, name, value, stage, created_at)
                 VALUES (?, ?, ?, ?, ?)
                 ON CONFLICT(job_id, name) DO NOTHING`,
				lease.JobID, name, value, string(state.stage), ts,
			); err != nil {
				return fmt.Errorf("store artifact %s: %w", name, err)
			}
		}

		return insertEvent(ctx, tx, Event{
			JobID:     lease.JobID,
			Type:      EventCommitted,
			FromStage: state.stage,
			ToStage:   next,
			WorkerID:  lease.WorkerID,
			Attempt:   state.attempts,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, lease.JobID)
}

// RecordFailure records a failed attempt of the leased stage. Below the
// attempt limit the job is rescheduled after failure.Backoff; at the limit it
// moves to dead. The lease is released either way.
func (s *Store) RecordFailure(ctx context.Context, lease Lease, failure Failure) (*Job, error) {
	ctx = ensureContext(ctx)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.clock()
		state, err := checkLease(ctx, tx, lease, now)
		if err != nil {
			return err
		}
		if err := bumpStageAttempts(ctx, tx, lease.JobID, state.stage, 0, 1, failure.Kind, now); err != nil {
			return err
		}
		if state.attempts >= s.maxAttempts {
			return markDeadTx(ctx, tx, lease.JobID, state.stage, lease.WorkerID, state.attempts, failure.Kind, failure.Message, now)
		}

		backoff := failure.Backoff
		if backoff < 0 {
			backoff = 0
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs
             SET failures = failures + 1, next_run_at = ?,
                 lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL,
                 last_error_kind = ?, last_error_message = ?, updated_at = ?
             WHERE id = ?`,
			formatTime(now.Add(backoff)),
			nullableString(failure.Kind),
			nullableString(failure.Message),
			formatTime(now),
			lease.JobID,
		); err != nil {
			return fmt.Errorf("record failure: %w", err)
		}
		return insertEvent(ctx, tx, Event{
			JobID:     lease.JobID,
			Type:      EventRetry,
			FromStage: state.stage,
			ToStage:   state.stage,
			WorkerID:  lease.WorkerID,
			Attempt:   state.attempts,
			Detail:    fmt.Sprintf("%s: retry in %s", failure.Kind, backoff),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, lease.JobID)
}

// MarkDead moves the leased job straight to dead without further retries.
func (s *Store) MarkDead(ctx context.Context, lease Lease, kind, message string) (*Job, error) {
	ctx = ensureContext(ctx)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.clock()
		state, err := checkLease(ctx, tx, lease, now)
		if err != nil {
			return err
		}
		if err := bumpStageAttempts(ctx, tx, lease.JobID, state.stage, 0, 1, kind, now); err != nil {
			return err
		}
		return markDeadTx(ctx, tx, lease.JobID, state.stage, lease.WorkerID, state.attempts, kind, message, now)
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, lease.JobID)
}

func markDeadTx(ctx context.Context, tx *sql.Tx, jobID string, stage Stage, workerID string, attempt int, kind, message string, now time.Time) error {
	ts := formatTime(now)
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs
         SET stage = ?, failed_stage = ?, failures = failures + 1,
             lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL,
             last_error_kind = ?, last_error_message = ?, updated_at = ?, finished_at = ?
         WHERE id = ?`,
		string(StageDead), string(stage), nullableString(kind), nullableString(message), ts, ts, jobID,
	); err != nil {
		return fmt.Errorf("mark dead: %w", err)
	}
	return insertEvent(ctx, tx, Event{
		JobID:     jobID,
		Type:      EventDead,
		FromStage: stage,
		ToStage:   StageDead,
		WorkerID:  workerID,
		Attempt:   attempt,
		Detail:    kind,
		CreatedAt: now,
	})
}

// ExtendLease pushes the lease expiry forward by the lease timeout. It fails
// with ErrLeaseExpired once the lease was lost and ErrCancelled when the job
// was withdrawn.
func (s *Store) ExtendLease(ctx context.Context, lease Lease) (time.Time, error) {
	ctx = ensureContext(ctx)
	var expires time.Time
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.clock()
		if _, err := checkLease(ctx, tx, lease, now); err != nil {
			return err
		}
		expires = now.Add(s.leaseTimeout)
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET lease_expires_at = ?, updated_at = ? WHERE id = ? AND lease_token = ?`,
			formatTime(expires), formatTime(now), lease.JobID, lease.Token,
		); err != nil {
			return fmt.Errorf("extend lease: %w", err)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return expires, nil
}

// ReclaimExpired releases expired leases so the jobs can be leased again.
// Jobs that already used every attempt move to dead with kind lease_timeout.
func (s *Store) ReclaimExpired(ctx context.Context) (ReclaimResult, error) {
	ctx = ensureContext(ctx)
	var result ReclaimResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = ReclaimResult{}
		now := s.clock()
		ts := formatTime(now)
		rows, err := tx.QueryContext(ctx,
			`SELECT id, stage, attempts, COALESCE(lease_owner, '') FROM jobs
             WHERE stage NOT IN `+terminalStageSQL+`
               AND lease_token IS NOT NULL
               AND lease_expires_at <= ?`,
			ts,
		)
		if err != nil {
			return fmt.Errorf("find expired leases: %w", err)
		}
		type expired struct {
			id       string
			stage    Stage
			attempts int
			owner    string
		}
		var candidates []expired
		for rows.Next() {
			var (
				e     expired
				stage string
			)
			if err := rows.Scan(&e.id, &stage, &e.attempts, &e.owner); err != nil {
				rows.Close()
				return err
			}
			e.stage = Stage(stage)
			candidates = append(candidates, e)
		}
		if err := rows.Close(); err != nil {
			return err
		}

		for _, e := range candidates {
			if err := bumpStageAttempts(ctx, tx, e.id, e.stage, 0, 1, leaseTimeoutKind, now); err != nil {
				return err
			}
			if e.attempts >= s.maxAttempts {
				msg := fmt.Sprintf("lease held by %s expired after final attempt", e.owner)
				if err := markDeadTx(ctx, tx, e.id, e.stage, e.owner, e.attempts, leaseTimeoutKind, msg, now); err != nil {
					return err
				}
				result.Dead++
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs
                 SET failures = failures + 1, lease_owner = NULL, lease_token = NULL, lease_expires_at = NULL,
                     last_error_kind = ?, last_error_message = ?, updated_at = ?
                 WHERE id = ?`,
				leaseTimeoutKind, "lease expired before the stage finished", ts, e.id,
			); err != nil {
				return fmt.Errorf("release lease: %w", err)
			}
			if err := insertEvent(ctx, tx, Event{
				JobID:     e.id,
				Type:      EventReclaimed,
				FromStage: e.stage,
				ToStage:   e.stage,
				WorkerID:  e.owner,
				Attempt:   e.attempts,
				CreatedAt: now,
			}); err != nil {
				return err
			}
			result.Released++
		}
		return nil
	})
	return result, err
}

// ListUnnotifiedDead returns dead jobs whose failure has not been delivered
// to the publication sink yet.
func (s *Store) ListUnnotifiedDead(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE stage = ? AND notified_at IS NULL ORDER BY finished_at`,
		string(StageDead),
	)
	if err != nil {
		return nil, fmt.Errorf("list unnotified jobs: %w", err)
	}
	return scanJobs(rows)
}

// MarkNotified records that the sink accepted the job's terminal outcome.
func (s *Store) MarkNotified(ctx context.Context, jobID string) error {
	now := formatTime(s.clock())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET notified_at = ?, updated_at = ? WHERE id = ? AND notified_at IS NULL`,
		now, now, jobID,
	)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		job, err := s.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return ErrNotFound
		}
	}
	return nil
}

const leaseTimeoutKind = "lease_timeout"
