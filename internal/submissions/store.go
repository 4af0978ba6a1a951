package submissions

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"ventpipe/internal/capability"
	"ventpipe/internal/config"
	"ventpipe/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// Store persists submissions in SQLite.
type Store struct {
	db        *sql.DB
	path      string
	now       func() time.Time
	retention time.Duration
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open initializes or connects to the submission database.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	dbPath := cfg.SubmissionsDBPath()
	db, err := sqlitedb.Open(dbPath)
	if err != nil {
		return nil, err
	}
	store := &Store{
		db:        db,
		path:      dbPath,
		now:       time.Now,
		retention: cfg.Retention.AudioRetention(),
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists > 0 {
		var version int
		if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if version != schemaVersion {
			return fmt.Errorf("submissions schema version %d, expected %d (delete %s to start fresh)", version, schemaVersion, s.path)
		}
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	})
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return sqlitedb.RetryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

const submissionColumns = `id, kind, owner, parent_id, raw_audio_key, preset_id, status,
	transcript, summary, tldr, language, sentiment, audio_duration_sec, anon_audio_key,
	failure_kind, failure_message, created_at, updated_at, ready_at, audio_expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var (
		sub                                             Submission
		kind, status                                    string
		parentID, transcript, summary, tldr, language   sql.NullString
		sentiment, anonKey, failureKind, failureMessage sql.NullString
		duration                                        sql.NullFloat64
		createdAt, updatedAt                            string
		readyAt, expiresAt                              sql.NullString
	)
	if err := row.Scan(&sub.ID, &kind, &sub.Owner, &parentID, &sub.RawAudioKey, &sub.PresetID, &status,
		&transcript, &summary, &tldr, &language, &sentiment, &duration, &anonKey,
		&failureKind, &failureMessage, &createdAt, &updatedAt, &readyAt, &expiresAt); err != nil {
		return nil, err
	}
	sub.Kind = capability.Kind(kind)
	sub.Status = Status(status)
	sub.ParentID = parentID.String
	sub.Annotations = Annotations{
		Kind:             sub.Kind,
		Transcript:       transcript.String,
		Summary:          summary.String,
		TLDR:             tldr.String,
		Language:         language.String,
		Sentiment:        capability.Sentiment(sentiment.String),
		AudioDurationSec: duration.Float64,
		AnonAudioKey:     anonKey.String,
	}
	sub.FailureKind = failureKind.String
	sub.FailureMessage = failureMessage.String
	sub.CreatedAt = sqlitedb.ParseTime(createdAt)
	sub.UpdatedAt = sqlitedb.ParseTime(updatedAt)
	sub.ReadyAt = sqlitedb.ParseTime(readyAt.String)
	sub.AudioExpiresAt = sqlitedb.ParseTime(expiresAt.String)
	return &sub, nil
}

func nullable(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func validateRegister(req RegisterRequest) error {
	if strings.TrimSpace(req.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if strings.TrimSpace(req.RawAudioKey) == "" {
		return fmt.Errorf("%w: raw audio key is required", ErrInvalid)
	}
	switch req.Kind {
	case capability.KindPost:
		if req.ParentID != "" {
			return fmt.Errorf("%w: posts have no parent", ErrInvalid)
		}
	case capability.KindComment:
		if strings.TrimSpace(req.ParentID) == "" {
			return fmt.Errorf("%w: comments require a parent post", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, req.Kind)
	}
	return nil
}

// Register records a submission as pending. Registering an existing,
// unfinished submission again resets it for a new pipeline run; a ready
// submission is returned unchanged.
func (s *Store) Register(ctx context.Context, req RegisterRequest) (*Submission, error) {
	if err := validateRegister(req); err != nil {
		return nil, err
	}
	now := sqlitedb.FormatTime(s.clock())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanSubmission(tx.QueryRowContext(ctx,
			"SELECT "+submissionColumns+" FROM submissions WHERE id = ?", req.ID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `INSERT INTO submissions
				(id, kind, owner, parent_id, raw_audio_key, preset_id, status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)`,
				req.ID, string(req.Kind), req.Owner, nullable(req.ParentID), req.RawAudioKey, req.PresetID, now, now)
			return err
		case err != nil:
			return err
		}
		if existing.Kind != req.Kind {
			return fmt.Errorf("%w: submission %s is a %s", ErrInvalid, req.ID, existing.Kind)
		}
		if existing.Status == StatusReady {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE submissions
			SET raw_audio_key = ?, preset_id = ?, status = 'pending',
			    failure_kind = NULL, failure_message = NULL, updated_at = ?
			WHERE id = ?`,
			req.RawAudioKey, req.PresetID, now, req.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("register submission: %w", err)
	}
	return s.Get(ctx, req.ID)
}

// Get returns the full submission record. Callers exposing it outside the
// pipeline must use View.
func (s *Store) Get(ctx context.Context, id string) (*Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

// List returns submissions newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]*Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions"
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY created_at DESC, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()
	var out []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// SaveAnnotations writes results without changing visibility. Ready
// submissions are left untouched.
func (s *Store) SaveAnnotations(ctx context.Context, id string, ann Annotations) error {
	res, err := s.execWithRetry(ctx, `UPDATE submissions
		SET transcript = ?, summary = ?, tldr = ?, language = ?, sentiment = ?,
		    audio_duration_sec = ?, anon_audio_key = ?, updated_at = ?
		WHERE id = ? AND status != 'ready'`,
		nullable(ann.Transcript), nullable(ann.Summary), nullable(ann.TLDR), nullable(ann.Language),
		nullable(string(ann.Sentiment)), ann.AudioDurationSec, nullable(ann.AnonAudioKey),
		sqlitedb.FormatTime(s.clock()), id)
	if err != nil {
		return fmt.Errorf("save annotations: %w", err)
	}
	return s.requireRow(ctx, res, id)
}

// MarkReady publishes the annotations and makes them visible. Posts get an
// audio expiry of created_at plus the retention window. Marking an already
// ready submission is a no-op; a withdrawn one fails with ErrWithdrawn.
func (s *Store) MarkReady(ctx context.Context, id string, ann Annotations) error {
	now := s.clock()
	var expiresAt any
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var kind, createdAt, status string
		var failureKind sql.NullString
		if err := tx.QueryRowContext(ctx,
			"SELECT kind, created_at, status, failure_kind FROM submissions WHERE id = ?", id,
		).Scan(&kind, &createdAt, &status, &failureKind); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if withdrawn(status, failureKind.String) {
			return ErrWithdrawn
		}
		if capability.Kind(kind) == capability.KindPost && s.retention > 0 {
			expiresAt = sqlitedb.FormatTime(sqlitedb.ParseTime(createdAt).Add(s.retention))
		}
		_, err := tx.ExecContext(ctx, `UPDATE submissions
			SET status = 'ready', transcript = ?, summary = ?, tldr = ?, language = ?, sentiment = ?,
			    audio_duration_sec = ?, anon_audio_key = ?, failure_kind = NULL, failure_message = NULL,
			    ready_at = ?, audio_expires_at = ?, updated_at = ?
			WHERE id = ? AND status != 'ready'`,
			nullable(ann.Transcript), nullable(ann.Summary), nullable(ann.TLDR), nullable(ann.Language),
			nullable(string(ann.Sentiment)), ann.AudioDurationSec, nullable(ann.AnonAudioKey),
			sqlitedb.FormatTime(now), expiresAt, sqlitedb.FormatTime(now), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	return nil
}

// Withdraw records the owner's withdrawal. Withdraw and MarkReady each read
// and update the row in one transaction, so exactly one of them wins: a
// ready submission cannot be withdrawn (ErrAlreadyReady) and a withdrawn one
// is never published.
func (s *Store) Withdraw(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, "SELECT status FROM submissions WHERE id = ?", id).Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if Status(status) == StatusReady {
			return ErrAlreadyReady
		}
		_, err := tx.ExecContext(ctx, `UPDATE submissions
			SET status = 'failed', failure_kind = ?, failure_message = 'submission withdrawn', updated_at = ?
			WHERE id = ?`,
			FailureWithdrawn, sqlitedb.FormatTime(s.clock()), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("withdraw submission %s: %w", id, err)
	}
	return nil
}

// Publishable fails with ErrWithdrawn once the submission was withdrawn.
func (s *Store) Publishable(ctx context.Context, id string) error {
	var status string
	var failureKind sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT status, failure_kind FROM submissions WHERE id = ?", id).Scan(&status, &failureKind)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check submission: %w", err)
	}
	if withdrawn(status, failureKind.String) {
		return ErrWithdrawn
	}
	return nil
}

func withdrawn(status, failureKind string) bool {
	return Status(status) == StatusFailed && failureKind == FailureWithdrawn
}

// MarkFailed records a terminal failure. A ready submission is never
// downgraded.
func (s *Store) MarkFailed(ctx context.Context, id, reasonKind, message string) error {
	res, err := s.execWithRetry(ctx, `UPDATE submissions
		SET status = 'failed', failure_kind = ?, failure_message = ?, updated_at = ?
		WHERE id = ? AND status != 'ready'`,
		nullable(reasonKind), nullable(message), sqlitedb.FormatTime(s.clock()), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return s.requireRow(ctx, res, id)
}

// ParentSummary returns the summary of a ready post, or "" when the post is
// not ready yet.
func (s *Store) ParentSummary(ctx context.Context, postID string) (string, error) {
	var status string
	var summary sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT status, summary FROM submissions WHERE id = ? AND kind = 'post'", postID).Scan(&status, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("parent summary: %w", err)
	}
	if Status(status) != StatusReady {
		return "", nil
	}
	return summary.String, nil
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// requireRow distinguishes "no such submission" from "already ready".
func (s *Store) requireRow(ctx context.Context, res sql.Result, id string) error {
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return nil
}
