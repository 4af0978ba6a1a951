package submissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ventpipe/internal/capability"
)

// pgConn is the subset of *pgxpool.Pool the sink uses.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSink publishes results into the product database. The posts and
// comments tables are owned by the product schema; the sink only updates
// existing rows.
type PostgresSink struct {
	conn          pgConn
	pool          *pgxpool.Pool
	retentionDays int
}

// NewPostgresPool opens a pgx pool for dsn.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}

// NewPostgresSink wraps an open pool.
func NewPostgresSink(pool *pgxpool.Pool, retentionDays int) *PostgresSink {
	return &PostgresSink{conn: pool, pool: pool, retentionDays: retentionDays}
}

// Close releases the pool.
func (p *PostgresSink) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Ping verifies connectivity.
func (p *PostgresSink) Ping(ctx context.Context) error {
	if p.pool == nil {
		return nil
	}
	return p.pool.Ping(ctx)
}

// MarkReady implements Sink.
func (p *PostgresSink) MarkReady(ctx context.Context, id string, ann Annotations) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch ann.Kind {
	case capability.KindPost:
		tag, err = p.conn.Exec(ctx, `
UPDATE posts
SET status = 'ready',
    transcript = $2,
    summary = $3,
    tldr = $4,
    language = $5,
    audio_path = $6,
    audio_duration_sec = $7,
    audio_expires_at = created_at + make_interval(days => $8)
WHERE id = $1;
`, id, ann.Transcript, ann.Summary, ann.TLDR, ann.Language, ann.AnonAudioKey, int(ann.AudioDurationSec+0.5), p.retentionDays)
	case capability.KindComment:
		tag, err = p.conn.Exec(ctx, `
UPDATE comments
SET status = 'READY',
    sentiment = $2,
    anonymized_audio_path = $3
WHERE id = $1;
`, id, commentSentiment(ann.Sentiment), ann.AnonAudioKey)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, ann.Kind)
	}
	if err != nil {
		return fmt.Errorf("postgres mark ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres mark ready %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkFailed implements Sink. The product tables do not store a reason; it
// stays on the local record. Ready rows are kept except for a withdrawal,
// which the local store only accepts while the submission is not ready there,
// so a ready row here is a publish that lost the race and is taken back.
func (p *PostgresSink) MarkFailed(ctx context.Context, id, reasonKind, _ string) error {
	postSQL := `UPDATE posts SET status = 'failed' WHERE id = $1 AND status <> 'ready';`
	commentSQL := `UPDATE comments SET status = 'FAILED' WHERE id = $1 AND status <> 'READY';`
	if reasonKind == FailureWithdrawn {
		postSQL = `UPDATE posts SET status = 'failed' WHERE id = $1;`
		commentSQL = `UPDATE comments SET status = 'FAILED' WHERE id = $1;`
	}
	tag, err := p.conn.Exec(ctx, postSQL, id)
	if err != nil {
		return fmt.Errorf("postgres mark failed: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := p.conn.Exec(ctx, commentSQL, id); err != nil {
		return fmt.Errorf("postgres mark failed: %w", err)
	}
	return nil
}

// ParentSummary implements ParentLookup.
func (p *PostgresSink) ParentSummary(ctx context.Context, postID string) (string, error) {
	var summary *string
	err := p.conn.QueryRow(ctx, `SELECT summary FROM posts WHERE id = $1 AND status = 'ready';`, postID).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres parent summary: %w", err)
	}
	if summary == nil {
		return "", nil
	}
	return *summary, nil
}

// commentSentiment maps onto the comment_sentiment enum, which has no
// neutral member.
func commentSentiment(s capability.Sentiment) any {
	switch s {
	case capability.SentimentInFavor, capability.SentimentAgainst:
		return strings.ToUpper(string(s))
	default:
		return nil
	}
}
