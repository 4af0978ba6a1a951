package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ventpipe/internal/config"
	"ventpipe/internal/sqlitedb"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db           *sql.DB
	path         string
	now          func() time.Time
	leaseTimeout time.Duration
	maxAttempts  int
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for scheduling and leases.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLeaseTimeout overrides the configured lease duration.
func WithLeaseTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.leaseTimeout = d
		}
	}
}

// Open initializes or connects to the job database.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.QueueDBPath()
	db, err := sqlitedb.Open(dbPath)
	if err != nil {
		return nil, err
	}

	store := &Store{
		db:           db,
		path:         dbPath,
		now:          time.Now,
		leaseTimeout: cfg.Pipeline.LeaseTimeout(),
		maxAttempts:  cfg.Pipeline.MaxAttempts,
	}
	for _, opt := range opts {
		opt(store)
	}
	if store.maxAttempts < 1 {
		store.maxAttempts = 1
	}

	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// MaxAttempts returns the per-stage attempt limit.
func (s *Store) MaxAttempts() int {
	return s.maxAttempts
}

// LeaseTimeout returns the lease duration granted by LeaseNext.
func (s *Store) LeaseTimeout() time.Duration {
	return s.leaseTimeout
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := sqlitedb.RetryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// withTx runs fn inside a write transaction, retrying the whole transaction
// while the database is busy.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx = ensureContext(ctx)
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
