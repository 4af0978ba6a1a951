package submissions

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"ventpipe/internal/logging"
	"ventpipe/internal/sqlitedb"
)

// BlobDeleter removes stored audio.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// ArtifactReferences reports whether an unfinished job still needs a blob.
type ArtifactReferences interface {
	ArtifactInUse(ctx context.Context, value string) (bool, error)
}

// SweepResult summarizes one retention sweep.
type SweepResult struct {
	Cleared  int
	Deleted  int
	Retained int
}

// ClearExpiredAudio detaches the audio key from every ready post whose
// retention window ended at or before now. It returns the keys that no
// submission references any more.
func (s *Store) ClearExpiredAudio(ctx context.Context, now time.Time) (cleared int, orphaned []string, err error) {
	cutoff := sqlitedb.FormatTime(now.UTC())
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		cleared, orphaned = 0, nil
		rows, err := tx.QueryContext(ctx, `SELECT id, anon_audio_key FROM submissions
			WHERE anon_audio_key IS NOT NULL AND audio_expires_at IS NOT NULL AND audio_expires_at <= ?`, cutoff)
		if err != nil {
			return err
		}
		expired := make(map[string]string)
		for rows.Next() {
			var id, key string
			if err := rows.Scan(&id, &key); err != nil {
				rows.Close()
				return err
			}
			expired[id] = key
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		keys := make(map[string]struct{})
		for id, key := range expired {
			if _, err := tx.ExecContext(ctx,
				"UPDATE submissions SET anon_audio_key = NULL, updated_at = ? WHERE id = ?", cutoff, id); err != nil {
				return err
			}
			keys[key] = struct{}{}
			cleared++
		}
		for key := range keys {
			var refs int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(1) FROM submissions WHERE anon_audio_key = ?", key).Scan(&refs); err != nil {
				return err
			}
			if refs == 0 {
				orphaned = append(orphaned, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("clear expired audio: %w", err)
	}
	return cleared, orphaned, nil
}

// Sweeper enforces audio retention. Jobs, when set, keeps blobs that an
// in-flight job committed as an artifact.
type Sweeper struct {
	Store  *Store
	Blobs  BlobDeleter
	Jobs   ArtifactReferences
	Logger *slog.Logger
}

// Sweep clears expired audio references and deletes the blobs left without
// a reference. Blob deletion failures are logged, not returned.
func (sw Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	logger := sw.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	cleared, orphaned, err := sw.Store.ClearExpiredAudio(ctx, sw.Store.clock())
	if err != nil {
		return SweepResult{}, err
	}
	result := SweepResult{Cleared: cleared}
	for _, key := range orphaned {
		if sw.Blobs == nil {
			break
		}
		if sw.Jobs != nil {
			inUse, err := sw.Jobs.ArtifactInUse(ctx, key)
			if err != nil {
				logging.WarnWithContext(logger, "check in-flight audio failed", "retention_check_failed",
					logging.String("blob_key", key),
					logging.Error(err),
					logging.Hint("the blob is kept; remove it manually once no job needs it"),
				)
				result.Retained++
				continue
			}
			if inUse {
				result.Retained++
				continue
			}
		}
		if err := sw.Blobs.Delete(ctx, key); err != nil {
			logging.WarnWithContext(logger, "delete expired audio failed", "retention_delete_failed",
				logging.String("blob_key", key),
				logging.Error(err),
				logging.Hint("remove the blob manually; it is no longer referenced"),
			)
			continue
		}
		result.Deleted++
	}
	if result.Cleared > 0 {
		logger.Info("audio retention sweep",
			logging.Int("cleared", result.Cleared),
			logging.Int("deleted", result.Deleted),
			logging.Int("retained", result.Retained),
			logging.String(logging.FieldEventType, "retention_sweep"),
		)
	}
	return result, nil
}
