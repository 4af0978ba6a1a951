package submissions

import (
	"context"
	"errors"
)

// Sink receives the outcome of a pipeline run.
type Sink interface {
	MarkReady(ctx context.Context, id string, ann Annotations) error
	MarkFailed(ctx context.Context, id, reasonKind, message string) error
}

// ParentLookup resolves the summary a comment's sentiment is judged against.
type ParentLookup interface {
	ParentSummary(ctx context.Context, postID string) (string, error)
}

// Tee publishes to an external sink before the local store, so the local
// record only turns ready once the product database has the result.
type Tee struct {
	Local    *Store
	External Sink
}

// MarkReady implements Sink. A withdrawn submission is refused before the
// external database sees it.
func (t Tee) MarkReady(ctx context.Context, id string, ann Annotations) error {
	if err := t.Local.Publishable(ctx, id); err != nil {
		return err
	}
	if t.External != nil {
		if err := t.External.MarkReady(ctx, id, ann); err != nil {
			return err
		}
	}
	err := t.Local.MarkReady(ctx, id, ann)
	if errors.Is(err, ErrWithdrawn) && t.External != nil {
		// The withdrawal landed between the check and the external write.
		if undoErr := t.External.MarkFailed(ctx, id, FailureWithdrawn, "submission withdrawn"); undoErr != nil {
			return errors.Join(err, undoErr)
		}
	}
	return err
}

// MarkFailed implements Sink.
func (t Tee) MarkFailed(ctx context.Context, id, reasonKind, message string) error {
	if t.External != nil {
		if err := t.External.MarkFailed(ctx, id, reasonKind, message); err != nil {
			return err
		}
	}
	return t.Local.MarkFailed(ctx, id, reasonKind, message)
}

// ParentSummary prefers the local record and falls back to the external
// database when it knows the post.
func (t Tee) ParentSummary(ctx context.Context, postID string) (string, error) {
	summary, err := t.Local.ParentSummary(ctx, postID)
	if err == nil && summary != "" {
		return summary, nil
	}
	if lookup, ok := t.External.(ParentLookup); ok {
		if external, extErr := lookup.ParentSummary(ctx, postID); extErr == nil {
			return external, nil
		} else if !errors.Is(extErr, ErrNotFound) {
			return "", extErr
		}
	}
	return summary, err
}
