package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ventpipe/internal/services"
)

// Call runs fn under a deadline of timeout and returns a classified error.
// A deadline hit inside fn becomes services.ErrTimeout; cancellation of the
// parent context becomes services.ErrCancelled; any error that carries no
// marker is tagged transient.
func Call(ctx context.Context, timeout time.Duration, capability, operation string, fn func(context.Context) error) error {
	callCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return services.Wrap(services.ErrCancelled, capability, operation, "call aborted", ctx.Err())
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, services.ErrTimeout) {
			return err
		}
		return services.Wrap(services.ErrTimeout, capability, operation, fmt.Sprintf("no response within %s", timeout), err)
	}
	return ensureMarked(err, capability, operation)
}

var markers = []error{
	services.ErrExternalTool,
	services.ErrValidation,
	services.ErrPermanent,
	services.ErrConfiguration,
	services.ErrNotFound,
	services.ErrTimeout,
	services.ErrTransient,
	services.ErrCancelled,
}

func ensureMarked(err error, capability, operation string) error {
	for _, marker := range markers {
		if errors.Is(err, marker) {
			return err
		}
	}
	return services.Wrap(services.ErrTransient, capability, operation, "unclassified failure", err)
}
