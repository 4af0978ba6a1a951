package queue

import "errors"

var (
	// ErrConflict is returned by Enqueue when the submission already has an active job.
	ErrConflict = errors.New("active job already exists for submission")
	// ErrLeaseExpired is returned when the caller no longer holds the job's lease.
	ErrLeaseExpired = errors.New("lease expired")
	// ErrCancelled is returned when the job was cancelled while leased.
	ErrCancelled = errors.New("job cancelled")
	// ErrNotFound is returned when no matching job exists.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned for a commit that does not advance exactly one stage.
	ErrInvalidTransition = errors.New("invalid stage transition")
)
