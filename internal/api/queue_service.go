package api

import (
	"context"

	"ventpipe/internal/queue"
)

// JobReader abstracts the job store reads needed for API queries.
type JobReader interface {
	List(ctx context.Context, stages ...queue.Stage) ([]*queue.Job, error)
	Stats(ctx context.Context) (map[queue.Stage]int, error)
	GetByID(ctx context.Context, id string) (*queue.Job, error)
	StageAttempts(ctx context.Context, jobID string) ([]queue.StageAttempt, error)
	Events(ctx context.Context, jobID string) ([]queue.Event, error)
}

// JobService exposes read-only job operations returning API DTOs.
type JobService struct {
	store JobReader
}

// NewJobService constructs a JobService around the provided reader.
func NewJobService(store JobReader) *JobService {
	if store == nil {
		return nil
	}
	return &JobService{store: store}
}

// List returns jobs filtered by stage, newest first.
func (s *JobService) List(ctx context.Context, stages ...queue.Stage) ([]Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	jobs, err := s.store.List(ctx, stages...)
	if err != nil {
		return nil, err
	}
	return SortJobsNewestFirst(FromJobs(jobs)), nil
}

// Stats returns job counts keyed by stage string.
func (s *JobService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Describe fetches a single job with its attempt counters and history.
func (s *JobService) Describe(ctx context.Context, id string) (*JobDetail, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.GetByID(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	attempts, err := s.store.StageAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.store.Events(ctx, id)
	if err != nil {
		return nil, err
	}
	return &JobDetail{
		Job:      FromJob(job),
		Attempts: FromStageAttempts(attempts),
		Events:   FromEvents(events),
	}, nil
}
