package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ventpipe/internal/capability"
	"ventpipe/internal/config"
	"ventpipe/internal/queue"
	"ventpipe/internal/services"
	"ventpipe/internal/submissions"
)

// ErrConflict is returned when a submission already has an active job.
var ErrConflict = queue.ErrConflict

// SubmitRequest hands a stored upload to the pipeline.
type SubmitRequest struct {
	SubmissionID string
	Kind         string
	Owner        string
	ParentID     string
	RawAudioKey  string
	PresetID     string
}

// Ack acknowledges a submission.
type Ack struct {
	SubmissionID string
	JobID        string
	Run          int
	Status       submissions.Status
	// AlreadyReady is set when the submission was processed before and
	// nothing new was scheduled.
	AlreadyReady bool
}

// StatusView is the externally visible state of one submission.
type StatusView struct {
	Submission submissions.Submission
	Status     submissions.Status
	Job        *queue.Job
}

// Service is the intake surface shared by the HTTP API and the CLI.
type Service struct {
	// intake serialises the check-then-write sequences of submit, retry and
	// withdraw. The daemon owns the only Service writing to the store.
	intake sync.Mutex

	cfg         *config.Config
	queue       *queue.Store
	submissions *submissions.Store
	sink        submissions.Sink
	now         func() time.Time
}

// NewService wires the intake surface. sink defaults to the local store.
func NewService(cfg *config.Config, store *queue.Store, subs *submissions.Store, sink submissions.Sink) *Service {
	if sink == nil {
		sink = subs
	}
	return &Service{cfg: cfg, queue: store, submissions: subs, sink: sink, now: time.Now}
}

// SubmitForProcessing registers the submission and enqueues a run. It fails
// with ErrConflict while a run is active. Calling it again for a submission
// that is already ready acknowledges without scheduling work; calling it
// after a failed or withdrawn run starts a new run.
func (s *Service) SubmitForProcessing(ctx context.Context, req SubmitRequest) (Ack, error) {
	s.intake.Lock()
	defer s.intake.Unlock()

	kind, ok := queue.ParseKind(req.Kind)
	if !ok {
		return Ack{}, services.Wrap(services.ErrValidation, "submit", "parse kind", fmt.Sprintf("unknown kind %q", req.Kind), nil)
	}
	presetValue := strings.TrimSpace(req.PresetID)
	if presetValue == "" {
		presetValue = s.cfg.Anonymizer.DefaultPreset
	}
	preset, err := capability.LookupPreset(presetValue, s.cfg.Anonymizer.AllowPassthrough)
	if err != nil {
		return Ack{}, err
	}

	active, err := s.queue.ActiveBySubmission(ctx, req.SubmissionID)
	if err != nil {
		return Ack{}, err
	}
	if active != nil {
		return Ack{}, fmt.Errorf("submission %s: %w", req.SubmissionID, ErrConflict)
	}

	sub, err := s.submissions.Register(ctx, submissions.RegisterRequest{
		ID:          strings.TrimSpace(req.SubmissionID),
		Kind:        capability.Kind(kind),
		Owner:       strings.TrimSpace(req.Owner),
		ParentID:    strings.TrimSpace(req.ParentID),
		RawAudioKey: strings.TrimSpace(req.RawAudioKey),
		PresetID:    preset.Name,
	})
	if err != nil {
		if errors.Is(err, submissions.ErrInvalid) {
			return Ack{}, services.Wrap(services.ErrValidation, "submit", "register", "", err)
		}
		return Ack{}, err
	}
	if sub.Status == submissions.StatusReady {
		ack := Ack{SubmissionID: sub.ID, Status: sub.Status, AlreadyReady: true}
		if latest, err := s.queue.LatestBySubmission(ctx, sub.ID); err == nil && latest != nil {
			ack.JobID, ack.Run = latest.ID, latest.Run
		}
		return ack, nil
	}

	job, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		SubmissionID: sub.ID,
		Kind:         kind,
		PresetID:     preset.Name,
		RawAudioKey:  sub.RawAudioKey,
	})
	if err != nil {
		if errors.Is(err, queue.ErrConflict) {
			return Ack{}, fmt.Errorf("submission %s: %w", sub.ID, ErrConflict)
		}
		return Ack{}, err
	}
	return Ack{SubmissionID: sub.ID, JobID: job.ID, Run: job.Run, Status: submissions.StatusPending}, nil
}

// Withdraw cancels the submission's active run. The local record is marked
// withdrawn first so a publish racing with it is refused; a submission that
// is already ready cannot be withdrawn. Workers notice before their next
// capability call and drop their result.
func (s *Service) Withdraw(ctx context.Context, submissionID string) (*queue.Job, error) {
	s.intake.Lock()
	defer s.intake.Unlock()

	active, err := s.queue.ActiveBySubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, fmt.Errorf("no active job for submission %s: %w", submissionID, queue.ErrNotFound)
	}
	if err := s.submissions.Withdraw(ctx, submissionID); err != nil {
		if errors.Is(err, submissions.ErrAlreadyReady) {
			return nil, fmt.Errorf("%w: submission %s already ready", queue.ErrInvalidTransition, submissionID)
		}
		return nil, err
	}
	job, err := s.queue.Cancel(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if err := s.sink.MarkFailed(ctx, submissionID, submissions.FailureWithdrawn, "submission withdrawn"); err != nil && !errors.Is(err, submissions.ErrNotFound) {
		return job, fmt.Errorf("record withdrawal: %w", err)
	}
	return job, nil
}

// Retry starts a new run for a submission whose last run died or was
// withdrawn.
func (s *Service) Retry(ctx context.Context, submissionID string) (*queue.Job, error) {
	s.intake.Lock()
	defer s.intake.Unlock()

	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == submissions.StatusReady {
		return nil, fmt.Errorf("%w: submission %s already ready", queue.ErrInvalidTransition, submissionID)
	}
	active, err := s.queue.ActiveBySubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("submission %s: %w", submissionID, ErrConflict)
	}
	if _, err := s.submissions.Register(ctx, submissions.RegisterRequest{
		ID:          sub.ID,
		Kind:        sub.Kind,
		Owner:       sub.Owner,
		ParentID:    sub.ParentID,
		RawAudioKey: sub.RawAudioKey,
		PresetID:    sub.PresetID,
	}); err != nil {
		return nil, err
	}
	return s.queue.Requeue(ctx, submissionID)
}

// Status returns the submission's effective status and a view that only
// carries annotations once it is ready.
func (s *Service) Status(ctx context.Context, submissionID string) (StatusView, error) {
	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return StatusView{}, err
	}
	job, err := s.queue.LatestBySubmission(ctx, submissionID)
	if err != nil {
		return StatusView{}, err
	}
	return StatusView{
		Submission: sub.View(s.now()),
		Status:     EffectiveStatus(sub, job),
		Job:        job,
	}, nil
}

// EffectiveStatus combines the submission record with its latest job. The
// record is authoritative once ready or failed; before that the job decides
// between pending and processing.
func EffectiveStatus(sub *submissions.Submission, job *queue.Job) submissions.Status {
	if sub != nil && (sub.Status == submissions.StatusReady || sub.Status == submissions.StatusFailed) {
		return sub.Status
	}
	if job == nil {
		return submissions.StatusPending
	}
	switch job.Stage {
	case queue.StageDead, queue.StageCancelled:
		return submissions.StatusFailed
	case queue.StageStore:
		if job.Attempts == 0 {
			return submissions.StatusPending
		}
	}
	return submissions.StatusProcessing
}
