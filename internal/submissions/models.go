package submissions

import (
	"errors"
	"time"

	"ventpipe/internal/capability"
)

// Status is the user-visible processing state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

var (
	// ErrNotFound is returned when no submission has the given id.
	ErrNotFound = errors.New("submission not found")
	// ErrInvalid is returned for requests that can never succeed.
	ErrInvalid = errors.New("invalid submission")
	// ErrWithdrawn is returned when publishing a submission the owner withdrew.
	ErrWithdrawn = errors.New("submission withdrawn")
	// ErrAlreadyReady is returned when withdrawing a published submission.
	ErrAlreadyReady = errors.New("submission already ready")
)

// FailureWithdrawn is the failure kind recorded for withdrawn submissions.
const FailureWithdrawn = "cancelled"

// Annotations are the pipeline's results for one submission.
type Annotations struct {
	Kind             capability.Kind      `json:"kind"`
	Transcript       string               `json:"transcript"`
	Summary          string               `json:"summary,omitempty"`
	TLDR             string               `json:"tldr,omitempty"`
	Language         string               `json:"language,omitempty"`
	Sentiment        capability.Sentiment `json:"sentiment,omitempty"`
	AudioDurationSec float64              `json:"audio_duration_sec"`
	AnonAudioKey     string               `json:"anon_audio_key"`
}

// Submission is a post or comment awaiting or finished with processing.
type Submission struct {
	ID             string
	Kind           capability.Kind
	Owner          string
	ParentID       string
	RawAudioKey    string
	PresetID       string
	Status         Status
	Annotations    Annotations
	FailureKind    string
	FailureMessage string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ReadyAt        time.Time
	AudioExpiresAt time.Time
}

// View returns a copy safe to expose: annotations are dropped unless the
// submission is ready, and expired audio is hidden.
func (s Submission) View(now time.Time) Submission {
	out := s
	if s.Status != StatusReady {
		out.Annotations = Annotations{Kind: s.Kind}
		return out
	}
	if !s.AudioExpiresAt.IsZero() && !now.Before(s.AudioExpiresAt) {
		out.Annotations.AnonAudioKey = ""
	}
	return out
}

// RegisterRequest describes a submission handed to the pipeline.
type RegisterRequest struct {
	ID          string
	Kind        capability.Kind
	Owner       string
	ParentID    string
	RawAudioKey string
	PresetID    string
}
