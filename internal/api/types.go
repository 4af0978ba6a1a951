package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SubmitRequest is the body of POST /v1/submissions.
type SubmitRequest struct {
	SubmissionID string `json:"submissionId" validate:"required,max=128,submission_id"`
	Kind         string `json:"kind" validate:"required,oneof=post comment"`
	Owner        string `json:"owner,omitempty" validate:"max=128"`
	ParentID     string `json:"parentId,omitempty" validate:"required_if=Kind comment,max=128"`
	RawAudioKey  string `json:"rawAudioKey" validate:"required,max=512,audio_key"`
	PresetID     string `json:"presetId,omitempty" validate:"omitempty,preset"`
}

// SubmitResponse acknowledges a submission.
type SubmitResponse struct {
	SubmissionID string `json:"submissionId"`
	JobID        string `json:"jobId,omitempty"`
	Run          int    `json:"run,omitempty"`
	Status       string `json:"status"`
	AlreadyReady bool   `json:"alreadyReady,omitempty"`
}

// Annotations are the finished pipeline results for a submission.
type Annotations struct {
	Transcript       string  `json:"transcript"`
	Summary          string  `json:"summary,omitempty"`
	TLDR             string  `json:"tldr,omitempty"`
	Language         string  `json:"language,omitempty"`
	Sentiment        string  `json:"sentiment,omitempty"`
	AudioDurationSec float64 `json:"audioDurationSec"`
	AnonAudioKey     string  `json:"anonAudioKey,omitempty"`
}

// Submission describes a submission and its latest run.
type Submission struct {
	ID             string       `json:"id"`
	Kind           string       `json:"kind"`
	Owner          string       `json:"owner,omitempty"`
	ParentID       string       `json:"parentId,omitempty"`
	PresetID       string       `json:"presetId"`
	Status         string       `json:"status"`
	FailureKind    string       `json:"failureKind,omitempty"`
	FailureMessage string       `json:"failureMessage,omitempty"`
	Annotations    *Annotations `json:"annotations,omitempty"`
	CreatedAt      string       `json:"createdAt,omitempty"`
	ReadyAt        string       `json:"readyAt,omitempty"`
	AudioExpiresAt string       `json:"audioExpiresAt,omitempty"`
	Job            *Job         `json:"job,omitempty"`
}

// Job describes one pipeline run.
type Job struct {
	ID             string `json:"id"`
	SubmissionID   string `json:"submissionId"`
	Run            int    `json:"run"`
	Kind           string `json:"kind"`
	PresetID       string `json:"presetId"`
	RawAudioKey    string `json:"rawAudioKey"`
	Stage          string `json:"stage"`
	Attempts       int    `json:"attempts"`
	Failures       int    `json:"failures"`
	Leased         bool   `json:"leased"`
	LeaseOwner     string `json:"leaseOwner,omitempty"`
	LeaseExpiresAt string `json:"leaseExpiresAt,omitempty"`
	NextRunAt      string `json:"nextRunAt,omitempty"`
	FailedStage    string `json:"failedStage,omitempty"`
	LastErrorKind  string `json:"lastErrorKind,omitempty"`
	LastError      string `json:"lastError,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
	FinishedAt     string `json:"finishedAt,omitempty"`
}

// StageAttempt reports per-stage attempt counters.
type StageAttempt struct {
	Stage         string `json:"stage"`
	Attempts      int    `json:"attempts"`
	Failures      int    `json:"failures"`
	LastErrorKind string `json:"lastErrorKind,omitempty"`
}

// JobEvent is one entry of a job's transition history.
type JobEvent struct {
	Type      string `json:"type"`
	FromStage string `json:"fromStage,omitempty"`
	ToStage   string `json:"toStage,omitempty"`
	WorkerID  string `json:"workerId,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// JobDetail is a job with its attempt counters and history.
type JobDetail struct {
	Job      Job            `json:"job"`
	Attempts []StageAttempt `json:"attempts"`
	Events   []JobEvent     `json:"events"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobStatsResponse provides job counts keyed by stage.
type JobStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// QueueHealth aggregates job counts for diagnostics.
type QueueHealth struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Leased    int `json:"leased"`
	Waiting   int `json:"waiting"`
	Done      int `json:"done"`
	Dead      int `json:"dead"`
	Cancelled int `json:"cancelled"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes worker pool state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	Workers     int            `json:"workers"`
	QueueStats  map[string]int `json:"queueStats"`
	QueueHealth QueueHealth    `json:"queueHealth"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *Job           `json:"lastJob,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	QueueDBPath  string             `json:"queueDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// ErrorResponse is returned for every non-2xx response.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
