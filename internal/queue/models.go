package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Stage is a job's position in the pipeline.
type Stage string

const (
	StageStore             Stage = "store"
	StageAnonymize         Stage = "anonymize"
	StageTranscribe        Stage = "transcribe"
	StageSummarizeClassify Stage = "summarize_classify"
	StagePersist           Stage = "persist"
	StagePublish           Stage = "publish"
	StageDone              Stage = "done"
	StageDead              Stage = "dead"
	StageCancelled         Stage = "cancelled"
)

// pipelineOrder is the fixed forward order. A job only ever moves to the
// next entry or to a terminal failure stage.
var pipelineOrder = []Stage{
	StageStore,
	StageAnonymize,
	StageTranscribe,
	StageSummarizeClassify,
	StagePersist,
	StagePublish,
	StageDone,
}

var stageRank = func() map[Stage]int {
	ranks := make(map[Stage]int, len(pipelineOrder))
	for i, stage := range pipelineOrder {
		ranks[stage] = i
	}
	return ranks
}()

var terminalStages = map[Stage]struct{}{
	StageDone:      {},
	StageDead:      {},
	StageCancelled: {},
}

// terminalStageSQL is the SQL list literal of terminal stages.
const terminalStageSQL = "('done','dead','cancelled')"

// WorkStages returns the stages that invoke a capability, in order.
func WorkStages() []Stage {
	return append([]Stage(nil), pipelineOrder[:len(pipelineOrder)-1]...)
}

// AllStages returns every stage value including terminal failure stages.
func AllStages() []Stage {
	return append(append([]Stage(nil), pipelineOrder...), StageDead, StageCancelled)
}

// ParseStage converts a string into a Stage if recognized.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := stageRank[normalized]; ok {
		return normalized, true
	}
	if _, ok := terminalStages[normalized]; ok {
		return normalized, true
	}
	return "", false
}

// IsTerminal reports whether no further work is scheduled for the stage.
func (s Stage) IsTerminal() bool {
	_, ok := terminalStages[s]
	return ok
}

// Next returns the stage that follows s on success.
func (s Stage) Next() (Stage, bool) {
	rank, ok := stageRank[s]
	if !ok || rank+1 >= len(pipelineOrder) {
		return "", false
	}
	return pipelineOrder[rank+1], true
}

// Rank orders stages along the pipeline. Failure stages rank after done.
func (s Stage) Rank() int {
	if rank, ok := stageRank[s]; ok {
		return rank
	}
	return len(pipelineOrder)
}

// Kind distinguishes posts from comments.
type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
)

// ParseKind converts a string into a Kind if recognized.
func ParseKind(value string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindPost:
		return KindPost, true
	case KindComment:
		return KindComment, true
	default:
		return "", false
	}
}

// Job is the durable record of one pipeline run for a submission.
type Job struct {
	ID               string
	SubmissionID     string
	Run              int
	Kind             Kind
	PresetID         string
	RawAudioKey      string
	Stage            Stage
	Attempts         int
	Failures         int
	NextRunAt        time.Time
	LeaseOwner       string
	LeaseToken       string
	LeaseExpiresAt   time.Time
	LastErrorKind    string
	LastErrorMessage string
	FailedStage      Stage
	Result           json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
	FinishedAt       time.Time
	NotifiedAt       time.Time
}

// IsTerminal reports whether the job has finished.
func (j *Job) IsTerminal() bool {
	return j != nil && j.Stage.IsTerminal()
}

// Leased reports whether the job holds a lease that has not expired at now.
func (j *Job) Leased(now time.Time) bool {
	return j != nil && j.LeaseToken != "" && j.LeaseExpiresAt.After(now)
}

// Lease is the claim a worker holds on a job. Token acts as the optimistic
// lock for every write the worker makes.
type Lease struct {
	JobID     string
	WorkerID  string
	Token     string
	Stage     Stage
	Attempt   int
	ExpiresAt time.Time
}

// StageAttempt records how often a stage was started and how often it failed.
type StageAttempt struct {
	Stage         Stage
	Attempts      int
	Failures      int
	LastErrorKind string
	UpdatedAt     time.Time
}

// Event is one entry in a job's transition history.
type Event struct {
	ID        int64
	JobID     string
	Type      string
	FromStage Stage
	ToStage   Stage
	WorkerID  string
	Attempt   int
	Detail    string
	CreatedAt time.Time
}

// Event types recorded in the job history.
const (
	EventEnqueued  = "enqueued"
	EventLeased    = "leased"
	EventCommitted = "committed"
	EventRetry     = "retry"
	EventDead      = "dead"
	EventCancelled = "cancelled"
	EventReclaimed = "reclaimed"
)

// EnqueueRequest describes a new pipeline run.
type EnqueueRequest struct {
	SubmissionID string
	Kind         Kind
	PresetID     string
	RawAudioKey  string
}

// Failure describes a failed stage execution.
type Failure struct {
	Kind    string
	Message string
	Backoff time.Duration
}

// ReclaimResult summarizes an expired-lease sweep.
type ReclaimResult struct {
	Released int
	Dead     int
}

// HealthSummary aggregates job counts for diagnostics.
type HealthSummary struct {
	Total     int
	Active    int
	Leased    int
	Waiting   int
	Done      int
	Dead      int
	Cancelled int
}

// DatabaseHealth describes the queue database state.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TableExists      bool
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}

// Lease returns the claim recorded on the job. It is only meaningful for a
// job returned by LeaseNext.
func (j *Job) Lease() Lease {
	return Lease{
		JobID:     j.ID,
		WorkerID:  j.LeaseOwner,
		Token:     j.LeaseToken,
		Stage:     j.Stage,
		Attempt:   j.Attempts,
		ExpiresAt: j.LeaseExpiresAt,
	}
}
