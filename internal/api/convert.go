package api

import (
	"slices"
	"time"

	"ventpipe/internal/pipeline"
	"ventpipe/internal/queue"
	"ventpipe/internal/stage"
	"ventpipe/internal/submissions"
	"ventpipe/internal/workflow"
)

// FromJob converts a job record to its API representation. Leased is
// evaluated against the current time, so an expired claim shows as free.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	return Job{
		ID:             job.ID,
		SubmissionID:   job.SubmissionID,
		Run:            job.Run,
		Kind:           string(job.Kind),
		PresetID:       job.PresetID,
		RawAudioKey:    job.RawAudioKey,
		Stage:          string(job.Stage),
		Attempts:       job.Attempts,
		Failures:       job.Failures,
		Leased:         job.Leased(time.Now()),
		LeaseOwner:     job.LeaseOwner,
		LeaseExpiresAt: FormatTime(job.LeaseExpiresAt),
		NextRunAt:      FormatTime(job.NextRunAt),
		FailedStage:    string(job.FailedStage),
		LastErrorKind:  job.LastErrorKind,
		LastError:      job.LastErrorMessage,
		CreatedAt:      FormatTime(job.CreatedAt),
		UpdatedAt:      FormatTime(job.UpdatedAt),
		FinishedAt:     FormatTime(job.FinishedAt),
	}
}

// FromJobs converts a slice of job records into API DTOs.
func FromJobs(jobs []*queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromStageAttempts converts per-stage counters in pipeline order.
func FromStageAttempts(attempts []queue.StageAttempt) []StageAttempt {
	out := make([]StageAttempt, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, StageAttempt{
			Stage:         string(a.Stage),
			Attempts:      a.Attempts,
			Failures:      a.Failures,
			LastErrorKind: a.LastErrorKind,
		})
	}
	return out
}

// FromEvents converts a job's history.
func FromEvents(events []queue.Event) []JobEvent {
	out := make([]JobEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, JobEvent{
			Type:      ev.Type,
			FromStage: string(ev.FromStage),
			ToStage:   string(ev.ToStage),
			WorkerID:  ev.WorkerID,
			Attempt:   ev.Attempt,
			Detail:    ev.Detail,
			CreatedAt: FormatTime(ev.CreatedAt),
		})
	}
	return out
}

// FromStatusView converts the intake status of a submission. Annotations are
// only included once the submission is ready.
func FromStatusView(view pipeline.StatusView) Submission {
	sub := view.Submission
	dto := Submission{
		ID:             sub.ID,
		Kind:           string(sub.Kind),
		Owner:          sub.Owner,
		ParentID:       sub.ParentID,
		PresetID:       sub.PresetID,
		Status:         string(view.Status),
		FailureKind:    sub.FailureKind,
		FailureMessage: sub.FailureMessage,
		CreatedAt:      FormatTime(sub.CreatedAt),
		ReadyAt:        FormatTime(sub.ReadyAt),
		AudioExpiresAt: FormatTime(sub.AudioExpiresAt),
	}
	if view.Status == submissions.StatusReady {
		ann := sub.Annotations
		dto.Annotations = &Annotations{
			Transcript:       ann.Transcript,
			Summary:          ann.Summary,
			TLDR:             ann.TLDR,
			Language:         ann.Language,
			Sentiment:        string(ann.Sentiment),
			AudioDurationSec: ann.AudioDurationSec,
			AnonAudioKey:     ann.AnonAudioKey,
		}
	}
	if view.Job != nil {
		job := FromJob(view.Job)
		dto.Job = &job
	}
	return dto
}

// FromAck converts an intake acknowledgement.
func FromAck(ack pipeline.Ack) SubmitResponse {
	return SubmitResponse{
		SubmissionID: ack.SubmissionID,
		JobID:        ack.JobID,
		Run:          ack.Run,
		Status:       string(ack.Status),
		AlreadyReady: ack.AlreadyReady,
	}
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:     summary.Running,
		Workers:     summary.Workers,
		QueueStats:  MergeQueueStats(summary.QueueStats),
		QueueHealth: FromHealthSummary(summary.QueueHealth),
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	if summary.LastJob != nil {
		last := FromJob(summary.LastJob)
		wf.LastJob = &last
	}
	return wf
}

// FromHealthSummary converts aggregate job counts.
func FromHealthSummary(h queue.HealthSummary) QueueHealth {
	return QueueHealth{
		Total:     h.Total,
		Active:    h.Active,
		Leased:    h.Leased,
		Waiting:   h.Waiting,
		Done:      h.Done,
		Dead:      h.Dead,
		Cancelled: h.Cancelled,
	}
}

// MergeQueueStats produces a string-keyed representation of job counts with
// every stage present.
func MergeQueueStats(stats map[queue.Stage]int) map[string]int {
	out := make(map[string]int, len(queue.AllStages()))
	for _, st := range queue.AllStages() {
		out[string(st)] = stats[st]
	}
	return out
}

// StageHealthSlice converts a stage health map into a deterministic slice.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Status: h.Status(), Detail: h.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
