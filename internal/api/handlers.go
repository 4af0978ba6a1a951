package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ventpipe/internal/logging"
	"ventpipe/internal/pipeline"
	"ventpipe/internal/queue"
	"ventpipe/internal/services"
	"ventpipe/internal/submissions"
)

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "status unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, s.status(r.Context()))
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ack, err := s.intake.SubmitForProcessing(r.Context(), pipeline.SubmitRequest{
		SubmissionID: strings.TrimSpace(req.SubmissionID),
		Kind:         req.Kind,
		Owner:        req.Owner,
		ParentID:     req.ParentID,
		RawAudioKey:  req.RawAudioKey,
		PresetID:     req.PresetID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if ack.AlreadyReady {
		status = http.StatusOK
	}
	logging.WithContext(services.WithSubmissionID(r.Context(), ack.SubmissionID), s.logger).Info(
		"submission accepted",
		logging.String(logging.FieldEventType, "submission_accepted"),
		logging.JobID(ack.JobID),
		logging.Bool("already_ready", ack.AlreadyReady),
	)
	writeJSON(w, status, FromAck(ack))
}

func (s *server) handleSubmissionStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.intake.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FromStatusView(view))
}

func (s *server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	job, err := s.intake.Withdraw(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FromJob(job))
}

func (s *server) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := s.intake.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, FromJob(job))
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var stages []queue.Stage
	for _, raw := range r.URL.Query()["stage"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			st, ok := queue.ParseStage(part)
			if !ok {
				writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown stage %q", part)})
				return
			}
			stages = append(stages, st)
		}
	}
	jobs, err := s.jobs.List(r.Context(), stages...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs})
}

func (s *server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.jobs.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, JobStatsResponse{Counts: counts})
}

func (s *server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := s.jobs.Describe(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if detail == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("job %s not found", id)})
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return services.Wrap(services.ErrValidation, "intake", "decode body", "", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return services.Wrap(services.ErrValidation, "intake", "decode body", "unexpected data after JSON object", nil)
	}
	return s.validator.Struct(dst)
}

// StatusForError maps an intake error to an HTTP status code.
func StatusForError(err error) int {
	var fieldErrs *FieldErrors
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &fieldErrs), errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrConflict), errors.Is(err, queue.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, submissions.ErrNotFound), errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	resp := ErrorResponse{Error: err.Error()}
	var fieldErrs *FieldErrors
	if errors.As(err, &fieldErrs) {
		resp.Fields = fieldErrs.Fields
	}
	if status == http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_error",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
