package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ventpipe/internal/logging"
	"ventpipe/internal/metrics"
	"ventpipe/internal/pipeline"
	"ventpipe/internal/queue"
	"ventpipe/internal/services"
)

const defaultMaxBodyBytes = 64 << 10

// Intake is the submission surface the router drives.
type Intake interface {
	SubmitForProcessing(ctx context.Context, req pipeline.SubmitRequest) (pipeline.Ack, error)
	Withdraw(ctx context.Context, submissionID string) (*queue.Job, error)
	Retry(ctx context.Context, submissionID string) (*queue.Job, error)
	Status(ctx context.Context, submissionID string) (pipeline.StatusView, error)
}

// StatusFunc reports daemon status for GET /v1/status.
type StatusFunc func(ctx context.Context) DaemonStatus

// Options wires the router's dependencies.
type Options struct {
	Intake Intake
	Jobs   *JobService
	Status StatusFunc
	// Token enables bearer authentication on /v1 routes when set.
	Token            string
	AllowPassthrough bool
	MaxBodyBytes     int64
	Logger           *slog.Logger
}

type server struct {
	intake    Intake
	jobs      *JobService
	status    StatusFunc
	validator *Validator
	maxBody   int64
	logger    *slog.Logger
}

// NewRouter builds the HTTP handler for the intake API.
func NewRouter(opts Options) http.Handler {
	s := &server{
		intake:    opts.Intake,
		jobs:      opts.Jobs,
		status:    opts.Status,
		validator: NewValidator(opts.AllowPassthrough),
		maxBody:   opts.MaxBodyBytes,
		logger:    logging.NewComponentLogger(opts.Logger, "api-server"),
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(s.requestContext)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware(opts.Token))
		r.Get("/status", s.handleStatus)
		r.Route("/submissions", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/{id}", s.handleSubmissionStatus)
			r.Post("/{id}/withdraw", s.handleWithdraw)
			r.Post("/{id}/retry", s.handleRetry)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/stats", s.handleJobStats)
			r.Get("/{id}", s.handleJob)
		})
	})
	return r
}

// requestContext carries chi's request id into the correlation field used
// by the logging helpers and logs each request at debug level.
func (s *server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = services.WithRequestID(ctx, id)
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

// authMiddleware validates bearer tokens. An empty token disables
// authentication.
func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
