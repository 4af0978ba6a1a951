package workflow

import (
	"context"
	"log/slog"
	"sync"

	"ventpipe/internal/config"
	"ventpipe/internal/logging"
	"ventpipe/internal/notifications"
	"ventpipe/internal/queue"
	"ventpipe/internal/stage"
	"ventpipe/internal/submissions"
)

// Stages resolves the handler for a job's kind and stage.
type Stages interface {
	Handler(kind queue.Kind, st queue.Stage) (stage.Handler, bool)
	Health(ctx context.Context) map[string]stage.Health
}

// Manager coordinates queue processing across a pool of workers.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	stages   Stages
	sink     submissions.Sink
	logger   *slog.Logger
	notifier notifications.Service

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *queue.Job

	reportMu  sync.Mutex
	reporting map[string]struct{}
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithNotifier overrides the notifier built from configuration.
func WithNotifier(n notifications.Service) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithSink sets where terminal failures are reported.
func WithSink(sink submissions.Sink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, stages Stages, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		store:  store,
		stages: stages,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	if m.notifier == nil {
		m.notifier = notifications.NewService(cfg)
	}
	return m
}
