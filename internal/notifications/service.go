package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ventpipe/internal/config"
)

const userAgent = "ventpipe/0.1.0"

// DeadJob describes a job that exhausted its attempts or failed permanently.
type DeadJob struct {
	JobID        string
	SubmissionID string
	Kind         string
	Stage        string
	ErrorKind    string
	Message      string
}

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyJobDead(ctx context.Context, job DeadJob) error
	NotifyBreakerChange(ctx context.Context, capability, from, to string) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		deadJobs:   cfg.Notifications.DeadJobs,
		breakerOps: cfg.Notifications.Breaker,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	deadJobs   bool
	breakerOps bool
}

func (n *ntfyService) NotifyJobDead(ctx context.Context, job DeadJob) error {
	if !n.deadJobs {
		return nil
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "Job %s for %s %s died at %s", job.JobID, strings.TrimSpace(job.Kind), job.SubmissionID, job.Stage)
	if kind := strings.TrimSpace(job.ErrorKind); kind != "" {
		fmt.Fprintf(&builder, " (%s)", kind)
	}
	if msg := strings.TrimSpace(job.Message); msg != "" {
		builder.WriteString("\n")
		builder.WriteString(msg)
	}
	data := payload{
		title:    "ventpipe - Job Dead",
		message:  builder.String(),
		tags:     []string{"ventpipe", "job", "dead"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBreakerChange(ctx context.Context, capability, from, to string) error {
	if !n.breakerOps {
		return nil
	}
	data := payload{
		title:   "ventpipe - Circuit Breaker",
		message: fmt.Sprintf("%s breaker %s -> %s", strings.TrimSpace(capability), from, to),
		tags:    []string{"ventpipe", "breaker", to},
	}
	if to == "open" {
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "ventpipe - Error",
		message:  builder.String(),
		tags:     []string{"ventpipe", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "ventpipe - Test",
		message:  "Notification system test",
		tags:     []string{"ventpipe", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobDead(context.Context, DeadJob) error                       { return nil }
func (noopService) NotifyBreakerChange(context.Context, string, string, string) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error                   { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
