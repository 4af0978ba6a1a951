package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ErrDaemonUnavailable reports that the daemon API could not be reached.
var ErrDaemonUnavailable = errors.New("daemon api unavailable")

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Code   int
	Msg    string
	Fields map[string]string
}

func (e *StatusError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("api: %s (%d)", e.Msg, e.Code)
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return fmt.Sprintf("api: %s (%d): %s", e.Msg, e.Code, strings.Join(parts, "; "))
}

// Client talks to a running daemon over HTTP.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient returns a client for the API at base. A bare host:port is
// treated as http.
func NewClient(base, token string) *Client {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// BaseURL returns the resolved API root.
func (c *Client) BaseURL() string {
	return c.base
}

// Submit posts a submission for processing.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	var resp SubmitResponse
	err := c.do(ctx, http.MethodPost, "/v1/submissions", req, &resp)
	return resp, err
}

// Submission fetches a submission's effective status.
func (c *Client) Submission(ctx context.Context, id string) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodGet, "/v1/submissions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Withdraw cancels a submission's active run.
func (c *Client) Withdraw(ctx context.Context, id string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, "/v1/submissions/"+url.PathEscape(id)+"/withdraw", nil, &resp)
	return resp, err
}

// Retry starts a new run for a dead or cancelled submission.
func (c *Client) Retry(ctx context.Context, id string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, "/v1/submissions/"+url.PathEscape(id)+"/retry", nil, &resp)
	return resp, err
}

// Jobs lists jobs, optionally filtered to stages.
func (c *Client) Jobs(ctx context.Context, stages ...string) ([]Job, error) {
	path := "/v1/jobs"
	if len(stages) > 0 {
		path += "?stage=" + url.QueryEscape(strings.Join(stages, ","))
	}
	var resp JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Job fetches one job with its history.
func (c *Client) Job(ctx context.Context, id string) (JobDetail, error) {
	var resp JobDetail
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// JobStats returns job counts per stage.
func (c *Client) JobStats(ctx context.Context) (map[string]int, error) {
	var resp JobStatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/stats", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Counts, nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var resp DaemonStatus
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.base == "" {
		return fmt.Errorf("%w: api address not configured", ErrDaemonUnavailable)
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Code: resp.StatusCode, Msg: apiErr.Error, Fields: apiErr.Fields}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
