package testsupport

import (
	"context"
	"sort"
	"strings"
	"sync"

	"ventpipe/internal/blobstore"
	"ventpipe/internal/capability"
	"ventpipe/internal/services"
	"ventpipe/internal/submissions"
)

// MemoryBlobs is an in-memory blobstore.Store.
type MemoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

// NewMemoryBlobs returns an empty store.
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{objects: make(map[string][]byte)}
}

func (m *MemoryBlobs) Put(_ context.Context, prefix string, data []byte) (string, error) {
	key := blobstore.ContentKey(prefix, data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if _, ok := m.objects[key]; !ok {
		m.objects[key] = append([]byte(nil), data...)
	}
	return key, nil
}

func (m *MemoryBlobs) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBlobs) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryBlobs) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix = strings.Trim(prefix, "/") + "/"
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Puts reports how many Put calls were made.
func (m *MemoryBlobs) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Script hands out queued errors one call at a time, then succeeds.
type Script struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

// Fail queues err for the next n calls.
func (s *Script) Fail(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.errs = append(s.errs, err)
	}
}

// Next records a call and returns its scripted error.
func (s *Script) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

// Calls reports how many calls were made.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// TransientError is a classified retryable failure.
func TransientError(capabilityName, msg string) error {
	return services.Wrap(services.ErrTransient, capabilityName, "call", msg, nil)
}

// PermanentError is a classified non-retryable failure.
func PermanentError(capabilityName, msg string) error {
	return services.Wrap(services.ErrPermanent, capabilityName, "call", msg, nil)
}

// FakeAnonymizer tags audio with the preset name, so equal inputs and
// presets give equal output.
type FakeAnonymizer struct {
	Script
}

func (f *FakeAnonymizer) Anonymize(_ context.Context, audio []byte, preset capability.Preset) (capability.AnonymizedAudio, error) {
	if err := f.Next(); err != nil {
		return capability.AnonymizedAudio{}, err
	}
	out := append([]byte("anon:"+preset.Name+":"), audio...)
	return capability.AnonymizedAudio{
		Data:            out,
		DurationSeconds: float64(len(audio)) / 32000,
		Format:          "wav",
	}, nil
}

// FakeTranscriber returns Result after the scripted failures.
type FakeTranscriber struct {
	Script
	Result capability.Transcript

	mu       sync.Mutex
	requests []capability.TranscriptionRequest
}

func (f *FakeTranscriber) Transcribe(_ context.Context, req capability.TranscriptionRequest) (capability.Transcript, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if err := f.Next(); err != nil {
		return capability.Transcript{}, err
	}
	return f.Result, nil
}

// Requests returns every request received.
func (f *FakeTranscriber) Requests() []capability.TranscriptionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capability.TranscriptionRequest(nil), f.requests...)
}

// FakeAnalyzer returns Summary and Sentiment after the scripted failures.
type FakeAnalyzer struct {
	Script
	Summary   capability.Summary
	Sentiment capability.Sentiment

	mu      sync.Mutex
	parents []string
}

func (f *FakeAnalyzer) Summarize(_ context.Context, transcript string) (capability.Summary, error) {
	if err := f.Next(); err != nil {
		return capability.Summary{}, err
	}
	return f.Summary, nil
}

func (f *FakeAnalyzer) ClassifySentiment(_ context.Context, transcript, parentSummary string) (capability.Sentiment, error) {
	f.mu.Lock()
	f.parents = append(f.parents, parentSummary)
	f.mu.Unlock()
	if err := f.Next(); err != nil {
		return "", err
	}
	return f.Sentiment, nil
}

// ParentSummaries returns the parent summaries passed to ClassifySentiment.
func (f *FakeAnalyzer) ParentSummaries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.parents...)
}

// Capabilities bundles the fakes.
type Capabilities struct {
	Anonymizer  *FakeAnonymizer
	Transcriber *FakeTranscriber
	Analyzer    *FakeAnalyzer
}

// NewCapabilities returns fakes that succeed with plausible results.
func NewCapabilities() *Capabilities {
	return &Capabilities{
		Anonymizer: &FakeAnonymizer{},
		Transcriber: &FakeTranscriber{Result: capability.Transcript{
			Text: "The park on Elm street needs more benches and the lights are broken.",
		}},
		Analyzer: &FakeAnalyzer{
			Summary: capability.Summary{
				Summary:  "The speaker asks the city to repair the park on Elm street.",
				TLDR:     "Fix the Elm street park benches and lights before summer please",
				Language: "English",
			},
			Sentiment: capability.SentimentInFavor,
		},
	}
}

// Set returns the fakes as a capability.Set.
func (c *Capabilities) Set() capability.Set {
	return capability.Set{
		Anonymizer:  c.Anonymizer,
		Transcriber: c.Transcriber,
		Analyzer:    c.Analyzer,
	}
}

// SinkCall is one call received by a RecordingSink.
type SinkCall struct {
	Method      string
	ID          string
	Annotations submissions.Annotations
	ReasonKind  string
	Message     string
}

// RecordingSink records calls and optionally forwards them.
type RecordingSink struct {
	Next submissions.Sink

	mu    sync.Mutex
	err   error
	calls []SinkCall
}

// SetErr makes every following call fail with err. A nil err restores
// forwarding.
func (r *RecordingSink) SetErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *RecordingSink) MarkReady(ctx context.Context, id string, ann submissions.Annotations) error {
	if err := r.record(SinkCall{Method: "MarkReady", ID: id, Annotations: ann}); err != nil {
		return err
	}
	if r.Next != nil {
		return r.Next.MarkReady(ctx, id, ann)
	}
	return nil
}

func (r *RecordingSink) MarkFailed(ctx context.Context, id, reasonKind, message string) error {
	if err := r.record(SinkCall{Method: "MarkFailed", ID: id, ReasonKind: reasonKind, Message: message}); err != nil {
		return err
	}
	if r.Next != nil {
		return r.Next.MarkFailed(ctx, id, reasonKind, message)
	}
	return nil
}

func (r *RecordingSink) record(call SinkCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return r.err
}

// Calls returns the recorded calls.
func (r *RecordingSink) Calls() []SinkCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SinkCall(nil), r.calls...)
}
