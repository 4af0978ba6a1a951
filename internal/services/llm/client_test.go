package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ventpipe/internal/capability"
	"ventpipe/internal/services"
)

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected auth header %q", got)
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": content,
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientHealthCheck(t *testing.T) {
	server := completionServer(t, "```json\n{\"ok\":true}\n```")
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestSummarizeParsesFields(t *testing.T) {
	server := completionServer(t, `Here you go: {"SUMMARY":"The speaker is tired of traffic.","TLDR":"Traffic is awful","LANGUAGE":"en"}`)
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})

	summary, err := client.Summarize(context.Background(), "the traffic today was unbearable")
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if summary.Summary != "The speaker is tired of traffic." || summary.TLDR != "Traffic is awful" || summary.Language != "en" {
		t.Fatalf("unexpected summary: %#v", summary)
	}
}

func TestSummarizeRejectsEmptyTranscript(t *testing.T) {
	client := NewClient(Config{APIKey: "test", BaseURL: "http://127.0.0.1:1"})
	_, err := client.Summarize(context.Background(), "   ")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClassifySentiment(t *testing.T) {
	cases := []struct {
		content string
		want    capability.Sentiment
	}{
		{`{"SENTIMENT":"IN_FAVOR"}`, capability.SentimentInFavor},
		{`{"SENTIMENT":"AGAINST"}`, capability.SentimentAgainst},
		{`{"SENTIMENT":"maybe"}`, capability.SentimentNeutral},
		{`not json at all`, capability.SentimentNeutral},
	}
	for _, tc := range cases {
		server := completionServer(t, tc.content)
		client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
		got, err := client.ClassifySentiment(context.Background(), "I agree", "Post about parks")
		if err != nil {
			t.Fatalf("ClassifySentiment(%q) returned error: %v", tc.content, err)
		}
		if got != tc.want {
			t.Fatalf("ClassifySentiment(%q) = %s, want %s", tc.content, got, tc.want)
		}
	}
}

func TestClientClassifiesHTTPFailures(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, services.ErrTransient},
		{http.StatusBadGateway, services.ErrTransient},
		{http.StatusUnauthorized, services.ErrConfiguration},
		{http.StatusBadRequest, services.ErrValidation},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
		}))
		client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
		_, err := client.CompleteJSON(context.Background(), "system", "user")
		server.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		if !strings.Contains(err.Error(), "http") {
			t.Fatalf("status %d: expected http detail in %q", tc.status, err)
		}
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDecodeLLMJSONStripsFence(t *testing.T) {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := DecodeLLMJSON("```json\n{\"ok\":true}\n```", &out); err != nil || !out.OK {
		t.Fatalf("expected fenced payload to decode, got %v %#v", err, out)
	}
	if err := DecodeLLMJSON("", &out); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
