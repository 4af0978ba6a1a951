// Package llm provides an OpenRouter chat client used as the analysis
// backend when transcription runs locally.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.CompleteJSON: send system/user prompts, receive a JSON response.
// Client.Summarize: summary, TLDR, and language for a post transcript.
// Client.ClassifySentiment: stance of a comment toward its parent post.
// Client.HealthCheck: verify API key and model availability.
//
// # Failures
//
// The client sends one request per call. HTTP 408/429/5xx and network
// timeouts come back marked transient; 401/403/404 are configuration errors;
// other 4xx responses are validation errors. The job queue decides whether
// and when to retry.
//
// DecodeLLMJSON tolerates code fences and leading prose around the JSON
// object, which models produce despite instructions. The Gemini adapter
// reuses it along with the prompts defined here.
package llm
