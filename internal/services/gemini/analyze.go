package gemini

import (
	"context"
	"strings"

	"ventpipe/internal/capability"
	"ventpipe/internal/services"
	"ventpipe/internal/services/llm"
)

type summaryPayload struct {
	Summary  string `json:"SUMMARY"`
	TLDR     string `json:"TLDR"`
	Language string `json:"LANGUAGE"`
}

type sentimentPayload struct {
	Sentiment string `json:"SENTIMENT"`
}

// Summarize implements capability.Analyzer.
func (c *Client) Summarize(ctx context.Context, transcript string) (capability.Summary, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return capability.Summary{}, services.Wrap(services.ErrValidation, "analysis", "gemini summarize", "transcript is empty", nil)
	}
	raw, err := c.generate(ctx, "analysis", "gemini summarize", textRequest(llm.SummaryPrompt, transcript))
	if err != nil {
		return capability.Summary{}, err
	}
	var parsed summaryPayload
	if err := llm.DecodeLLMJSON(raw, &parsed); err != nil {
		return capability.Summary{}, services.Wrap(services.ErrTransient, "analysis", "gemini summarize", "unparseable model output", err)
	}
	return capability.Summary{
		Summary:  strings.TrimSpace(parsed.Summary),
		TLDR:     strings.TrimSpace(parsed.TLDR),
		Language: strings.TrimSpace(parsed.Language),
	}, nil
}

// ClassifySentiment implements capability.Analyzer. Replies that do not
// parse count as neutral.
func (c *Client) ClassifySentiment(ctx context.Context, transcript, parentSummary string) (capability.Sentiment, error) {
	raw, err := c.generate(ctx, "analysis", "gemini sentiment", textRequest(llm.SentimentPrompt, llm.SentimentUserPrompt(transcript, parentSummary)))
	if err != nil {
		return "", err
	}
	var parsed sentimentPayload
	if err := llm.DecodeLLMJSON(raw, &parsed); err != nil {
		return capability.ParseSentiment(raw), nil
	}
	return capability.ParseSentiment(parsed.Sentiment), nil
}
