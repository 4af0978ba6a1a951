package llm

import (
	"context"
	"strings"

	"ventpipe/internal/capability"
	"ventpipe/internal/services"
)

type summaryPayload struct {
	Summary  string `json:"SUMMARY"`
	TLDR     string `json:"TLDR"`
	Language string `json:"LANGUAGE"`
}

type sentimentPayload struct {
	Sentiment string `json:"SENTIMENT"`
}

// Summarize asks the model for the post summary, TLDR, and spoken language.
func (c *Client) Summarize(ctx context.Context, transcript string) (capability.Summary, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return capability.Summary{}, services.Wrap(services.ErrValidation, "analysis", "summarize", "transcript is empty", nil)
	}
	content, err := c.CompleteJSON(ctx, SummaryPrompt, transcript)
	if err != nil {
		return capability.Summary{}, err
	}
	var parsed summaryPayload
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return capability.Summary{}, services.Wrap(services.ErrTransient, "analysis", "summarize", "unparseable model output", err)
	}
	return capability.Summary{
		Summary:  strings.TrimSpace(parsed.Summary),
		TLDR:     strings.TrimSpace(parsed.TLDR),
		Language: strings.TrimSpace(parsed.Language),
	}, nil
}

// ClassifySentiment asks the model whether the comment supports the post.
// Output that cannot be parsed is treated as neutral.
func (c *Client) ClassifySentiment(ctx context.Context, transcript, parentSummary string) (capability.Sentiment, error) {
	content, err := c.CompleteJSON(ctx, SentimentPrompt, SentimentUserPrompt(transcript, parentSummary))
	if err != nil {
		return "", err
	}
	var parsed sentimentPayload
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return capability.ParseSentiment(content), nil
	}
	return capability.ParseSentiment(parsed.Sentiment), nil
}
