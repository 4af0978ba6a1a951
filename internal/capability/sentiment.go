package capability

import "strings"

// Sentiment is a comment's stance toward its parent post.
type Sentiment string

const (
	SentimentInFavor Sentiment = "in_favor"
	SentimentAgainst Sentiment = "against"
	SentimentNeutral Sentiment = "neutral"
)

// ParseSentiment maps a model answer onto a Sentiment. Anything it cannot
// recognise becomes neutral.
func ParseSentiment(raw string) Sentiment {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.Trim(value, "\"'`.!")
	value = strings.NewReplacer("-", "_", " ", "_").Replace(value)
	switch value {
	case "in_favor", "in_favour", "infavor", "favor", "favour", "positive", "agree", "support", "supportive":
		return SentimentInFavor
	case "against", "negative", "disagree", "oppose", "opposed":
		return SentimentAgainst
	case "neutral":
		return SentimentNeutral
	}
	switch {
	case strings.Contains(value, "against"):
		return SentimentAgainst
	case strings.Contains(value, "favor") || strings.Contains(value, "favour"):
		return SentimentInFavor
	default:
		return SentimentNeutral
	}
}

// Valid reports whether s is one of the three known sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentInFavor, SentimentAgainst, SentimentNeutral:
		return true
	default:
		return false
	}
}
