package pipeline

import (
	"context"
	"errors"
	"strings"

	"ventpipe/internal/capability"
	"ventpipe/internal/language"
	"ventpipe/internal/services"
	"ventpipe/internal/stage"
	"ventpipe/internal/submissions"
)

// MaxTLDRWords bounds a post's TLDR.
const MaxTLDRWords = 10

// ClampWords keeps the first max words of s, trimming trailing punctuation
// left dangling by the cut.
func ClampWords(s string, max int) string {
	words := strings.Fields(s)
	if max <= 0 || len(words) <= max {
		return strings.Join(words, " ")
	}
	return strings.TrimRight(strings.Join(words[:max], " "), ",;:-")
}

// summarizeHandler produces a post's summary, TLDR and language.
type summarizeHandler struct {
	analyzer capability.Analyzer
}

func (h *summarizeHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	transcript, ok := req.Artifact(ArtifactTranscript)
	if !ok {
		return stage.Result{}, services.Wrap(services.ErrPermanent, "summarize_classify", "load transcript", "transcript artifact missing", nil)
	}
	summary := capability.Summary{}
	summary.Summary, _ = req.Artifact(ArtifactTranscriptSummary)
	summary.TLDR, _ = req.Artifact(ArtifactTranscriptTLDR)
	detected, _ := req.Artifact(ArtifactTranscriptLanguage)

	if summary.Summary == "" {
		if err := req.Check(ctx); err != nil {
			return stage.Result{}, err
		}
		analyzed, err := h.analyzer.Summarize(ctx, transcript)
		if err != nil {
			return stage.Result{}, err
		}
		summary = analyzed
	}
	if strings.TrimSpace(summary.Language) != "" {
		detected = summary.Language
	}

	tldr := strings.TrimSpace(summary.TLDR)
	if tldr == "" {
		tldr = firstSentence(summary.Summary)
	}
	lang := language.Normalize(detected)
	if lang == "" {
		lang = language.Undetermined
	}
	return stage.Result{Artifacts: map[string]string{
		ArtifactSummary:  strings.TrimSpace(summary.Summary),
		ArtifactTLDR:     ClampWords(tldr, MaxTLDRWords),
		ArtifactLanguage: lang,
	}}, nil
}

func (h *summarizeHandler) HealthCheck(ctx context.Context) stage.Health {
	if h.analyzer == nil {
		return stage.Unhealthy("summarize", "analyzer not configured")
	}
	if guarded, ok := h.analyzer.(capability.GuardedAnalyzer); ok {
		return breakerHealth("summarize", guarded.Breaker)
	}
	return stage.Healthy("summarize")
}

// classifyHandler judges a comment's sentiment against its parent post.
type classifyHandler struct {
	analyzer    capability.Analyzer
	submissions *submissions.Store
	parents     submissions.ParentLookup
}

func (h *classifyHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	transcript, ok := req.Artifact(ArtifactTranscript)
	if !ok {
		return stage.Result{}, services.Wrap(services.ErrPermanent, "summarize_classify", "load transcript", "transcript artifact missing", nil)
	}
	parentSummary, err := h.parentSummary(ctx, req.Job.SubmissionID)
	if err != nil {
		return stage.Result{}, err
	}
	if err := req.Check(ctx); err != nil {
		return stage.Result{}, err
	}
	sentiment, err := h.analyzer.ClassifySentiment(ctx, transcript, parentSummary)
	if err != nil {
		return stage.Result{}, err
	}
	if !sentiment.Valid() {
		sentiment = capability.SentimentNeutral
	}
	artifacts := map[string]string{ArtifactSentiment: string(sentiment)}
	if detected, ok := req.Artifact(ArtifactTranscriptLanguage); ok {
		artifacts[ArtifactLanguage] = language.Normalize(detected)
	}
	return stage.Result{Artifacts: artifacts}, nil
}

// parentSummary returns "" when the parent post is unknown or not ready;
// the classifier then judges the comment on its own.
func (h *classifyHandler) parentSummary(ctx context.Context, submissionID string) (string, error) {
	if h.submissions == nil || h.parents == nil {
		return "", nil
	}
	sub, err := h.submissions.Get(ctx, submissionID)
	if errors.Is(err, submissions.ErrNotFound) {
		return "", services.Wrap(services.ErrPermanent, "summarize_classify", "load comment", "submission record missing", err)
	}
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "summarize_classify", "load comment", "", err)
	}
	if sub.ParentID == "" {
		return "", nil
	}
	summary, err := h.parents.ParentSummary(ctx, sub.ParentID)
	if errors.Is(err, submissions.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "summarize_classify", "parent summary", sub.ParentID, err)
	}
	return summary, nil
}

func (h *classifyHandler) HealthCheck(ctx context.Context) stage.Health {
	if h.analyzer == nil {
		return stage.Unhealthy("classify", "analyzer not configured")
	}
	if guarded, ok := h.analyzer.(capability.GuardedAnalyzer); ok {
		return breakerHealth("classify", guarded.Breaker)
	}
	return stage.Healthy("classify")
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, ".!?"); idx > 0 {
		return s[:idx]
	}
	return s
}
