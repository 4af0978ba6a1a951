package pipeline

import (
	"strconv"

	"ventpipe/internal/capability"
	"ventpipe/internal/queue"
	"ventpipe/internal/submissions"
)

// Artifact names committed by the stages.
const (
	ArtifactRawKey             = "raw_key"
	ArtifactAnonKey            = "anon_key"
	ArtifactAnonFormat         = "anon_format"
	ArtifactDuration           = "audio_duration_sec"
	ArtifactTranscript         = "transcript"
	ArtifactTranscriptSummary  = "transcript_summary"
	ArtifactTranscriptTLDR     = "transcript_tldr"
	ArtifactTranscriptLanguage = "transcript_language"
	ArtifactSummary            = "summary"
	ArtifactTLDR               = "tldr"
	ArtifactLanguage           = "language"
	ArtifactSentiment          = "sentiment"
)

// AnnotationsFromArtifacts assembles the published record from a job's
// committed artifacts.
func AnnotationsFromArtifacts(kind queue.Kind, artifacts map[string]string) submissions.Annotations {
	ann := submissions.Annotations{
		Kind:         capability.Kind(kind),
		Transcript:   artifacts[ArtifactTranscript],
		AnonAudioKey: artifacts[ArtifactAnonKey],
		Language:     artifacts[ArtifactLanguage],
	}
	if raw := artifacts[ArtifactDuration]; raw != "" {
		if d, err := strconv.ParseFloat(raw, 64); err == nil {
			ann.AudioDurationSec = d
		}
	}
	switch kind {
	case queue.KindPost:
		ann.Summary = artifacts[ArtifactSummary]
		ann.TLDR = artifacts[ArtifactTLDR]
	case queue.KindComment:
		ann.Sentiment = capability.Sentiment(artifacts[ArtifactSentiment])
		if !ann.Sentiment.Valid() {
			ann.Sentiment = capability.SentimentNeutral
		}
	}
	return ann
}
