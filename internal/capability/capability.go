package capability

import "context"

// Kind mirrors the submission kind a capability is asked to handle.
type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
)

// AnonymizedAudio is the output of an anonymizer.
type AnonymizedAudio struct {
	Data            []byte
	DurationSeconds float64
	Format          string
}

// Anonymizer rewrites a voice recording so the speaker cannot be identified.
type Anonymizer interface {
	Anonymize(ctx context.Context, audio []byte, preset Preset) (AnonymizedAudio, error)
}

// TranscriptionRequest describes one transcription call.
type TranscriptionRequest struct {
	Audio    []byte
	MimeType string
	Kind     Kind
}

// Transcript is what the transcription service returns. Backends that only
// produce text leave Summary, TLDR and Language empty and the analysis step
// fills them in.
type Transcript struct {
	Text     string
	Summary  string
	TLDR     string
	Language string
}

// Transcriber turns speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (Transcript, error)
}

// Summary is the analysis of a post transcript.
type Summary struct {
	Summary  string
	TLDR     string
	Language string
}

// Analyzer summarizes transcripts and classifies comment sentiment.
type Analyzer interface {
	Summarize(ctx context.Context, transcript string) (Summary, error)
	ClassifySentiment(ctx context.Context, transcript, parentSummary string) (Sentiment, error)
}

// Set bundles the capabilities a pipeline run needs.
type Set struct {
	Anonymizer  Anonymizer
	Transcriber Transcriber
	Analyzer    Analyzer
}
