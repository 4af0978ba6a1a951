package capability

import (
	"context"
	"time"
)

// GuardedAnonymizer bounds every anonymizer call by a timeout and
// classifies its errors.
type GuardedAnonymizer struct {
	Inner   Anonymizer
	Timeout time.Duration
}

// Anonymize delegates to the wrapped anonymizer.
func (g GuardedAnonymizer) Anonymize(ctx context.Context, audio []byte, preset Preset) (AnonymizedAudio, error) {
	var out AnonymizedAudio
	err := Call(ctx, g.Timeout, "anonymizer", "anonymize", func(ctx context.Context) error {
		var err error
		out, err = g.Inner.Anonymize(ctx, audio, preset)
		return err
	})
	return out, err
}

// GuardedTranscriber adds a timeout, classification and a circuit breaker
// to a transcriber.
type GuardedTranscriber struct {
	Inner   Transcriber
	Timeout time.Duration
	Breaker *Breaker
}

// Transcribe delegates to the wrapped transcriber.
func (g GuardedTranscriber) Transcribe(ctx context.Context, req TranscriptionRequest) (Transcript, error) {
	var out Transcript
	err := g.Breaker.Do(func() error {
		return Call(ctx, g.Timeout, "transcription", "transcribe", func(ctx context.Context) error {
			var err error
			out, err = g.Inner.Transcribe(ctx, req)
			return err
		})
	})
	return out, err
}

// GuardedAnalyzer adds a timeout, classification and a circuit breaker to
// an analyzer.
type GuardedAnalyzer struct {
	Inner   Analyzer
	Timeout time.Duration
	Breaker *Breaker
}

// Summarize delegates to the wrapped analyzer.
func (g GuardedAnalyzer) Summarize(ctx context.Context, transcript string) (Summary, error) {
	var out Summary
	err := g.Breaker.Do(func() error {
		return Call(ctx, g.Timeout, "analysis", "summarize", func(ctx context.Context) error {
			var err error
			out, err = g.Inner.Summarize(ctx, transcript)
			return err
		})
	})
	return out, err
}

// ClassifySentiment delegates to the wrapped analyzer.
func (g GuardedAnalyzer) ClassifySentiment(ctx context.Context, transcript, parentSummary string) (Sentiment, error) {
	var out Sentiment
	err := g.Breaker.Do(func() error {
		return Call(ctx, g.Timeout, "analysis", "classify sentiment", func(ctx context.Context) error {
			var err error
			out, err = g.Inner.ClassifySentiment(ctx, transcript, parentSummary)
			return err
		})
	})
	return out, err
}

// Passthrough is the local anonymizer used when voice masking is switched
// off in configuration. Every preset leaves the audio unchanged.
type Passthrough struct{}

// Anonymize returns a copy of audio.
func (Passthrough) Anonymize(ctx context.Context, audio []byte, preset Preset) (AnonymizedAudio, error) {
	return AnonymizedAudio{Data: append([]byte(nil), audio...), Format: "source"}, nil
}
