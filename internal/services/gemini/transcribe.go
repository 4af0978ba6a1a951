package gemini

import (
	"bufio"
	"context"
	"strings"

	"ventpipe/internal/capability"
	"ventpipe/internal/services"
	"ventpipe/internal/services/llm"
)

// Gemini rejects inline payloads above 20 MB.
const maxInlineAudioBytes = 20 << 20

// Transcription is the parsed transcription reply.
type Transcription struct {
	Transcript string `json:"TRANSCRIPT"`
	Summary    string `json:"SUMMARY"`
	TLDR       string `json:"TLDR"`
	Language   string `json:"LANGUAGE"`
}

// Transcribe implements capability.Transcriber.
func (c *Client) Transcribe(ctx context.Context, req capability.TranscriptionRequest) (capability.Transcript, error) {
	if len(req.Audio) == 0 {
		return capability.Transcript{}, services.Wrap(services.ErrValidation, "transcription", "gemini", "audio is empty", nil)
	}
	if len(req.Audio) > maxInlineAudioBytes {
		return capability.Transcript{}, services.Wrap(services.ErrValidation, "transcription", "gemini", "audio exceeds inline upload limit", nil)
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	raw, err := c.generate(ctx, "transcription", "gemini", audioRequest(llm.TranscriptionPrompt, mimeType, req.Audio))
	if err != nil {
		return capability.Transcript{}, err
	}
	parsed := ParseTranscription(raw)
	if parsed.Transcript == "" {
		return capability.Transcript{}, services.Wrap(services.ErrPermanent, "transcription", "gemini", "no speech detected", nil)
	}
	return capability.Transcript{
		Text:     parsed.Transcript,
		Summary:  parsed.Summary,
		TLDR:     parsed.TLDR,
		Language: parsed.Language,
	}, nil
}

// ParseTranscription reads the model's reply as JSON and falls back to
// "TRANSCRIPT:" style section headers when the JSON does not parse.
func ParseTranscription(raw string) Transcription {
	var parsed Transcription
	if err := llm.DecodeLLMJSON(raw, &parsed); err == nil {
		return Transcription{
			Transcript: strings.TrimSpace(parsed.Transcript),
			Summary:    strings.TrimSpace(parsed.Summary),
			TLDR:       strings.TrimSpace(parsed.TLDR),
			Language:   strings.TrimSpace(parsed.Language),
		}
	}
	return parsePlainText(raw)
}

func parsePlainText(raw string) Transcription {
	sections := map[string]*strings.Builder{
		"TRANSCRIPT:": {},
		"SUMMARY:":    {},
		"TLDR:":       {},
		"LANGUAGE:":   {},
	}
	var current *strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if b, ok := sections[strings.ToUpper(line)]; ok {
			current = b
			continue
		}
		if current != nil {
			current.WriteString(line)
			current.WriteByte(' ')
		}
	}
	return Transcription{
		Transcript: strings.TrimSpace(sections["TRANSCRIPT:"].String()),
		Summary:    strings.TrimSpace(sections["SUMMARY:"].String()),
		TLDR:       strings.TrimSpace(sections["TLDR:"].String()),
		Language:   strings.TrimSpace(sections["LANGUAGE:"].String()),
	}
}
