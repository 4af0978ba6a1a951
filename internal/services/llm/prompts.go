package llm

import "fmt"

// SummaryPrompt asks for the post analysis as a JSON object.
const SummaryPrompt = `You summarize short spoken posts for a community feed.
Respond with JSON only, using exactly these keys:
{"SUMMARY": "2-4 sentence neutral summary",
 "TLDR": "10 words or fewer",
 "LANGUAGE": "BCP 47 tag of the spoken language, for example en or hi-Latn"}
Do not add markdown or commentary.`

// SentimentPrompt asks for a comment's stance toward its parent post.
const SentimentPrompt = `You judge how a spoken comment relates to the post it replies to.
Respond with JSON only: {"SENTIMENT": "IN_FAVOR" | "AGAINST" | "NEUTRAL"}.
IN_FAVOR means the commenter agrees with or supports the post.
AGAINST means the commenter disagrees with or opposes it.
Anything else is NEUTRAL.`

// TranscriptionPrompt asks a multimodal model for the full transcription
// payload of an audio recording.
const TranscriptionPrompt = `Transcribe this audio file. Provide the output in JSON format with these exact keys:
{"TRANSCRIPT": "full transcript, romanized if the speech is not in Latin script",
 "SUMMARY": "2-4 sentences clean summary",
 "TLDR": "10 words or less",
 "LANGUAGE": "detected language"}
Return ONLY the JSON, no markdown code blocks or extra text.`

// SentimentUserPrompt renders the user message for a sentiment request.
func SentimentUserPrompt(transcript, parentSummary string) string {
	return fmt.Sprintf("POST SUMMARY: %q\n\nCOMMENT TRANSCRIPT: %q", parentSummary, transcript)
}
