// Package gemini calls the Gemini generateContent API for transcription and
// analysis.
//
// One Client serves both capabilities: Transcribe sends the anonymized audio
// inline and asks for transcript, summary, TLDR and language in one JSON
// reply; Summarize and ClassifySentiment are text-only prompts shared with the
// llm package. Each method issues exactly one request and returns errors
// marked with the services sentinels.
package gemini
