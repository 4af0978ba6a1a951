// Package language normalizes the spoken-language labels returned by the
// transcription and analysis backends.
//
// Backends answer with anything from "en" to "Hindi (romanized)". Normalize
// reduces those to a short BCP 47 tag using golang.org/x/text/language so the
// stored value stays comparable and fits the submission record.
package language
