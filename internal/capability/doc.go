// Package capability defines the contracts the pipeline calls out to:
// anonymization, transcription, and transcript analysis.
//
// Implementations live with their backends under internal/services. This
// package adds the behaviour every call shares regardless of backend: a
// bounded timeout, outcome classification through services.Classify, and a
// circuit breaker in front of the remote transcription and analysis
// services. It also owns the catalogue of anonymization presets.
package capability
