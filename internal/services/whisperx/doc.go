// Package whisperx runs WhisperX locally through uvx as the transcription
// backend for deployments without a hosted speech API.
//
// The service writes the anonymized audio to a scratch directory, invokes
// WhisperX with JSON output, and joins the segment texts. It produces the
// transcript and language only; summaries come from the analysis backend.
//
// Failures are classified before they leave the package: a missing uvx binary
// is a configuration error, a failed run is an external tool error (retried),
// and a run that produces no speech is permanent.
package whisperx
