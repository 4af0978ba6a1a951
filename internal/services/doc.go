// Package services defines shared utilities consumed by the pipeline stage
// handlers and the capability adapters.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, submission IDs, stage names, worker
//     names, and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, and the Classify function
//     that reduces any adapter failure to transient or permanent.
//
// Adapters must wrap every failure with one of the markers before returning so
// the workflow manager never has to inspect raw network or process errors.
package services
