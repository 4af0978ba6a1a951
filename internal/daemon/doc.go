// Package daemon coordinates the long-running ventpipe process.
//
// It ties the job store, the worker pool, the intake HTTP API and the audio
// retention sweep into a single lifecycle with flock-based locking to prevent
// two daemons from sharing one data directory. Status reporting for the API
// and the CLI is assembled here.
//
// Keep orchestration logic here: stage behaviour lives in internal/pipeline
// and scheduling in internal/workflow, while the daemon focuses on startup,
// shutdown, and high level coordination.
package daemon
