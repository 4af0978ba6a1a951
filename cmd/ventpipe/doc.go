// Package main hosts the ventpipe CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon in the foreground and translates
// terminal invocations into calls against the daemon's HTTP API: submitting
// audio, inspecting submissions and jobs, withdrawing and retrying runs.
// Commands that only need the local databases (queue health, purge, status
// when the daemon is down) open them directly.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
