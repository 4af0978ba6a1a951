// Package logs reads the daemon's log file for `ventpipe logs`.
//
// Tail returns the last N lines with bounded memory and the byte offset to
// resume from; Follow polls from that offset until the context ends. Both
// accept a Filter so an operator can narrow output to one job or submission
// without piping through grep.
package logs
