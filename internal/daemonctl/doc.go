// Package daemonctl launches and stops a background ventpipe daemon for the
// `ventpipe start`, `stop` and `restart` commands.
//
// A running daemon is detected through its API and its flock-held lock file;
// the pid file written by the daemon is only used to signal the process.
package daemonctl
