package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"ventpipe/internal/api"
)

// Exit codes scripts can branch on.
const (
	exitFailure     = 1
	exitUnavailable = 3
	exitRejected    = 4
	exitConflict    = 5
	exitInterrupted = 130
)

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	code := exitCode(err)
	if err != nil && code != exitInterrupted {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}

// exitCode maps a command error to the process exit status. A conflict means
// the submission already has a run in flight or is ready.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	if errors.Is(err, api.ErrDaemonUnavailable) {
		return exitUnavailable
	}
	var status *api.StatusError
	if errors.As(err, &status) {
		switch {
		case status.Code == http.StatusConflict:
			return exitConflict
		case status.Code >= 400 && status.Code < 500:
			return exitRejected
		}
	}
	return exitFailure
}
