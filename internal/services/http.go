package services

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// StatusMarker maps an HTTP status from a remote service onto an error
// marker. Rate limits, request timeouts and server errors are worth
// retrying; rejected credentials or a missing model are configuration
// problems; any other 4xx means the request itself is unacceptable.
func StatusMarker(status int) error {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return ErrTransient
	case status >= http.StatusInternalServerError:
		return ErrTransient
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
		return ErrConfiguration
	case status >= http.StatusBadRequest:
		return ErrValidation
	default:
		return ErrTransient
	}
}

// TransportMarker classifies an error returned by http.Client.Do.
func TransportMarker(err error) error {
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrTransient
}
