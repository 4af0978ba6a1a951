package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusMarker(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrTransient},
		{http.StatusRequestTimeout, ErrTransient},
		{http.StatusServiceUnavailable, ErrTransient},
		{http.StatusInternalServerError, ErrTransient},
		{http.StatusUnauthorized, ErrConfiguration},
		{http.StatusNotFound, ErrConfiguration},
		{http.StatusBadRequest, ErrValidation},
		{http.StatusRequestEntityTooLarge, ErrValidation},
	}
	for _, tc := range cases {
		if got := StatusMarker(tc.status); got != tc.want {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, got)
		}
	}
}

func TestTransportMarker(t *testing.T) {
	if got := TransportMarker(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)); got != ErrTimeout {
		t.Fatalf("expected timeout, got %v", got)
	}
	if got := TransportMarker(context.Canceled); got != ErrCancelled {
		t.Fatalf("expected cancelled, got %v", got)
	}
	if got := TransportMarker(errors.New("connection refused")); got != ErrTransient {
		t.Fatalf("expected transient, got %v", got)
	}
}
