package capability

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"ventpipe/internal/metrics"
	"ventpipe/internal/services"
)

// BreakerState is the position of a circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func stateOf(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

// ErrCircuitOpen is returned without calling the service while the breaker
// is open. It is transient so the job is retried after backoff.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", services.ErrTransient)

// Breaker short-circuits calls after a run of consecutive transient failures.
// Once the cooldown passes a single trial call is let through; its outcome
// closes or re-opens the breaker. Permanent failures and cancellations mean
// the service was not shown to be down, so they count as healthy responses.
type Breaker struct {
	name     string
	cb       *gobreaker.CircuitBreaker
	onChange func(name string, from, to BreakerState)
}

// BreakerOption customizes a Breaker.
type BreakerOption func(*Breaker)

// WithStateChange registers a callback invoked after every state change.
// It runs while the breaker is locked and must not call back into it.
func WithStateChange(fn func(name string, from, to BreakerState)) BreakerOption {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// NewBreaker creates a closed breaker. threshold below 1 disables it.
func NewBreaker(name string, threshold int, cooldown time.Duration, opts ...BreakerOption) *Breaker {
	b := &Breaker{name: name}
	for _, opt := range opts {
		opt(b)
	}
	metrics.SetBreakerState(name, int(BreakerClosed))
	if threshold < 1 {
		return b
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, services.ErrCancelled) || services.Classify(err) != services.OutcomeTransient
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, int(stateOf(to)))
			if b.onChange != nil {
				b.onChange(name, stateOf(from), stateOf(to))
			}
		},
	})
	return b
}

// State returns the current state. An open breaker reports half-open once
// the cooldown has passed.
func (b *Breaker) State() BreakerState {
	if b == nil || b.cb == nil {
		return BreakerClosed
	}
	return stateOf(b.cb.State())
}

// Do runs fn unless the breaker is open or its trial call is in flight.
func (b *Breaker) Do(fn func() error) error {
	if b == nil || b.cb == nil {
		return fn()
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return fmt.Errorf("%w: %s cooling down", ErrCircuitOpen, b.name)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s trial in progress", ErrCircuitOpen, b.name)
	}
	return err
}
