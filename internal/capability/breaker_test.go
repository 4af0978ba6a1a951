package capability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ventpipe/internal/services"
)

func waitHalfOpen(t *testing.T, b *Breaker) {
	t.Helper()
	require.Eventually(t, func() bool { return b.State() == BreakerHalfOpen }, 2*time.Second, 5*time.Millisecond)
}

func TestBreakerOpensAfterConsecutiveTransientFailures(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	b := NewBreaker("transcription", 3, 50*time.Millisecond,
		WithStateChange(func(name string, from, to BreakerState) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		}),
	)

	transient := services.Wrap(services.ErrTransient, "transcription", "transcribe", "503", nil)
	calls := 0
	fail := func() error { calls++; return transient }

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Do(fail), services.ErrTransient)
	}
	require.Equal(t, BreakerOpen, b.State())
	require.Equal(t, 3, calls)

	err := b.Do(fail)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, services.OutcomeTransient, services.Classify(err))
	require.Equal(t, 3, calls, "open breaker must not call the service")

	waitHalfOpen(t, b)
	require.NoError(t, b.Do(func() error { calls++; return nil }))
	require.Equal(t, BreakerClosed, b.State())
	require.Equal(t, 4, calls)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerReopensWhenTrialFails(t *testing.T) {
	b := NewBreaker("analysis", 1, 50*time.Millisecond)
	transient := errors.New("connection reset")

	require.Error(t, b.Do(func() error { return transient }))
	require.Equal(t, BreakerOpen, b.State())

	waitHalfOpen(t, b)
	require.Error(t, b.Do(func() error { return transient }))
	require.Equal(t, BreakerOpen, b.State())
	require.ErrorIs(t, b.Do(func() error { return nil }), ErrCircuitOpen)
}

func TestBreakerAdmitsOneTrialCall(t *testing.T) {
	b := NewBreaker("analysis", 1, 20*time.Millisecond)
	require.Error(t, b.Do(func() error { return services.ErrTransient }))
	waitHalfOpen(t, b)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := b.Do(func() error { return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Contains(t, err.Error(), "trial in progress")

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, BreakerClosed, b.State())
}

func TestBreakerCancellationDoesNotCount(t *testing.T) {
	b := NewBreaker("transcription", 1, time.Minute)
	cancelled := services.Wrap(services.ErrCancelled, "transcription", "transcribe", "withdrawn", nil)
	require.ErrorIs(t, b.Do(func() error { return cancelled }), services.ErrCancelled)
	require.Equal(t, BreakerClosed, b.State())
}

func TestBreakerIgnoresPermanentFailures(t *testing.T) {
	b := NewBreaker("transcription", 2, time.Minute)
	permanent := services.Wrap(services.ErrValidation, "transcription", "transcribe", "no speech", nil)
	transient := services.Wrap(services.ErrTimeout, "transcription", "transcribe", "slow", nil)

	require.Error(t, b.Do(func() error { return transient }))
	require.Error(t, b.Do(func() error { return permanent }))
	require.Error(t, b.Do(func() error { return transient }))
	require.Equal(t, BreakerClosed, b.State(), "permanent failure resets the streak")
}

func TestBreakerDisabledWithZeroThreshold(t *testing.T) {
	b := NewBreaker("transcription", 0, time.Minute)
	for i := 0; i < 10; i++ {
		require.Error(t, b.Do(func() error { return services.ErrTransient }))
	}
	require.NoError(t, b.Do(func() error { return nil }))
}

func TestCallClassifiesTimeoutsAndUnmarkedErrors(t *testing.T) {
	err := Call(context.Background(), 10*time.Millisecond, "anonymizer", "anonymize", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, services.ErrTimeout)
	require.Equal(t, services.OutcomeTransient, services.Classify(err))

	err = Call(context.Background(), time.Second, "anonymizer", "anonymize", func(context.Context) error {
		return errors.New("boom")
	})
	require.ErrorIs(t, err, services.ErrTransient)

	permanent := services.Wrap(services.ErrValidation, "anonymizer", "anonymize", "corrupt audio", nil)
	err = Call(context.Background(), time.Second, "anonymizer", "anonymize", func(context.Context) error {
		return permanent
	})
	require.Equal(t, permanent, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Call(ctx, time.Second, "anonymizer", "anonymize", func(ctx context.Context) error {
		return ctx.Err()
	})
	require.ErrorIs(t, err, services.ErrCancelled)
}

type slowTranscriber struct{ delay time.Duration }

func (s slowTranscriber) Transcribe(ctx context.Context, req TranscriptionRequest) (Transcript, error) {
	select {
	case <-time.After(s.delay):
		return Transcript{Text: "late"}, nil
	case <-ctx.Done():
		return Transcript{}, ctx.Err()
	}
}

func TestGuardedTranscriberTimesOutAndTripsBreaker(t *testing.T) {
	b := NewBreaker("transcription-test", 2, time.Hour)
	g := GuardedTranscriber{Inner: slowTranscriber{delay: time.Second}, Timeout: 5 * time.Millisecond, Breaker: b}

	for i := 0; i < 2; i++ {
		_, err := g.Transcribe(context.Background(), TranscriptionRequest{})
		require.ErrorIs(t, err, services.ErrTimeout)
	}
	_, err := g.Transcribe(context.Background(), TranscriptionRequest{})
	require.ErrorIs(t, err, ErrCircuitOpen)
}
