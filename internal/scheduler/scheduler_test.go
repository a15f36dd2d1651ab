package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunExecutesCyclesUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cycles atomic.Int32
	err := s.Run(ctx, func(context.Context) error {
		if cycles.Add(1) == 3 {
			cancel()
		}
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), cycles.Load())
}

func TestRunKeepsGoingAfterCycleError(t *testing.T) {
	s := New(Options{Interval: time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cycles atomic.Int32
	err := s.Run(ctx, func(context.Context) error {
		if cycles.Add(1) >= 2 {
			cancel()
		}
		return errors.New("aggregation failed")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(2), cycles.Load())
}

func TestRunInterruptsWaitOnCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.Run(ctx, func(context.Context) error {
			close(ran)
			return nil
		})
	}()

	<-ran
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation during the wait")
	}
}

func TestRunStopsBeforeFirstCycleWhenAlreadyCancelled(t *testing.T) {
	s := New(Options{Interval: time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Run(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRunCancelledDuringStartupDelay(t *testing.T) {
	s := New(Options{Interval: time.Millisecond, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err := s.Run(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
}

func TestNextDelay(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 2, 30, 0, time.UTC)

	plain := New(Options{Interval: 5 * time.Minute}, zerolog.Nop())
	assert.Equal(t, 5*time.Minute, plain.nextDelay(now))

	aligned := New(Options{Interval: 5 * time.Minute, AlignToBucket: true}, zerolog.Nop())
	assert.Equal(t, 2*time.Minute+30*time.Second, aligned.nextDelay(now))
	assert.Equal(t, 5*time.Minute, aligned.nextDelay(time.Date(2024, 6, 1, 10, 5, 0, 0, time.UTC)))
}

func TestNewPanicsOnNonPositiveInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}
