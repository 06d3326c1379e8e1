package resilience

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tonpool/tonpool/lib/errors"
)

func TestDefaultRetryStrategy(t *testing.T) {
	s := DefaultRetryStrategy()
	assert.Equal(t, DefaultRetryInterval, s.Interval)
	assert.Equal(t, uint(DefaultMaxRetries), s.MaxRetries)
	assert.Equal(t, uint(DefaultMaxRetries+1), s.Attempts())
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(apperrors.Remote(apperrors.StatusOverloaded, "busy")))
	assert.False(t, ShouldRetry(apperrors.Remote(651, "not found")))
	assert.False(t, ShouldRetry(apperrors.Configuration("bad config", nil)))
	assert.False(t, ShouldRetry(errors.New("eof")))
}

func TestDo_TransientFailureExhaustsBudget(t *testing.T) {
	s := RetryStrategy{Interval: time.Millisecond, MaxRetries: 3}
	transient := apperrors.Remote(apperrors.StatusOverloaded, "busy")

	var calls atomic.Int32
	err := s.Do(context.Background(), nil, func() error {
		calls.Add(1)
		return transient
	}, nil)

	require.Error(t, err)
	assert.Same(t, transient, err, "the last failure must be returned unchanged")
	assert.Equal(t, int32(4), calls.Load())
}

func TestDo_NonTransientFailureIsNotRetried(t *testing.T) {
	s := RetryStrategy{Interval: time.Millisecond, MaxRetries: 5}
	permanent := apperrors.Remote(651, "block not found")

	var calls atomic.Int32
	err := s.Do(context.Background(), nil, func() error {
		calls.Add(1)
		return permanent
	}, nil)

	assert.Same(t, permanent, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	s := RetryStrategy{Interval: time.Millisecond, MaxRetries: 5}

	var calls atomic.Int32
	err := s.Do(context.Background(), nil, func() error {
		if calls.Add(1) < 3 {
			return apperrors.Remote(apperrors.StatusOverloaded, "busy")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ZeroRetriesRunsOnce(t *testing.T) {
	s := RetryStrategy{Interval: time.Millisecond}

	var calls atomic.Int32
	_ = s.Do(context.Background(), nil, func() error {
		calls.Add(1)
		return apperrors.Remote(apperrors.StatusOverloaded, "busy")
	}, nil)

	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_CustomPredicate(t *testing.T) {
	s := RetryStrategy{Interval: time.Millisecond, MaxRetries: 2}
	sentinel := errors.New("flaky")

	var calls atomic.Int32
	err := s.Do(context.Background(), nil, func() error {
		calls.Add(1)
		return sentinel
	}, func(err error) bool { return errors.Is(err, sentinel) })

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_WaitsOnClock(t *testing.T) {
	mock := clock.NewMock()
	s := RetryStrategy{Interval: time.Minute, MaxRetries: 1}

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Do(context.Background(), mock, func() error {
			calls.Add(1)
			return apperrors.Remote(apperrors.StatusOverloaded, "busy")
		}, nil)
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	// The second attempt only happens once the interval has elapsed.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		select {
		case err := <-done:
			done <- err
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, apperrors.IsTransient(<-done))
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	mock := clock.NewMock()
	s := RetryStrategy{Interval: time.Hour, MaxRetries: 5}
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Do(ctx, mock, func() error {
			calls.Add(1)
			return apperrors.Remote(apperrors.StatusOverloaded, "busy")
		}, nil)
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestAttempts_Saturates(t *testing.T) {
	tests := []struct {
		retries uint
		want    uint
	}{
		{0, 1},
		{10, 11},
		{math.MaxUint - 1, math.MaxUint},
		{math.MaxUint, math.MaxUint},
	}
	for _, tt := range tests {
		s := RetryStrategy{MaxRetries: tt.retries}
		if got := s.Attempts(); got != tt.want {
			t.Errorf("RetryStrategy{MaxRetries: %d}.Attempts() = %d, want %d", tt.retries, got, tt.want)
		}
	}
}

