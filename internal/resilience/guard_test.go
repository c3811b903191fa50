package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
		MaxRetries:       0,
		RetryDelay:       time.Millisecond,
	}
}

func TestGuardPassesThroughWhenClosed(t *testing.T) {
	g := New("test", testConfig(), nil)

	calls := 0
	err := g.Do(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuardTripsAfterConsecutiveFailures(t *testing.T) {
	g := New("test", testConfig(), nil)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := g.Do(context.Background(), func() error { return boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	// Open circuit rejects without invoking the operation.
	calls := 0
	err := g.Do(context.Background(), func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 0, calls)
}

func TestGuardRecoversThroughHalfOpen(t *testing.T) {
	g := New("test", testConfig(), nil)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		g.Do(context.Background(), func() error { return boom })
	}
	require.Equal(t, gobreaker.StateOpen, g.State())

	// Wait out the recovery timeout; the next call is a half-open trial.
	time.Sleep(60 * time.Millisecond)
	err := g.Do(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuardReopensOnHalfOpenFailure(t *testing.T) {
	g := New("test", testConfig(), nil)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		g.Do(context.Background(), func() error { return boom })
	}
	time.Sleep(60 * time.Millisecond)

	err := g.Do(context.Background(), func() error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, gobreaker.StateOpen, g.State())
}

func TestGuardRetriesTransientFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	g := New("test", cfg, nil)

	calls := 0
	err := g.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGuardHonorsContextCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 5
	cfg.RetryDelay = time.Hour
	g := New("test", cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := g.Do(ctx, func() error { return errors.New("always") })
	assert.ErrorIs(t, err, context.Canceled)
}
