package retrycircuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/replicator/internal/syncerr"
	"github.com/ledgersync/replicator/pkg/logging"
)

func networkFailure() error {
	return syncerr.New(syncerr.KindNetwork, "gateway", "dial failed")
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1 // one attempt per Execute call, no in-call retry
	cfg.FailureThreshold = 3
	cfg.RecoveryTimeout = 50 * time.Millisecond

	c := New("gateway", cfg, logging.Discard())

	for i := 0; i < 3; i++ {
		err := c.Execute(context.Background(), func(context.Context) error {
			return networkFailure()
		})
		assert.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, c.State())

	// Fourth call observes the breaker open without a transport attempt.
	called := false
	err := c.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.ErrorIs(t, err, syncerr.ErrCircuitOpen)
}

func TestCircuitHalfOpenProbeFailureReopens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	cfg.FailureThreshold = 2
	cfg.RecoveryTimeout = 20 * time.Millisecond
	cfg.HalfOpenMaxCalls = 1

	c := New("gateway", cfg, logging.Discard())

	for i := 0; i < 2; i++ {
		_ = c.Execute(context.Background(), func(context.Context) error { return networkFailure() })
	}
	assert.Equal(t, gobreaker.StateOpen, c.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, c.State())

	err := c.Execute(context.Background(), func(context.Context) error { return networkFailure() })
	assert.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, c.State())
}

func TestExecuteRetriesOnlyRetryableErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.InitialDelay = time.Millisecond
	cfg.FailureThreshold = 100 // keep breaker closed through this test

	c := New("gateway", cfg, logging.Discard())

	attempts := 0
	err := c.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return networkFailure()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteDoesNotRetryNonRetryableErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.FailureThreshold = 100

	c := New("store", cfg, logging.Discard())

	attempts := 0
	permanentErr := errors.New("not a gateway error")
	err := c.Execute(context.Background(), func(context.Context) error {
		attempts++
		return permanentErr
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRegistryReusesCircuitPerDependency(t *testing.T) {
	r := NewRegistry(DefaultConfig(), logging.Discard())
	a := r.For("gateway")
	b := r.For("gateway")
	c := r.For("store")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
