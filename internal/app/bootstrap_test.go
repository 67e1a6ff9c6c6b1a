package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyeval/internal/app"
	"policyeval/internal/config"
)

func TestRetry_Success(t *testing.T) {
	calls := 0
	err := app.Retry(context.Background(), 1, time.Millisecond, func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_Retries(t *testing.T) {
	calls := 0
	err := app.Retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls <= 2 {
			return errors.New("not ready")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_Fail(t *testing.T) {
	calls := 0
	err := app.Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New("permanent error")
	})
	assert.EqualError(t, err, "permanent error")
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := app.Retry(ctx, 3, time.Hour, func() error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBootstrap_NothingEnabled(t *testing.T) {
	deps, err := app.Bootstrap(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, deps.DB)
	assert.Nil(t, deps.NSQProducer)
}

func TestBootstrap_ConfigurationError(t *testing.T) {
	cfg := &config.Config{
		DBEnabled:              true,
		DBHost:                 "invalid-host",
		BootstrapRetryAttempts: 1,
	}
	deps, err := app.Bootstrap(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, deps)
}
