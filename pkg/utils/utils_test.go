package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatCoins(t *testing.T) {
	assert.Equal(t, "0.00", FormatCoins(0))
	assert.Equal(t, "999.50", FormatCoins(999.5))
	assert.Equal(t, "10,000.00", FormatCoins(10000))
	assert.Equal(t, "-1,234,567.89", FormatCoins(-1234567.891))
	assert.Equal(t, "+12.50", FormatPnL(12.5))
	assert.Equal(t, "+1.50%", FormatPercent(1.5))
}

func TestFormatAmountAndPrice(t *testing.T) {
	assert.Equal(t, "2", FormatAmount(2))
	assert.Equal(t, "0.125", FormatAmount(0.125))
	assert.Equal(t, "0.0123", FormatPrice(0.0123))
	assert.Equal(t, "648.00", FormatPrice(648))
	assert.Equal(t, "abcdefgh", ShortID("abcdefgh-1234"))
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	cfg := RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2,
		Retryable:     func(err error) bool { return !errors.Is(err, permanent) },
	}

	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 2, calls)
}

func TestRetryWithResultSucceedsAfterFailures(t *testing.T) {
	calls := 0
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond

	v, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("busy")
		}
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	err := Retry(ctx, cfg, func() error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoff(2, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, time.Second, CalculateBackoff(10, 100*time.Millisecond, time.Second, 2))
}
