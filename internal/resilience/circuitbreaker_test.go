package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin-exchange/internal/clock"
)

func TestCircuitOpensAndRecovers(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cb := NewCircuitBreaker("openai", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Cooldown: time.Minute}, clk)
	ctx := context.Background()
	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }

	assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	clk.Advance(time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, CircuitClosed, cb.State())

	stats := cb.Stats()
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalRejected)
}

func TestExecuteWithResultCountsCancelledContextAsFailure(t *testing.T) {
	cb := NewCircuitBreaker("webhook", CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ExecuteWithResult(cb, ctx, func(context.Context) (string, error) { return "late", nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitOpen, cb.State())

	v, err := ExecuteWithResult(cb, context.Background(), func(context.Context) (string, error) { return "x", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Empty(t, v)
}
