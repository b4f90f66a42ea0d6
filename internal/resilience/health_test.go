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

func TestHealthReportsWorstComponent(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewHealthMonitor(HealthMonitorConfig{MemoryThresholdMB: 1 << 20, GoroutineThreshold: 1 << 20}, clk)
	m.Register("database", DatabaseHealthCheck(func(context.Context) error { return nil }))

	clk.Advance(time.Minute)
	h := m.Check(context.Background())
	assert.True(t, h.IsHealthy())
	assert.Equal(t, time.Minute, h.Uptime)
	require.Len(t, h.Components, 3)
	assert.Equal(t, "database", h.Components[0].Name)
	assert.Equal(t, "goroutines", h.Components[1].Name)
	assert.Equal(t, "memory", h.Components[2].Name)

	m.Register("feed", ProbeHealthCheck(func() (HealthStatus, string) { return HealthStatusDegraded, "dropping" }))
	assert.Equal(t, HealthStatusDegraded, m.Check(context.Background()).Status)

	m.Register("database", DatabaseHealthCheck(func(context.Context) error { return errors.New("locked") }))
	h = m.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, h.Status)
	assert.Contains(t, h.Components[0].Message, "locked")
}

func TestHealthCheckPanicIsUnhealthy(t *testing.T) {
	m := NewHealthMonitor(HealthMonitorConfig{MemoryThresholdMB: 1 << 20, GoroutineThreshold: 1 << 20}, nil)
	m.Register("broken", func(context.Context) ComponentHealth { panic("nil map") })

	h := m.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, h.Status)
	assert.Equal(t, "broken", h.Components[0].Name)
	assert.Contains(t, h.Components[0].Message, "nil map")
}

func TestBreakerHealthCheck(t *testing.T) {
	cb := NewCircuitBreaker("openai", CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}, nil)
	check := BreakerHealthCheck(cb)
	assert.Equal(t, HealthStatusHealthy, check(context.Background()).Status)

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })
	c := check(context.Background())
	assert.Equal(t, HealthStatusDegraded, c.Status)
	assert.Contains(t, c.Message, "open")
}
