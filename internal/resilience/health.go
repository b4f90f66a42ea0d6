package resilience

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"coin-exchange/internal/clock"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	Latency   time.Duration `json:"latency"`
	LastCheck time.Time     `json:"last_check"`
}

// HealthCheck represents a health check function.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth is the result of one round of checks.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Uptime     time.Duration     `json:"uptime"`
	Components []ComponentHealth `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// HealthMonitorConfig holds health monitor configuration.
type HealthMonitorConfig struct {
	MemoryThresholdMB  uint64
	GoroutineThreshold int
	CheckTimeout       time.Duration
}

// DefaultHealthMonitorConfig returns default configuration.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		MemoryThresholdMB:  256,
		GoroutineThreshold: 500,
		CheckTimeout:       3 * time.Second,
	}
}

// HealthMonitor runs registered component checks on demand.
type HealthMonitor struct {
	mu     sync.RWMutex
	config HealthMonitorConfig
	clock  clock.Clock
	start  time.Time
	checks map[string]HealthCheck
}

// NewHealthMonitor creates a monitor with the runtime checks registered.
func NewHealthMonitor(config HealthMonitorConfig, clk clock.Clock) *HealthMonitor {
	if clk == nil {
		clk = clock.Real{}
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = DefaultHealthMonitorConfig().CheckTimeout
	}
	m := &HealthMonitor{
		config: config,
		clock:  clk,
		start:  clk.Now(),
		checks: make(map[string]HealthCheck),
	}
	m.Register("memory", m.checkMemory)
	m.Register("goroutines", m.checkGoroutines)
	return m
}

// Register adds or replaces a named check.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs every registered check concurrently. The overall status is the
// worst component status.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	checks := make([]HealthCheck, 0, len(m.checks))
	for name, check := range m.checks {
		names = append(names, name)
		checks = append(checks, check)
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.config.CheckTimeout)
	defer cancel()

	p := pool.NewWithResults[ComponentHealth]()
	for i, check := range checks {
		name, check := names[i], check
		p.Go(func() ComponentHealth {
			return m.run(ctx, name, check)
		})
	}
	components := p.Wait()
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	now := m.clock.Now()
	health := SystemHealth{
		Status:     HealthStatusHealthy,
		Uptime:     now.Sub(m.start),
		Components: components,
		CheckedAt:  now,
	}
	for _, c := range components {
		health.Status = worse(health.Status, c.Status)
	}
	return health
}

// run executes one check, converting a panic into an unhealthy result.
func (m *HealthMonitor) run(ctx context.Context, name string, check HealthCheck) (result ComponentHealth) {
	defer func() {
		if r := recover(); r != nil {
			result = ComponentHealth{
				Name:      name,
				Status:    HealthStatusUnhealthy,
				Message:   fmt.Sprintf("check panicked: %v", r),
				LastCheck: m.clock.Now(),
			}
		}
	}()
	result = check(ctx)
	result.Name = name
	if result.LastCheck.IsZero() {
		result.LastCheck = m.clock.Now()
	}
	return result
}

// IsHealthy reports whether every component is healthy.
func (h SystemHealth) IsHealthy() bool {
	return h.Status == HealthStatusHealthy
}

func worse(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthStatusHealthy: 0, HealthStatusDegraded: 1, HealthStatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (m *HealthMonitor) checkMemory(context.Context) ComponentHealth {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	allocMB := memStats.Alloc / 1024 / 1024

	if allocMB > m.config.MemoryThresholdMB {
		return ComponentHealth{Status: HealthStatusDegraded, Message: fmt.Sprintf("Memory usage high: %d MB", allocMB)}
	}
	return ComponentHealth{Status: HealthStatusHealthy, Message: fmt.Sprintf("Memory usage: %d MB", allocMB)}
}

func (m *HealthMonitor) checkGoroutines(context.Context) ComponentHealth {
	n := runtime.NumGoroutine()
	if n > m.config.GoroutineThreshold {
		return ComponentHealth{Status: HealthStatusDegraded, Message: fmt.Sprintf("High goroutine count: %d", n)}
	}
	return ComponentHealth{Status: HealthStatusHealthy, Message: fmt.Sprintf("Goroutine count: %d", n)}
}

// DatabaseHealthCheck creates a health check for database connections.
func DatabaseHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		latency := time.Since(start)

		switch {
		case err != nil:
			return ComponentHealth{Status: HealthStatusUnhealthy, Latency: latency, Message: fmt.Sprintf("Database ping failed: %v", err)}
		case latency > 100*time.Millisecond:
			return ComponentHealth{Status: HealthStatusDegraded, Latency: latency, Message: fmt.Sprintf("Database slow: %v", latency)}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Latency: latency, Message: fmt.Sprintf("Database healthy: %v", latency)}
	}
}

// BreakerHealthCheck reports an open circuit as degraded.
func BreakerHealthCheck(cb *CircuitBreaker) HealthCheck {
	return func(context.Context) ComponentHealth {
		stats := cb.Stats()
		switch stats.State {
		case CircuitOpen:
			return ComponentHealth{Status: HealthStatusDegraded, Message: fmt.Sprintf("%s circuit open, %d calls rejected", cb.Name(), stats.TotalRejected)}
		case CircuitHalfOpen:
			return ComponentHealth{Status: HealthStatusDegraded, Message: fmt.Sprintf("%s circuit probing", cb.Name())}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: fmt.Sprintf("%s circuit closed", cb.Name())}
	}
}

// ProbeHealthCheck adapts a status function into a check.
func ProbeHealthCheck(probe func() (HealthStatus, string)) HealthCheck {
	return func(context.Context) ComponentHealth {
		status, msg := probe()
		return ComponentHealth{Status: status, Message: msg}
	}
}
