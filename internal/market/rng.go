package market

import (
	"math/rand"
	"sync"
	"time"
)

// RNG is a seedable random source safe for concurrent use.
type RNG struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRNG creates a random source. A zero seed seeds from the clock.
func NewRNG(seed int64) *RNG {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RNG{r: rand.New(rand.NewSource(seed))}
}

// Float64 returns a value in [0, 1).
func (g *RNG) Float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Float64()
}

// Uniform returns a value in [lo, hi).
func (g *RNG) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*g.Float64()
}

// Intn returns a value in [0, n).
func (g *RNG) Intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Intn(n)
}

// Bool returns true or false with equal probability.
func (g *RNG) Bool() bool {
	return g.Intn(2) == 1
}
