// Package stream distributes price records to in-process subscribers.
package stream

import (
	"context"
	"sync"

	"coin-exchange/internal/models"
)

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the internal record channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// allSymbols is the subscription key for subscribers that want every instrument.
const allSymbols = "*"

// Hub fans price records from the exchange out to subscribers. Publishing
// never blocks: a full buffer drops the record.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[string][]chan models.PriceRecord
	records     chan models.PriceRecord
	done        chan struct{}
	started     bool

	metricsMu sync.Mutex
	metrics   HubMetrics
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Received  uint64
	Delivered uint64
	Dropped   uint64
}

// NewHub creates a hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = 1
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string][]chan models.PriceRecord),
		records:     make(chan models.PriceRecord, config.BufferSize),
	}
}

// Start begins the distribution loop. Calling Start on a running hub is a no-op.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	h.done = make(chan struct{})
	go h.loop(ctx, h.done)
}

func (h *Hub) loop(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case rec := <-h.records:
			h.broadcast(rec)
		}
	}
}

// Stop ends the distribution loop and closes every subscriber channel.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}
	close(h.done)
	h.started = false

	for key, subs := range h.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subscribers, key)
	}
}

// Running reports whether the hub is distributing records.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Subscribe returns a channel receiving records for symbol. An empty symbol
// subscribes to every instrument.
func (h *Hub) Subscribe(symbol string) <-chan models.PriceRecord {
	key := models.NormalizeSymbol(symbol)
	if key == "" {
		key = allSymbols
	}
	ch := make(chan models.PriceRecord, h.config.SubscriberBufferSize)

	h.mu.Lock()
	h.subscribers[key] = append(h.subscribers[key], ch)
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (h *Hub) Unsubscribe(sub <-chan models.PriceRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, subs := range h.subscribers {
		for i, ch := range subs {
			if (<-chan models.PriceRecord)(ch) != sub {
				continue
			}
			close(ch)
			h.subscribers[key] = append(subs[:i], subs[i+1:]...)
			if len(h.subscribers[key]) == 0 {
				delete(h.subscribers, key)
			}
			return
		}
	}
}

// Publish queues records for distribution.
func (h *Hub) Publish(records ...models.PriceRecord) {
	for _, rec := range records {
		select {
		case h.records <- rec:
		default:
			h.metricsMu.Lock()
			h.metrics.Dropped++
			h.metricsMu.Unlock()
		}
	}
}

// broadcast delivers rec to the instrument's subscribers and the catch-all
// subscribers, skipping any whose buffer is full.
func (h *Hub) broadcast(rec models.PriceRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var delivered, dropped uint64
	for _, key := range []string{rec.Instrument, allSymbols} {
		for _, ch := range h.subscribers[key] {
			select {
			case ch <- rec:
				delivered++
			default:
				dropped++
			}
		}
	}

	h.metricsMu.Lock()
	h.metrics.Received++
	h.metrics.Delivered += delivered
	h.metrics.Dropped += dropped
	h.metricsMu.Unlock()
}

// SubscriberCount returns the number of subscribers across all keys.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, subs := range h.subscribers {
		count += len(subs)
	}
	return count
}

// Metrics returns a copy of the hub counters.
func (h *Hub) Metrics() HubMetrics {
	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return h.metrics
}
