package events

import (
	"sync"
	"time"

	"coin-exchange/internal/models"
)

// ActivityTracker remembers when each whitelisted channel last saw a message.
type ActivityTracker struct {
	mu        sync.RWMutex
	whitelist []models.Channel
	allowed   map[string]bool
	last      map[string]time.Time
}

// NewActivityTracker creates a tracker for channels.
func NewActivityTracker(channels []models.Channel) *ActivityTracker {
	t := &ActivityTracker{last: make(map[string]time.Time)}
	t.SetChannels(channels)
	return t
}

// SetChannels replaces the whitelist. Activity of channels that stay
// whitelisted is kept.
func (t *ActivityTracker) SetChannels(channels []models.Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.whitelist = make([]models.Channel, 0, len(channels))
	t.allowed = make(map[string]bool, len(channels))
	for _, ch := range channels {
		key := ch.String()
		if t.allowed[key] {
			continue
		}
		t.allowed[key] = true
		t.whitelist = append(t.whitelist, ch)
	}
	for key := range t.last {
		if !t.allowed[key] {
			delete(t.last, key)
		}
	}
}

// Channels returns the whitelist.
func (t *ActivityTracker) Channels() []models.Channel {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]models.Channel(nil), t.whitelist...)
}

// Record notes a message on channel at. Only whitelisted channels are
// tracked; the return value reports whether channel was.
func (t *ActivityTracker) Record(channel string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.allowed[channel] {
		return false
	}
	if at.After(t.last[channel]) {
		t.last[channel] = at
	}
	return true
}

// LastSeen returns when channel was last active.
func (t *ActivityTracker) LastSeen(channel string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.last[channel]
	return ts, ok
}

// Active returns whitelisted channels with activity within threshold of now.
func (t *ActivityTracker) Active(now time.Time, threshold time.Duration) []models.Channel {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var active []models.Channel
	for _, ch := range t.whitelist {
		ts, ok := t.last[ch.String()]
		if ok && now.Sub(ts) <= threshold {
			active = append(active, ch)
		}
	}
	return active
}
