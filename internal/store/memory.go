package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"coin-exchange/internal/errors"
	"coin-exchange/internal/models"
)

// MemoryStore implements Store in process memory. It backs tests and the
// degraded mode used when the database cannot be opened.
type MemoryStore struct {
	mu       sync.RWMutex
	history  map[string][]models.PriceRecord
	snapshot []byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{history: make(map[string][]models.PriceRecord)}
}

// Append stores records keeping each instrument's series time ordered.
func (m *MemoryStore) Append(_ context.Context, records ...models.PriceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		series := m.history[r.Instrument]
		i := sort.Search(len(series), func(i int) bool {
			return series[i].Timestamp.After(r.Timestamp)
		})
		series = append(series, models.PriceRecord{})
		copy(series[i+1:], series[i:])
		series[i] = r
		m.history[r.Instrument] = series
	}
	return nil
}

// Query returns matching records ascending by time.
func (m *MemoryStore) Query(_ context.Context, q HistoryQuery) ([]models.PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.PriceRecord
	for _, r := range m.history[q.Instrument] {
		if !q.From.IsZero() && r.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && r.Timestamp.After(q.To) {
			continue
		}
		out = append(out, r)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

// Trim keeps the newest maxRecords records of instrument.
func (m *MemoryStore) Trim(_ context.Context, instrument string, maxRecords int) (int64, error) {
	if maxRecords <= 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	series := m.history[instrument]
	if len(series) <= maxRecords {
		return 0, nil
	}
	deleted := len(series) - maxRecords
	m.history[instrument] = append([]models.PriceRecord(nil), series[deleted:]...)
	return int64(deleted), nil
}

// SaveSnapshot keeps an encoded copy of snap.
func (m *MemoryStore) SaveSnapshot(_ context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.snapshot = data
	m.mu.Unlock()
	return nil
}

// LoadSnapshot decodes the last saved snapshot.
func (m *MemoryStore) LoadSnapshot(_ context.Context) (*models.Snapshot, error) {
	m.mu.RLock()
	data := m.snapshot
	m.mu.RUnlock()

	if data == nil {
		return nil, errors.ErrDataNotFound
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }
