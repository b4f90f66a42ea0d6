// Package store provides persistence for price history and state snapshots.
package store

import (
	"context"
	"time"

	"coin-exchange/internal/models"
)

// snapshotKey is the kv key holding the latest market snapshot.
const snapshotKey = "market_snapshot"

// HistoryQuery selects price records for one instrument.
// Zero From or To leaves that side of the range open. A positive Limit keeps
// the newest Limit records of the range.
type HistoryQuery struct {
	Instrument string
	From       time.Time
	To         time.Time
	Limit      int
}

// PriceHistory is an append-only per-instrument price time series.
type PriceHistory interface {
	// Append stores records. Records are never updated.
	Append(ctx context.Context, records ...models.PriceRecord) error
	// Query returns matching records ascending by time.
	Query(ctx context.Context, q HistoryQuery) ([]models.PriceRecord, error)
	// Trim deletes all but the newest maxRecords records of instrument.
	Trim(ctx context.Context, instrument string, maxRecords int) (int64, error)
}

// SnapshotStore persists whole-state snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
	// LoadSnapshot returns errors.ErrDataNotFound when nothing was saved.
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
}

// Store is the full persistence surface used by the exchange.
type Store interface {
	PriceHistory
	SnapshotStore
	Close() error
	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}
