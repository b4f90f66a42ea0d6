package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin-exchange/internal/errors"
	"coin-exchange/internal/models"
)

var epoch = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func implementations(t *testing.T) map[string]Store {
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "market.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func seed(t *testing.T, s Store, instrument string, n int) {
	t.Helper()
	records := make([]models.PriceRecord, n)
	for i := range records {
		records[i] = models.PriceRecord{
			Instrument: instrument,
			Price:      float64(i + 1),
			Volatility: 0.03,
			Event:      i%5 == 0,
			Timestamp:  epoch.Add(time.Duration(i) * time.Minute),
		}
	}
	require.NoError(t, s.Append(context.Background(), records...))
}

func TestHistoryQueryRangeAndLimit(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, "PIG", 10)
			seed(t, s, "DOGE", 3)

			all, err := s.Query(ctx, HistoryQuery{Instrument: "PIG"})
			require.NoError(t, err)
			require.Len(t, all, 10)
			assert.True(t, all[0].Event)
			assert.Equal(t, epoch, all[0].Timestamp.UTC())
			for i := 1; i < len(all); i++ {
				assert.False(t, all[i].Timestamp.Before(all[i-1].Timestamp))
			}

			window, err := s.Query(ctx, HistoryQuery{
				Instrument: "PIG",
				From:       epoch.Add(2 * time.Minute),
				To:         epoch.Add(5 * time.Minute),
			})
			require.NoError(t, err)
			require.Len(t, window, 4)
			assert.Equal(t, 3.0, window[0].Price)
			assert.Equal(t, 6.0, window[3].Price)

			newest, err := s.Query(ctx, HistoryQuery{Instrument: "PIG", Limit: 3})
			require.NoError(t, err)
			require.Len(t, newest, 3)
			assert.Equal(t, []float64{8, 9, 10}, []float64{newest[0].Price, newest[1].Price, newest[2].Price})

			none, err := s.Query(ctx, HistoryQuery{Instrument: "KIRINO"})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestHistoryTrimKeepsNewest(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, "PIG", 10)
			seed(t, s, "DOGE", 4)

			deleted, err := s.Trim(ctx, "PIG", 4)
			require.NoError(t, err)
			assert.Equal(t, int64(6), deleted)

			kept, err := s.Query(ctx, HistoryQuery{Instrument: "PIG"})
			require.NoError(t, err)
			require.Len(t, kept, 4)
			assert.Equal(t, 7.0, kept[0].Price)

			other, err := s.Query(ctx, HistoryQuery{Instrument: "DOGE"})
			require.NoError(t, err)
			assert.Len(t, other, 4)

			deleted, err = s.Trim(ctx, "PIG", 0)
			require.NoError(t, err)
			assert.Zero(t, deleted)
		})
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.LoadSnapshot(ctx)
			assert.True(t, errors.Is(err, errors.ErrDataNotFound))

			snap := &models.Snapshot{
				MarketPrices:      map[string]float64{"PIG": 101.5},
				UserBalances:      map[string]float64{"alice": 9000},
				UserPositions:     map[string]map[string]models.Position{"alice": {"PIG": {Amount: 10, TotalCost: 1000}}},
				PendingOrders:     map[string][]models.Order{"alice": {{ID: "o1", User: "alice", Side: models.SideBuy, Instrument: "PIG", Amount: 1, LimitPrice: 90}}},
				CurrentVolatility: map[string]float64{"PIG": 0.031},
				SavedAt:           epoch,
			}
			require.NoError(t, s.SaveSnapshot(ctx, snap))
			snap.MarketPrices["PIG"] = 120
			require.NoError(t, s.SaveSnapshot(ctx, snap))

			got, err := s.LoadSnapshot(ctx)
			require.NoError(t, err)
			assert.Equal(t, 120.0, got.MarketPrices["PIG"])
			assert.Equal(t, snap.UserPositions, got.UserPositions)
			assert.Equal(t, "o1", got.PendingOrders["alice"][0].ID)
			assert.True(t, snap.SavedAt.Equal(got.SavedAt))
		})
	}
}

func TestSQLiteHistorySurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	seed(t, s, "WUWA", 5)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.Query(context.Background(), HistoryQuery{Instrument: "WUWA"})
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestSQLiteDSN(t *testing.T) {
	cases := []struct {
		path     string
		dsn      string
		inMemory bool
	}{
		{"/var/lib/coinx/market.db", "/var/lib/coinx/market.db?_journal_mode=WAL&_busy_timeout=5000", false},
		{":memory:", ":memory:?_journal_mode=WAL&_busy_timeout=5000", true},
		{"file:market.db?cache=shared", "file:market.db?cache=shared&_journal_mode=WAL&_busy_timeout=5000", false},
		{"file:coinx?mode=memory&cache=shared", "file:coinx?mode=memory&cache=shared&_journal_mode=WAL&_busy_timeout=5000", true},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			dsn, inMemory := sqliteDSN(tc.path)
			assert.Equal(t, tc.dsn, dsn)
			assert.Equal(t, tc.inMemory, inMemory)
		})
	}
}

func TestSQLiteOpensURIWithQuery(t *testing.T) {
	s, err := NewSQLiteStore("file:coinx_uri_test?mode=memory&cache=shared")
	require.NoError(t, err)
	defer s.Close()

	seed(t, s, "PIG", 3)
	records, err := s.Query(context.Background(), HistoryQuery{Instrument: "PIG"})
	require.NoError(t, err)
	assert.Len(t, records, 3)
	require.NoError(t, s.Ping(context.Background()))
}
