package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin-exchange/internal/errors"
	"coin-exchange/internal/ledger"
	"coin-exchange/internal/models"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newBook() (*Book, *ledger.Ledger) {
	return New(24 * time.Hour), ledger.New(10000, ledger.Fees{Buy: 0.001, Sell: 0.02})
}

func TestPlaceEnforcesSideOfMarket(t *testing.T) {
	b, _ := newBook()

	_, err := b.Place("alice", models.SideBuy, "PIG", 1, 100, 100, t0)
	assert.True(t, errors.Is(err, errors.ErrInvalidOrderPrice))
	_, err = b.Place("alice", models.SideBuy, "PIG", 1, 120, 100, t0)
	assert.True(t, errors.Is(err, errors.ErrInvalidOrderPrice))
	_, err = b.Place("alice", models.SideSell, "PIG", 1, 100, 100, t0)
	assert.True(t, errors.Is(err, errors.ErrInvalidOrderPrice))
	_, err = b.Place("alice", models.SideBuy, "PIG", 0, 90, 100, t0)
	assert.True(t, errors.Is(err, errors.ErrInvalidAmount))
	_, err = b.Place("alice", models.Side("hold"), "PIG", 1, 90, 100, t0)
	assert.True(t, errors.Is(err, errors.ErrInvalidSide))
	assert.Empty(t, b.Orders("alice"))

	order, err := b.Place("alice", models.SideBuy, "PIG", 2, 90, 100, t0)
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, t0.Add(24*time.Hour), order.ExpiresAt)
	assert.Equal(t, []models.Order{order}, b.Orders("alice"))

	_, err = b.Place("alice", models.SideSell, "PIG", 2, 110, 100, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Count())
}

func TestMatchFillsAtLimitPriceOnce(t *testing.T) {
	b, l := newBook()
	_, err := b.Place("alice", models.SideBuy, "PIG", 10, 90, 100, t0)
	require.NoError(t, err)

	report := b.Match(t0.Add(time.Minute), map[string]float64{"PIG": 95}, l)
	assert.Empty(t, report.Filled)
	assert.Len(t, b.Orders("alice"), 1)

	report = b.Match(t0.Add(2*time.Minute), map[string]float64{"PIG": 80}, l)
	require.Len(t, report.Filled, 1)
	assert.Equal(t, 90.0, report.Filled[0].Fill.Price)
	assert.Empty(t, b.Orders("alice"))
	assert.InDelta(t, 10000-900*1.001, l.Balance("alice"), 1e-9)
	assert.Equal(t, 10.0, l.Position("alice", "PIG").Amount)

	report = b.Match(t0.Add(3*time.Minute), map[string]float64{"PIG": 70}, l)
	assert.Empty(t, report.Filled)
	assert.Equal(t, 10.0, l.Position("alice", "PIG").Amount)
}

func TestMatchDropsOrderWhenFundsInsufficient(t *testing.T) {
	b, l := newBook()
	_, err := b.Place("bob", models.SideBuy, "PIG", 200, 90, 100, t0)
	require.NoError(t, err)
	_, err = b.Place("bob", models.SideSell, "DOGE", 5, 6, 5, t0)
	require.NoError(t, err)

	report := b.Match(t0.Add(time.Minute), map[string]float64{"PIG": 50, "DOGE": 7}, l)
	assert.Empty(t, report.Filled)
	require.Len(t, report.Dropped, 2)
	assert.True(t, errors.Is(report.Dropped[0].Err, errors.ErrInsufficientFunds))
	assert.True(t, errors.Is(report.Dropped[1].Err, errors.ErrInsufficientHoldings))
	assert.Empty(t, b.Orders("bob"))
	assert.Equal(t, 10000.0, l.Balance("bob"))
}

func TestMatchProcessesInInsertionOrder(t *testing.T) {
	b, l := newBook()
	// Each order alone is affordable, both together are not.
	first, err := b.Place("carol", models.SideBuy, "PIG", 60, 90, 100, t0)
	require.NoError(t, err)
	_, err = b.Place("carol", models.SideBuy, "PIG", 60, 95, 100, t0)
	require.NoError(t, err)

	report := b.Match(t0.Add(time.Minute), map[string]float64{"PIG": 80}, l)
	require.Len(t, report.Filled, 1)
	assert.Equal(t, first.ID, report.Filled[0].Order.ID)
	require.Len(t, report.Dropped, 1)
}

func TestMatchExpiresRegardlessOfPrice(t *testing.T) {
	b, l := newBook()
	_, err := b.Place("dave", models.SideBuy, "PIG", 1, 90, 100, t0)
	require.NoError(t, err)

	report := b.Match(t0.Add(24*time.Hour), map[string]float64{"PIG": 10}, l)
	assert.Len(t, report.Expired, 1)
	assert.Empty(t, report.Filled)
	assert.Empty(t, b.Orders("dave"))
	assert.Equal(t, 10000.0, l.Balance("dave"))
}

func TestCancelByIDAndPrefix(t *testing.T) {
	b, _ := newBook()
	seq := []string{"aaaa-1111", "aaaa-2222", "bbbb-3333"}
	b.newID = func() string {
		id := seq[0]
		seq = seq[1:]
		return id
	}
	for i := 0; i < 3; i++ {
		_, err := b.Place("erin", models.SideBuy, "PIG", 1, 90, 100, t0)
		require.NoError(t, err)
	}

	_, err := b.Cancel("erin", "aaaa")
	assert.True(t, errors.Is(err, errors.ErrOrderNotFound))

	order, err := b.Cancel("erin", "bbbb")
	require.NoError(t, err)
	assert.Equal(t, "bbbb-3333", order.ID)

	order, err = b.Cancel("erin", "aaaa-1111")
	require.NoError(t, err)
	assert.Equal(t, "aaaa-1111", order.ID)
	assert.Len(t, b.Orders("erin"), 1)

	_, err = b.Cancel("erin", "zzzz-0000")
	assert.True(t, errors.Is(err, errors.ErrOrderNotFound))
}

func TestExportRestore(t *testing.T) {
	b, _ := newBook()
	_, err := b.Place("frank", models.SideSell, "DOGE", 3, 6, 5, t0)
	require.NoError(t, err)

	other := New(time.Hour)
	other.Restore(b.Export())
	assert.Equal(t, b.Orders("frank"), other.Orders("frank"))

	other.Reset("frank")
	assert.Zero(t, other.Count())
}
