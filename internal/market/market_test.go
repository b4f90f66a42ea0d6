package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin-exchange/internal/errors"
)

func TestTickPricesGrowsMeanAndRecordsHistory(t *testing.T) {
	m := New(testInstruments, DefaultParams(), NewRNG(42))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	records := m.TickPrices(now)
	require.Len(t, records, len(testInstruments))
	for i, rec := range records {
		assert.Equal(t, testInstruments[i].Symbol, rec.Instrument)
		assert.Equal(t, now, rec.Timestamp)
		assert.False(t, rec.Event)
	}
	assert.InDelta(t, 100+100*0.0001, m.Mean("PIG"), 1e-9)
}

func TestTickPricesIsDeterministicForSeed(t *testing.T) {
	a := New(testInstruments, DefaultParams(), NewRNG(7))
	b := New(testInstruments, DefaultParams(), NewRNG(7))
	for i := 0; i < 20; i++ {
		a.TickVolatility()
		b.TickVolatility()
		a.TickPrices(time.Time{})
		b.TickPrices(time.Time{})
	}
	assert.Equal(t, a.Prices(), b.Prices())
}

func TestMeanReversionPullsTowardMean(t *testing.T) {
	params := DefaultParams()
	params.VolatilityStep = 0
	params.VolatilityMinRatio = 0
	params.VolatilityMaxRatio = 0
	m := New(testInstruments[:1], params, NewRNG(1))
	m.Restore(map[string]float64{"PIG": 200}, map[string]float64{"PIG": 0}, nil)

	m.TickVolatility()
	m.TickPrices(time.Time{})

	p, err := m.Price("PIG")
	require.NoError(t, err)
	mean := 100 + 100*params.GrowthRate
	want := 200 * (1 - (200-mean)/mean*params.ReversionStrength)
	assert.InDelta(t, want, p, 1e-9)
}

func TestApplyShock(t *testing.T) {
	m := New(testInstruments, DefaultParams(), NewRNG(1))
	oldPrice, newPrice, rec, err := m.ApplyShock("PIG", 0.10, time.Unix(10, 0))
	require.NoError(t, err)
	assert.Equal(t, 100.0, oldPrice)
	assert.InDelta(t, 110.0, newPrice, 1e-9)
	assert.True(t, rec.Event)

	_, _, _, err = m.ApplyShock("NOPE", 0.1, time.Unix(10, 0))
	assert.True(t, errors.Is(err, errors.ErrInvalidInstrument))
}

func TestRestoreClampsAndIgnoresUnknown(t *testing.T) {
	m := New(testInstruments, DefaultParams(), NewRNG(1))
	m.Restore(
		map[string]float64{"PIG": -5, "GHOST": 1},
		map[string]float64{"PIG": 9},
		map[string]float64{"PIG": 150},
	)
	p, _ := m.Price("PIG")
	v, _ := m.Volatility("PIG")
	assert.Equal(t, 0.01, p)
	assert.InDelta(t, 0.045, v, 1e-12)
	assert.Equal(t, 150.0, m.Mean("PIG"))
	assert.False(t, m.Has("GHOST"))

	m.Reset()
	p, _ = m.Price("PIG")
	assert.Equal(t, 100.0, p)
}
