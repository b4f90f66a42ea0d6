package candles

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin-exchange/internal/models"
)

var base = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func minuteSeries(prices ...float64) []models.PriceRecord {
	out := make([]models.PriceRecord, len(prices))
	for i, p := range prices {
		out[i] = models.PriceRecord{Instrument: "PIG", Price: p, Timestamp: base.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func TestAggregateTenMinutesIntoTwoBars(t *testing.T) {
	records := minuteSeries(10, 12, 9, 11, 13, 14, 8, 10, 15, 12)

	bars := Aggregate(records, base.Add(10*time.Minute), 5*time.Minute, 2)
	require.Len(t, bars, 2)

	assert.Equal(t, base, bars[0].Start)
	assert.Equal(t, 10.0, bars[0].Open)
	assert.Equal(t, 13.0, bars[0].Close)
	assert.Equal(t, 13.0, bars[0].High)
	assert.Equal(t, 9.0, bars[0].Low)
	assert.Equal(t, 5, bars[0].Count)

	assert.Equal(t, 13.0, bars[1].Open, "second bar opens at previous close")
	assert.Equal(t, 12.0, bars[1].Close)
	assert.Equal(t, 15.0, bars[1].High)
	assert.Equal(t, 8.0, bars[1].Low)

	for _, b := range bars {
		assert.GreaterOrEqual(t, b.High, max(b.Open, b.Close))
		assert.LessOrEqual(t, b.Low, min(b.Open, b.Close))
	}
}

func TestAggregateEndAlignedWindow(t *testing.T) {
	records := minuteSeries(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	// Window [-1m, 9m]: the record at exactly 9m falls in the last bar.
	bars := Aggregate(records, base.Add(9*time.Minute), 5*time.Minute, 2)
	require.Len(t, bars, 2)
	assert.Equal(t, 4, bars[0].Count)
	assert.Equal(t, 6, bars[1].Count)
	assert.Equal(t, 10.0, bars[1].Close)
}

func TestAggregateOmitsEmptyBarsAndChainsAcrossGaps(t *testing.T) {
	records := []models.PriceRecord{
		{Price: 5, Timestamp: base},
		{Price: 7, Timestamp: base.Add(30 * time.Minute)},
	}
	bars := Aggregate(records, base.Add(40*time.Minute), 10*time.Minute, 4)
	require.Len(t, bars, 2)
	assert.Equal(t, 5.0, bars[1].Open)
	assert.Equal(t, 5.0, bars[1].Low)
	assert.Equal(t, 7.0, bars[1].High)
}

func TestAggregateIgnoresOutOfWindowAndUnsorted(t *testing.T) {
	records := []models.PriceRecord{
		{Price: 3, Timestamp: base.Add(2 * time.Minute)},
		{Price: 1, Timestamp: base},
		{Price: 99, Timestamp: base.Add(-time.Hour)},
		{Price: 99, Timestamp: base.Add(time.Hour)},
	}
	bars := Aggregate(records, base.Add(5*time.Minute), 5*time.Minute, 1)
	require.Len(t, bars, 1)
	assert.Equal(t, 1.0, bars[0].Open)
	assert.Equal(t, 3.0, bars[0].Close)
	assert.Equal(t, 2, bars[0].Count)

	assert.Nil(t, Aggregate(records, base, 0, 3))
	assert.Nil(t, Aggregate(nil, base, time.Minute, 3))
}

func TestLayoutPaddingAndGeometry(t *testing.T) {
	bars := []models.Candle{
		{Open: 100, High: 110, Low: 90, Close: 105},
		{Open: 105, High: 106, Low: 100, Close: 101},
	}
	chart := Layout(bars, 280)
	assert.InDelta(t, 88, chart.DisplayMin, 1e-9)
	assert.InDelta(t, 112, chart.DisplayMax, 1e-9)
	require.Len(t, chart.Bars, 2)

	for _, g := range chart.Bars {
		assert.GreaterOrEqual(t, g.BodyHeight, 4)
		assert.GreaterOrEqual(t, g.WickTop, 0)
		assert.GreaterOrEqual(t, g.WickBottom, 0)
		assert.GreaterOrEqual(t, g.TotalHeight, 0)
	}
	assert.True(t, chart.Bars[0].Up)
	assert.False(t, chart.Bars[1].Up)
	assert.Equal(t, 0, chart.Row(chart.DisplayMax, 10))
	assert.Equal(t, 9, chart.Row(chart.DisplayMin, 10))
}

func TestLayoutFlatSeries(t *testing.T) {
	chart := Layout([]models.Candle{{Open: 50, High: 50, Low: 50, Close: 50}}, 0)
	assert.Equal(t, DefaultChartHeight, chart.Height)
	assert.InDelta(t, 47.5, chart.DisplayMin, 1e-9)
	assert.InDelta(t, 52.5, chart.DisplayMax, 1e-9)
	assert.Equal(t, 4, chart.Bars[0].BodyHeight)
}

func TestChangePercent(t *testing.T) {
	assert.Equal(t, 0.0, ChangePercent(nil))
	bars := []models.Candle{{Open: 100, Close: 110}, {Open: 110, Close: 120}}
	assert.InDelta(t, 20, ChangePercent(bars), 1e-9)
}
