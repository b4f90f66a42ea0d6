// Package candles aggregates price history into OHLC bars and lays them out
// for charting.
package candles

import (
	"math"
	"sort"
	"time"

	"coin-exchange/internal/models"
)

// Aggregate buckets records into count contiguous bars of width bar ending at end.
// The window is [end-count*bar, end]; a record exactly at end belongs to the last
// bar. Empty bars are omitted. Each bar after the first opens at the previous
// emitted bar's close, with high and low widened to include that open.
// Output is ascending by time.
func Aggregate(records []models.PriceRecord, end time.Time, bar time.Duration, count int) []models.Candle {
	if bar <= 0 || count <= 0 || len(records) == 0 {
		return nil
	}

	sorted := make([]models.PriceRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	start := end.Add(-time.Duration(count) * bar)
	buckets := make([]*models.Candle, count)

	for _, rec := range sorted {
		if rec.Timestamp.Before(start) || rec.Timestamp.After(end) {
			continue
		}
		idx := int(rec.Timestamp.Sub(start) / bar)
		if idx >= count {
			idx = count - 1
		}

		c := buckets[idx]
		if c == nil {
			bucketStart := start.Add(time.Duration(idx) * bar)
			buckets[idx] = &models.Candle{
				Start: bucketStart,
				End:   bucketStart.Add(bar),
				Open:  rec.Price,
				High:  rec.Price,
				Low:   rec.Price,
				Close: rec.Price,
				Count: 1,
			}
			continue
		}
		c.High = math.Max(c.High, rec.Price)
		c.Low = math.Min(c.Low, rec.Price)
		c.Close = rec.Price
		c.Count++
	}

	out := make([]models.Candle, 0, count)
	for _, c := range buckets {
		if c == nil {
			continue
		}
		if n := len(out); n > 0 {
			c.Open = out[n-1].Close
			c.High = math.Max(c.High, c.Open)
			c.Low = math.Min(c.Low, c.Open)
		}
		out = append(out, *c)
	}
	return out
}

// ChangePercent returns the percent move from the first bar's open to the
// last bar's close, or 0 with fewer than two bars.
func ChangePercent(bars []models.Candle) float64 {
	if len(bars) < 2 || bars[0].Open == 0 {
		return 0
	}
	return (bars[len(bars)-1].Close - bars[0].Open) / bars[0].Open * 100
}
