package candles

import (
	"math"

	"coin-exchange/internal/models"
)

const (
	// DefaultChartHeight is the chart height in pixels.
	DefaultChartHeight = 280
	paddingRatio       = 0.10
	minBodyHeight      = 4
)

// BarGeometry is the pixel placement of one candle, measured from the chart top.
type BarGeometry struct {
	Candle      models.Candle
	Offset      int // top of the upper wick
	WickTop     int
	BodyHeight  int
	WickBottom  int
	TotalHeight int
	Up          bool
}

// Chart is a laid out candle series.
type Chart struct {
	Height     int
	DisplayMin float64
	DisplayMax float64
	Bars       []BarGeometry
}

// Layout scales bars into a chart of the given pixel height. The price axis
// is padded by 10% of the range on each side; a flat series is centered in a
// band of 10% of its price.
func Layout(bars []models.Candle, height int) Chart {
	if height <= 0 {
		height = DefaultChartHeight
	}
	chart := Chart{Height: height}
	if len(bars) == 0 {
		return chart
	}

	maxPrice, minPrice := math.Inf(-1), math.Inf(1)
	for _, b := range bars {
		maxPrice = math.Max(maxPrice, b.High)
		minPrice = math.Min(minPrice, b.Low)
	}

	priceRange := maxPrice - minPrice
	displayMin := minPrice - priceRange*paddingRatio
	displayMax := maxPrice + priceRange*paddingRatio
	displayRange := displayMax - displayMin
	if displayRange <= 0 {
		displayRange = maxPrice * paddingRatio
		displayMin = minPrice - displayRange/2
		displayMax = maxPrice + displayRange/2
	}
	chart.DisplayMin = displayMin
	chart.DisplayMax = displayMax

	toPx := func(price float64) int {
		if displayRange <= 0 {
			return height / 2
		}
		return int((1 - (price-displayMin)/displayRange) * float64(height))
	}

	chart.Bars = make([]BarGeometry, 0, len(bars))
	for _, b := range bars {
		highPx, lowPx := toPx(b.High), toPx(b.Low)
		openPx, closePx := toPx(b.Open), toPx(b.Close)
		bodyTop, bodyBottom := min(openPx, closePx), max(openPx, closePx)

		chart.Bars = append(chart.Bars, BarGeometry{
			Candle:      b,
			Offset:      highPx,
			WickTop:     max(0, bodyTop-highPx),
			BodyHeight:  max(minBodyHeight, bodyBottom-bodyTop),
			WickBottom:  max(0, lowPx-bodyBottom),
			TotalHeight: lowPx - highPx,
			Up:          b.IsUp(),
		})
	}
	return chart
}

// Row maps a price to a text row in [0, rows), row 0 at the top.
func (c Chart) Row(price float64, rows int) int {
	span := c.DisplayMax - c.DisplayMin
	if rows <= 1 || span <= 0 {
		return 0
	}
	r := int((c.DisplayMax - price) / span * float64(rows-1))
	return max(0, min(rows-1, r))
}
