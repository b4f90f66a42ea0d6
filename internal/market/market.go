// Package market implements the per-instrument volatility model and the
// mean-reverting price process.
package market

import (
	"math"
	"time"

	"coin-exchange/internal/config"
	"coin-exchange/internal/errors"
	"coin-exchange/internal/models"
)

// Params are the tunable constants of the price process.
type Params struct {
	GrowthRate         float64
	ReversionStrength  float64
	VolatilityStep     float64
	VolatilityMinRatio float64
	VolatilityMaxRatio float64
	PriceFloor         float64
}

// DefaultParams returns the standard process constants.
func DefaultParams() Params {
	return Params{
		GrowthRate:         0.0001,
		ReversionStrength:  0.1,
		VolatilityStep:     0.005,
		VolatilityMinRatio: 0.5,
		VolatilityMaxRatio: 1.5,
		PriceFloor:         0.01,
	}
}

// ParamsFromConfig extracts process constants from the market section.
func ParamsFromConfig(cfg config.MarketConfig) Params {
	return Params{
		GrowthRate:         cfg.GrowthRate,
		ReversionStrength:  cfg.ReversionStrength,
		VolatilityStep:     cfg.VolatilityStep,
		VolatilityMinRatio: cfg.VolatilityMinRatio,
		VolatilityMaxRatio: cfg.VolatilityMaxRatio,
		PriceFloor:         cfg.PriceFloor,
	}
}

type state struct {
	instrument models.Instrument
	price      float64
	volatility float64
	mean       float64
}

// Market holds price, volatility and dynamic mean per instrument.
// It does no locking of its own; callers serialize access with the market lock.
type Market struct {
	params Params
	rng    *RNG
	order  []string
	states map[string]*state
}

// New creates a market with every instrument at its initial price and base volatility.
func New(instruments []models.Instrument, params Params, rng *RNG) *Market {
	m := &Market{
		params: params,
		rng:    rng,
		order:  make([]string, 0, len(instruments)),
		states: make(map[string]*state, len(instruments)),
	}
	for _, inst := range instruments {
		m.order = append(m.order, inst.Symbol)
		m.states[inst.Symbol] = &state{
			instrument: inst,
			price:      inst.InitialPrice,
			volatility: inst.BaseVolatility,
			mean:       inst.InitialPrice,
		}
	}
	return m
}

// Params returns the process constants.
func (m *Market) Params() Params { return m.params }

// Has reports whether symbol is a known instrument.
func (m *Market) Has(symbol string) bool {
	_, ok := m.states[symbol]
	return ok
}

// Instrument returns the static definition of symbol.
func (m *Market) Instrument(symbol string) (models.Instrument, error) {
	st, ok := m.states[symbol]
	if !ok {
		return models.Instrument{}, errors.NewValidationError("instrument", symbol, "unknown instrument", errors.ErrInvalidInstrument)
	}
	return st.instrument, nil
}

// Instruments returns the instrument set in configuration order.
func (m *Market) Instruments() []models.Instrument {
	out := make([]models.Instrument, 0, len(m.order))
	for _, sym := range m.order {
		out = append(out, m.states[sym].instrument)
	}
	return out
}

// Price returns the current price of symbol. It never advances the simulation.
func (m *Market) Price(symbol string) (float64, error) {
	st, ok := m.states[symbol]
	if !ok {
		return 0, errors.NewValidationError("instrument", symbol, "unknown instrument", errors.ErrInvalidInstrument)
	}
	return st.price, nil
}

// Prices returns a copy of all current prices.
func (m *Market) Prices() map[string]float64 {
	out := make(map[string]float64, len(m.states))
	for sym, st := range m.states {
		out[sym] = st.price
	}
	return out
}

// Volatility returns the current volatility of symbol.
func (m *Market) Volatility(symbol string) (float64, error) {
	st, ok := m.states[symbol]
	if !ok {
		return 0, errors.NewValidationError("instrument", symbol, "unknown instrument", errors.ErrInvalidInstrument)
	}
	return st.volatility, nil
}

// Mean returns the current dynamic mean of symbol.
func (m *Market) Mean(symbol string) float64 {
	if st, ok := m.states[symbol]; ok {
		return st.mean
	}
	return 0
}

// TickVolatility random-walks every instrument's volatility inside its band.
func (m *Market) TickVolatility() {
	for _, sym := range m.order {
		st := m.states[sym]
		delta := m.rng.Uniform(-m.params.VolatilityStep, m.params.VolatilityStep)
		st.volatility = m.clampVolatility(st.instrument, st.volatility+delta)
	}
}

// TickPrices advances every instrument one step and returns the new history records.
func (m *Market) TickPrices(now time.Time) []models.PriceRecord {
	records := make([]models.PriceRecord, 0, len(m.order))
	for _, sym := range m.order {
		st := m.states[sym]
		st.mean += st.instrument.InitialPrice * m.params.GrowthRate

		shock := m.rng.Uniform(-st.volatility, st.volatility)
		reversion := 0.0
		if st.mean > 0 {
			reversion = -(st.price - st.mean) / st.mean * m.params.ReversionStrength
		}
		st.price = m.floor(st.price * (1 + shock + reversion))

		records = append(records, models.PriceRecord{
			Instrument: sym,
			Price:      st.price,
			Volatility: st.volatility,
			Timestamp:  now,
		})
	}
	return records
}

// ApplyShock moves symbol's price by pct outside the tick formula.
func (m *Market) ApplyShock(symbol string, pct float64, now time.Time) (oldPrice, newPrice float64, rec models.PriceRecord, err error) {
	st, ok := m.states[symbol]
	if !ok {
		return 0, 0, rec, errors.NewValidationError("instrument", symbol, "unknown instrument", errors.ErrInvalidInstrument)
	}
	oldPrice = st.price
	st.price = m.floor(st.price * (1 + pct))
	rec = models.PriceRecord{
		Instrument: symbol,
		Price:      st.price,
		Volatility: st.volatility,
		Event:      true,
		Timestamp:  now,
	}
	return oldPrice, st.price, rec, nil
}

// Export returns copies of prices, volatilities and dynamic means.
func (m *Market) Export() (prices, volatilities, means map[string]float64) {
	prices = make(map[string]float64, len(m.states))
	volatilities = make(map[string]float64, len(m.states))
	means = make(map[string]float64, len(m.states))
	for sym, st := range m.states {
		prices[sym] = st.price
		volatilities[sym] = st.volatility
		means[sym] = st.mean
	}
	return prices, volatilities, means
}

// Restore loads persisted state. Unknown instruments are ignored and
// restored values are forced back inside their invariants.
func (m *Market) Restore(prices, volatilities, means map[string]float64) {
	for sym, st := range m.states {
		if p, ok := prices[sym]; ok && !math.IsNaN(p) {
			st.price = m.floor(p)
		}
		if v, ok := volatilities[sym]; ok && !math.IsNaN(v) {
			st.volatility = m.clampVolatility(st.instrument, v)
		}
		if mean, ok := means[sym]; ok && mean > 0 {
			st.mean = mean
		}
	}
}

// Reset returns every instrument to its initial state.
func (m *Market) Reset() {
	for _, st := range m.states {
		st.price = st.instrument.InitialPrice
		st.volatility = st.instrument.BaseVolatility
		st.mean = st.instrument.InitialPrice
	}
}

func (m *Market) clampVolatility(inst models.Instrument, v float64) float64 {
	lo := inst.BaseVolatility * m.params.VolatilityMinRatio
	hi := inst.BaseVolatility * m.params.VolatilityMaxRatio
	return math.Max(lo, math.Min(v, hi))
}

func (m *Market) floor(p float64) float64 {
	if math.IsNaN(p) || p < m.params.PriceFloor {
		return m.params.PriceFloor
	}
	return p
}
