// Package models provides domain models for the coin exchange.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Instrument is a tradable coin. Immutable after startup.
type Instrument struct {
	Symbol         string  `mapstructure:"symbol" json:"symbol"`
	InitialPrice   float64 `mapstructure:"initial_price" json:"initial_price"`
	BaseVolatility float64 `mapstructure:"base_volatility" json:"base_volatility"`
}

// NormalizeSymbol upper-cases and trims an instrument identifier.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// PriceRecord is one entry of an instrument's price history.
type PriceRecord struct {
	Instrument string
	Price      float64
	Volatility float64
	Event      bool // produced by a news event rather than a tick
	Timestamp  time.Time
}

// Candle represents OHLC data for a time bucket.
type Candle struct {
	Start time.Time
	End   time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
	Count int
}

// IsUp reports whether the bar closed at or above its open.
func (c Candle) IsUp() bool {
	return c.Close >= c.Open
}

// Quote is a row of the price table.
type Quote struct {
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	InitialPrice float64 `json:"initial_price"`
	ChangePct    float64 `json:"change_pct"`
}

// RiskTier classifies an instrument by its current volatility.
type RiskTier string

const (
	RiskExtreme RiskTier = "EXTREME"
	RiskHigh    RiskTier = "HIGH"
	RiskMedium  RiskTier = "MEDIUM"
	RiskLow     RiskTier = "LOW"
)

// TierFor returns the risk tier for a volatility value.
func TierFor(volatility float64) RiskTier {
	switch {
	case volatility >= 0.10:
		return RiskExtreme
	case volatility >= 0.07:
		return RiskHigh
	case volatility >= 0.03:
		return RiskMedium
	default:
		return RiskLow
	}
}

// VolatilityView is one row of the volatility report.
type VolatilityView struct {
	Symbol    string   `json:"symbol"`
	Current   float64  `json:"current"`
	Base      float64  `json:"base"`
	ChangePct float64  `json:"change_pct"` // current relative to base, in percent
	Tier      RiskTier `json:"tier"`
	Price     float64  `json:"price"`
	Mean      float64  `json:"mean"` // level the price reverts toward
}

// Channel identifies a chat channel eligible for event broadcasts.
type Channel struct {
	Platform string `json:"platform"`
	Kind     string `json:"kind"`
	ID       string `json:"id"`
}

// String returns the unified origin form platform:kind:id.
func (c Channel) String() string {
	return c.Platform + ":" + c.Kind + ":" + c.ID
}

// ParseChannel parses a platform:kind:id string. The id may itself contain colons.
func ParseChannel(s string) (Channel, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Channel{}, fmt.Errorf("invalid channel %q: expected platform:kind:id", s)
	}
	return Channel{Platform: parts[0], Kind: parts[1], ID: parts[2]}, nil
}
