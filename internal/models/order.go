package models

import (
	"fmt"
	"strings"
	"time"
)

// Side represents the side of an order or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide parses a side string case-insensitively.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

// Order is a standing limit order. Orders never partially fill.
type Order struct {
	ID         string    `json:"id"`
	User       string    `json:"user"`
	Side       Side      `json:"side"`
	Instrument string    `json:"instrument"`
	Amount     float64   `json:"amount"`
	LimitPrice float64   `json:"limit_price"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the order is past its expiry at now.
func (o Order) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// Crosses reports whether price satisfies the order's limit.
func (o Order) Crosses(price float64) bool {
	if o.Side == SideBuy {
		return price <= o.LimitPrice
	}
	return price >= o.LimitPrice
}

// Position is a user's holding in one instrument.
type Position struct {
	Amount    float64 `json:"amount"`
	TotalCost float64 `json:"total_cost"`
}

// AvgCost returns the weighted average cost, or 0 for an empty position.
func (p Position) AvgCost() float64 {
	if p.Amount <= 0 {
		return 0
	}
	return p.TotalCost / p.Amount
}

// Fill is the ledger's account of an executed trade.
type Fill struct {
	Side       Side    `json:"side"`
	Instrument string  `json:"instrument"`
	Amount     float64 `json:"amount"`
	Price      float64 `json:"price"`
	Gross      float64 `json:"gross"` // amount * price
	Fee        float64 `json:"fee"`
	FeeRate    float64 `json:"fee_rate"`
	Net        float64 `json:"net"`     // total debited for buys, total credited for sells
	Balance    float64 `json:"balance"` // cash balance after the trade
}

// Receipt describes an immediate trade.
type Receipt struct {
	Fill
	User       string    `json:"user"`
	ExecutedAt time.Time `json:"executed_at"`
}

// TradeResult is returned from buy/sell: either a receipt or a standing order ticket.
type TradeResult struct {
	Receipt *Receipt `json:"receipt,omitempty"`
	Order   *Order   `json:"order,omitempty"`
}

// PositionView is a position valued at the current market price.
type PositionView struct {
	Instrument    string  `json:"instrument"`
	Amount        float64 `json:"amount"`
	AvgCost       float64 `json:"avg_cost"`
	Price         float64 `json:"price"`
	Value         float64 `json:"value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	PnLPercent    float64 `json:"pnl_percent"`
}

// Portfolio is a user's account overview.
type Portfolio struct {
	User      string         `json:"user"`
	Balance   float64        `json:"balance"`
	NetWorth  float64        `json:"net_worth"`
	Positions []PositionView `json:"positions"`
	Orders    []Order        `json:"orders"`
}

// Snapshot is the persisted whole-state image. Price history is stored separately.
type Snapshot struct {
	MarketPrices      map[string]float64             `json:"market_prices"`
	UserBalances      map[string]float64             `json:"user_balances"`
	UserPositions     map[string]map[string]Position `json:"user_positions"`
	PendingOrders     map[string][]Order             `json:"pending_orders"`
	CurrentVolatility map[string]float64             `json:"current_volatility"`
	DynamicMeans      map[string]float64             `json:"dynamic_means,omitempty"`
	LastEventAt       time.Time                      `json:"last_event_at,omitempty"`
	SavedAt           time.Time                      `json:"saved_at"`
}
