// Package orderbook manages standing limit orders and matches them against
// the market price once per tick.
package orderbook

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"coin-exchange/internal/errors"
	"coin-exchange/internal/models"
)

// Executor settles a filled order. The ledger implements it.
type Executor interface {
	Buy(user, instrument string, amount, price float64) (models.Fill, error)
	Sell(user, instrument string, amount, price float64) (models.Fill, error)
}

// Execution is an order that filled during a match cycle.
type Execution struct {
	Order models.Order
	Fill  models.Fill
}

// Rejection is an order that crossed but could not be settled.
type Rejection struct {
	Order models.Order
	Err   error
}

// MatchReport summarizes one match cycle.
type MatchReport struct {
	Filled  []Execution
	Expired []models.Order
	Dropped []Rejection
}

// Book holds each user's pending orders in insertion order. It does no
// locking of its own; callers serialize access with the market lock.
type Book struct {
	ttl    time.Duration
	orders map[string][]models.Order
	newID  func() string
}

// New creates an empty book whose orders live for ttl.
func New(ttl time.Duration) *Book {
	return &Book{
		ttl:    ttl,
		orders: make(map[string][]models.Order),
		newID:  uuid.NewString,
	}
}

// Place validates and appends a new limit order. A buy must be priced below
// the market and a sell above it. Funds and holdings are not reserved.
func (b *Book) Place(user string, side models.Side, instrument string, amount, limit, marketPrice float64, now time.Time) (models.Order, error) {
	if !(amount > 0) {
		return models.Order{}, errors.NewValidationError("amount", amount, "must be positive", errors.ErrInvalidAmount)
	}
	if !(limit > 0) {
		return models.Order{}, errors.NewValidationError("limit_price", limit, "must be positive", errors.ErrInvalidOrderPrice)
	}
	switch side {
	case models.SideBuy:
		if limit >= marketPrice {
			return models.Order{}, errors.NewValidationError("limit_price", limit,
				fmt.Sprintf("buy limit must be below market price %.4f", marketPrice), errors.ErrInvalidOrderPrice)
		}
	case models.SideSell:
		if limit <= marketPrice {
			return models.Order{}, errors.NewValidationError("limit_price", limit,
				fmt.Sprintf("sell limit must be above market price %.4f", marketPrice), errors.ErrInvalidOrderPrice)
		}
	default:
		return models.Order{}, errors.NewValidationError("side", side, "must be buy or sell", errors.ErrInvalidSide)
	}

	order := models.Order{
		ID:         b.newID(),
		User:       user,
		Side:       side,
		Instrument: instrument,
		Amount:     amount,
		LimitPrice: limit,
		CreatedAt:  now,
		ExpiresAt:  now.Add(b.ttl),
	}
	b.orders[user] = append(b.orders[user], order)
	return order, nil
}

// Match runs one cycle: expired orders are removed, crossing orders settle
// at their limit price, and crossing orders that cannot settle are dropped.
// Users are visited in sorted order and each user's orders in insertion order.
func (b *Book) Match(now time.Time, prices map[string]float64, exec Executor) MatchReport {
	var report MatchReport

	for _, user := range b.users() {
		pending := b.orders[user]
		kept := pending[:0]

		for _, order := range pending {
			if order.Expired(now) {
				report.Expired = append(report.Expired, order)
				continue
			}
			price, ok := prices[order.Instrument]
			if !ok {
				report.Dropped = append(report.Dropped, Rejection{
					Order: order,
					Err:   errors.NewValidationError("instrument", order.Instrument, "unknown instrument", errors.ErrInvalidInstrument),
				})
				continue
			}
			if !order.Crosses(price) {
				kept = append(kept, order)
				continue
			}

			var fill models.Fill
			var err error
			if order.Side == models.SideBuy {
				fill, err = exec.Buy(order.User, order.Instrument, order.Amount, order.LimitPrice)
			} else {
				fill, err = exec.Sell(order.User, order.Instrument, order.Amount, order.LimitPrice)
			}
			if err != nil {
				report.Dropped = append(report.Dropped, Rejection{Order: order, Err: err})
				continue
			}
			report.Filled = append(report.Filled, Execution{Order: order, Fill: fill})
		}

		if len(kept) == 0 {
			delete(b.orders, user)
		} else {
			b.orders[user] = kept
		}
	}

	return report
}

// Cancel removes the user's order with the given id, matched exactly or by unique prefix.
func (b *Book) Cancel(user, id string) (models.Order, error) {
	pending := b.orders[user]
	idx := -1
	for i, order := range pending {
		if order.ID == id {
			idx = i
			break
		}
		if len(id) >= 4 && len(order.ID) > len(id) && order.ID[:len(id)] == id {
			if idx >= 0 {
				return models.Order{}, errors.NewOrderError(id, order.Instrument, "cancel", "ambiguous order id", errors.ErrOrderNotFound)
			}
			idx = i
		}
	}
	if idx < 0 {
		return models.Order{}, errors.NewOrderError(id, "", "cancel", "no such pending order", errors.ErrOrderNotFound)
	}

	order := pending[idx]
	b.orders[user] = append(pending[:idx:idx], pending[idx+1:]...)
	if len(b.orders[user]) == 0 {
		delete(b.orders, user)
	}
	return order, nil
}

// Orders returns a copy of the user's pending orders.
func (b *Book) Orders(user string) []models.Order {
	return append([]models.Order(nil), b.orders[user]...)
}

// Count returns the number of pending orders across all users.
func (b *Book) Count() int {
	n := 0
	for _, list := range b.orders {
		n += len(list)
	}
	return n
}

// Reset removes all of the user's orders.
func (b *Book) Reset(user string) {
	delete(b.orders, user)
}

// ResetAll removes every order.
func (b *Book) ResetAll() {
	b.orders = make(map[string][]models.Order)
}

// Export returns a copy of all pending orders keyed by user.
func (b *Book) Export() map[string][]models.Order {
	out := make(map[string][]models.Order, len(b.orders))
	for user, list := range b.orders {
		out[user] = append([]models.Order(nil), list...)
	}
	return out
}

// Restore replaces all pending orders. Orders without an id get one, and
// orders missing an owner take the key they were stored under.
func (b *Book) Restore(orders map[string][]models.Order) {
	b.orders = make(map[string][]models.Order, len(orders))
	for user, list := range orders {
		for _, order := range list {
			if order.ID == "" {
				order.ID = b.newID()
			}
			if order.User == "" {
				order.User = user
			}
			if order.Amount <= 0 || order.LimitPrice <= 0 {
				continue
			}
			b.orders[user] = append(b.orders[user], order)
		}
	}
}

func (b *Book) users() []string {
	users := make([]string, 0, len(b.orders))
	for u := range b.orders {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
