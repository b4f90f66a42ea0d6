// Package ledger tracks user cash balances and coin positions.
package ledger

import (
	"fmt"
	"sort"

	"coin-exchange/internal/errors"
	"coin-exchange/internal/models"
)

// dust is the amount below which a remaining position counts as empty.
const dust = 1e-9

// slack is the rounding tolerance allowed when comparing a balance to a cost.
func slack(total float64) float64 {
	return dust + total*1e-12
}

// Fees is the asymmetric fee schedule applied to gross trade value.
type Fees struct {
	Buy  float64
	Sell float64
}

type account struct {
	balance   float64
	positions map[string]*models.Position
}

// Ledger holds every account. It does no locking of its own; callers
// serialize access with the market lock.
type Ledger struct {
	initialBalance float64
	fees           Fees
	accounts       map[string]*account
}

// New creates an empty ledger.
func New(initialBalance float64, fees Fees) *Ledger {
	return &Ledger{
		initialBalance: initialBalance,
		fees:           fees,
		accounts:       make(map[string]*account),
	}
}

// Fees returns the fee schedule.
func (l *Ledger) Fees() Fees { return l.fees }

// account returns the user's account, opening it with the initial balance on first use.
func (l *Ledger) account(user string) *account {
	acct, ok := l.accounts[user]
	if !ok {
		acct = &account{
			balance:   l.initialBalance,
			positions: make(map[string]*models.Position),
		}
		l.accounts[user] = acct
	}
	return acct
}

// Balance returns the user's cash balance.
func (l *Ledger) Balance(user string) float64 {
	return l.account(user).balance
}

// Position returns the user's holding in instrument.
func (l *Ledger) Position(user, instrument string) models.Position {
	if pos, ok := l.account(user).positions[instrument]; ok {
		return *pos
	}
	return models.Position{}
}

// Positions returns copies of the user's non-empty holdings.
func (l *Ledger) Positions(user string) map[string]models.Position {
	acct := l.account(user)
	out := make(map[string]models.Position, len(acct.positions))
	for inst, pos := range acct.positions {
		out[inst] = *pos
	}
	return out
}

// Users returns every known user in sorted order.
func (l *Ledger) Users() []string {
	users := make([]string, 0, len(l.accounts))
	for u := range l.accounts {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Buy debits amount*price plus the buy fee and credits the position.
// On any error the ledger is unchanged.
func (l *Ledger) Buy(user, instrument string, amount, price float64) (models.Fill, error) {
	if err := validateTrade(amount, price); err != nil {
		return models.Fill{}, err
	}
	acct := l.account(user)

	cost := amount * price
	fee := cost * l.fees.Buy
	total := cost + fee
	if acct.balance+slack(total) < total {
		return models.Fill{}, errors.NewValidationError("balance", acct.balance,
			fmt.Sprintf("need %.2f including fee %.2f, have %.2f", total, fee, acct.balance),
			errors.ErrInsufficientFunds)
	}

	acct.balance = max(0, acct.balance-total)
	pos, ok := acct.positions[instrument]
	if !ok {
		pos = &models.Position{}
		acct.positions[instrument] = pos
	}
	pos.Amount += amount
	pos.TotalCost += cost

	return models.Fill{
		Side:       models.SideBuy,
		Instrument: instrument,
		Amount:     amount,
		Price:      price,
		Gross:      cost,
		Fee:        fee,
		FeeRate:    l.fees.Buy,
		Net:        total,
		Balance:    acct.balance,
	}, nil
}

// Sell removes amount from the position and credits proceeds minus the sell fee.
// The remaining cost basis shrinks in proportion to the fraction sold.
func (l *Ledger) Sell(user, instrument string, amount, price float64) (models.Fill, error) {
	if err := validateTrade(amount, price); err != nil {
		return models.Fill{}, err
	}
	acct := l.account(user)

	pos, ok := acct.positions[instrument]
	held := 0.0
	if ok {
		held = pos.Amount
	}
	if !ok || held <= 0 || amount > held+dust {
		return models.Fill{}, errors.NewValidationError("amount", amount,
			fmt.Sprintf("hold %.4f %s, cannot sell %.4f", held, instrument, amount),
			errors.ErrInsufficientHoldings)
	}

	// Rounding slack never pays out more than is held.
	sold := min(amount, held)
	income := sold * price
	fee := income * l.fees.Sell
	net := income - fee

	if held-sold <= dust {
		delete(acct.positions, instrument)
	} else {
		pos.TotalCost *= 1 - sold/held
		pos.Amount -= sold
	}
	acct.balance += net

	return models.Fill{
		Side:       models.SideSell,
		Instrument: instrument,
		Amount:     sold,
		Price:      price,
		Gross:      income,
		Fee:        fee,
		FeeRate:    l.fees.Sell,
		Net:        net,
		Balance:    acct.balance,
	}, nil
}

// NetWorth is cash plus every position valued at prices.
func (l *Ledger) NetWorth(user string, prices map[string]float64) float64 {
	acct := l.account(user)
	worth := acct.balance
	for inst, pos := range acct.positions {
		worth += pos.Amount * prices[inst]
	}
	return worth
}

// UnrealizedPnL is the position's value less its cost basis and the fee a sale would incur.
func (l *Ledger) UnrealizedPnL(user, instrument string, price float64) float64 {
	pos := l.Position(user, instrument)
	value := pos.Amount * price
	return value - pos.AvgCost()*pos.Amount - value*l.fees.Sell
}

// Reset restores the user's account to the initial balance with no positions.
func (l *Ledger) Reset(user string) {
	l.accounts[user] = &account{
		balance:   l.initialBalance,
		positions: make(map[string]*models.Position),
	}
}

// ResetAll forgets every account.
func (l *Ledger) ResetAll() {
	l.accounts = make(map[string]*account)
}

// Export returns copies of all balances and positions for snapshotting.
func (l *Ledger) Export() (map[string]float64, map[string]map[string]models.Position) {
	balances := make(map[string]float64, len(l.accounts))
	positions := make(map[string]map[string]models.Position, len(l.accounts))
	for user, acct := range l.accounts {
		balances[user] = acct.balance
		if len(acct.positions) == 0 {
			continue
		}
		held := make(map[string]models.Position, len(acct.positions))
		for inst, pos := range acct.positions {
			held[inst] = *pos
		}
		positions[user] = held
	}
	return balances, positions
}

// Restore replaces all accounts with persisted state. Empty or negative
// positions are discarded.
func (l *Ledger) Restore(balances map[string]float64, positions map[string]map[string]models.Position) {
	l.accounts = make(map[string]*account, len(balances))
	for user, bal := range balances {
		l.accounts[user] = &account{balance: bal, positions: make(map[string]*models.Position)}
	}
	for user, held := range positions {
		acct := l.account(user)
		for inst, pos := range held {
			if pos.Amount <= dust {
				continue
			}
			p := pos
			if p.TotalCost < 0 {
				p.TotalCost = 0
			}
			acct.positions[inst] = &p
		}
	}
}

func validateTrade(amount, price float64) error {
	if !(amount > 0) {
		return errors.NewValidationError("amount", amount, "must be positive", errors.ErrInvalidAmount)
	}
	if !(price > 0) {
		return errors.NewValidationError("price", price, "must be positive", errors.ErrInvalidOrderPrice)
	}
	return nil
}
