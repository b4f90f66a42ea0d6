// Package exchange owns the market state and exposes every user-facing
// operation: quotes, trading, portfolios, reports, administration and the
// background scheduler that keeps the market moving.
package exchange

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coin-exchange/internal/candles"
	"coin-exchange/internal/clock"
	"coin-exchange/internal/config"
	"coin-exchange/internal/errors"
	"coin-exchange/internal/events"
	"coin-exchange/internal/ledger"
	"coin-exchange/internal/logging"
	"coin-exchange/internal/market"
	"coin-exchange/internal/models"
	"coin-exchange/internal/notify"
	"coin-exchange/internal/orderbook"
	"coin-exchange/internal/store"
)

const (
	// MaxBarCount bounds the number of candlesticks per request.
	MaxBarCount = 100
	// MaxBarMinutes bounds the width of one candlestick to 30 days.
	MaxBarMinutes = 1440 * 30
	// DefaultHistoryLimit is the number of records History returns when no limit is given.
	DefaultHistoryLimit = 25
	// MaxHistoryLimit bounds the number of records History returns.
	MaxHistoryLimit = 100
)

// Options holds the exchange parameters.
type Options struct {
	Instruments    []models.Instrument
	Market         market.Params
	InitialBalance float64
	Fees           ledger.Fees
	OrderTTL       time.Duration
	Admins         []string
	Interval       time.Duration
	ErrorBackoff   time.Duration
	SnapshotEvery  int
	MaxHistory     int
	StoreTimeout   time.Duration
	Events         events.Config
	EventsEnabled  bool
	Seed           int64
}

// DefaultOptions returns the stock market with default parameters.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig converts loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Instruments:    cfg.Instruments,
		Market:         market.ParamsFromConfig(cfg.Market),
		InitialBalance: cfg.Trading.InitialBalance,
		Fees:           ledger.Fees{Buy: cfg.Trading.BuyFee, Sell: cfg.Trading.SellFee},
		OrderTTL:       cfg.Trading.OrderTTL,
		Admins:         cfg.Trading.Admins,
		Interval:       cfg.Market.UpdateInterval,
		ErrorBackoff:   cfg.Market.ErrorBackoff,
		SnapshotEvery:  cfg.Storage.SnapshotEvery,
		MaxHistory:     cfg.Storage.MaxHistory,
		StoreTimeout:   cfg.Storage.Timeout,
		Events:         events.ConfigFrom(cfg.Events),
		EventsEnabled:  cfg.Events.Enabled,
		Seed:           cfg.Market.Seed,
	}
}

// Publisher receives every new price record. The stream hub implements it.
type Publisher interface {
	Publish(records ...models.PriceRecord)
}

// Deps are the collaborators of an Exchange. Every field is optional.
type Deps struct {
	Store       store.Store
	Clock       clock.Clock
	Text        events.TextGenerator
	Broadcaster notify.Broadcaster
	Feed        Publisher
	Channels    []models.Channel
	Logger      zerolog.Logger
}

// Exchange is the market service. One mutex guards market, ledger and book;
// persistence, text generation and broadcasts happen outside it.
type Exchange struct {
	opts   Options
	clock  clock.Clock
	store  store.Store
	feed   Publisher
	logger zerolog.Logger
	admins map[string]bool

	mu     sync.Mutex
	market *market.Market
	ledger *ledger.Ledger
	book   *orderbook.Book
	ticks  uint64

	events    *events.Generator
	scheduler *Scheduler
}

// New creates an exchange with every instrument at its initial state.
func New(opts Options, deps Deps) *Exchange {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}

	rng := market.NewRNG(opts.Seed)
	e := &Exchange{
		opts:   opts,
		clock:  deps.Clock,
		store:  deps.Store,
		feed:   deps.Feed,
		logger: logging.WithComponent(deps.Logger, "exchange"),
		admins: make(map[string]bool, len(opts.Admins)),
		market: market.New(opts.Instruments, opts.Market, rng),
		ledger: ledger.New(opts.InitialBalance, opts.Fees),
		book:   orderbook.New(opts.OrderTTL),
	}
	for _, admin := range opts.Admins {
		e.admins[admin] = true
	}

	symbols := make([]string, 0, len(opts.Instruments))
	for _, inst := range e.market.Instruments() {
		symbols = append(symbols, inst.Symbol)
	}
	e.events = events.NewGenerator(opts.Events, events.Deps{
		Clock:   deps.Clock,
		RNG:     rng,
		Tracker: events.NewActivityTracker(deps.Channels),
		Shock:   e,
		Text:    deps.Text,
		Out:     deps.Broadcaster,
		Symbols: symbols,
		Logger:  deps.Logger,
	})
	e.scheduler = NewScheduler(e, opts.Interval, opts.ErrorBackoff, deps.Logger)
	return e
}

// Events returns the event generator.
func (e *Exchange) Events() *events.Generator { return e.events }

// Price returns the current price of symbol.
func (e *Exchange) Price(symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market.Price(models.NormalizeSymbol(symbol))
}

// Quotes returns the price table in instrument order.
func (e *Exchange) Quotes() []models.Quote {
	e.mu.Lock()
	defer e.mu.Unlock()

	instruments := e.market.Instruments()
	prices := e.market.Prices()
	quotes := make([]models.Quote, 0, len(instruments))
	for _, inst := range instruments {
		price := prices[inst.Symbol]
		quotes = append(quotes, models.Quote{
			Symbol:       inst.Symbol,
			Price:        price,
			InitialPrice: inst.InitialPrice,
			ChangePct:    (price - inst.InitialPrice) / inst.InitialPrice * 100,
		})
	}
	return quotes
}

// Instruments lists the supported coins with their prices.
func (e *Exchange) Instruments() []models.Quote {
	return e.Quotes()
}

// Buy buys amount of symbol for user. A zero limit trades immediately at the
// market price; a positive limit below the market places a standing order.
func (e *Exchange) Buy(ctx context.Context, user, symbol string, amount, limit float64) (models.TradeResult, error) {
	return e.trade(ctx, user, models.SideBuy, symbol, amount, limit)
}

// Sell sells amount of symbol for user. A zero limit trades immediately at the
// market price; a positive limit above the market places a standing order.
func (e *Exchange) Sell(ctx context.Context, user, symbol string, amount, limit float64) (models.TradeResult, error) {
	return e.trade(ctx, user, models.SideSell, symbol, amount, limit)
}

func (e *Exchange) trade(_ context.Context, user string, side models.Side, symbol string, amount, limit float64) (models.TradeResult, error) {
	symbol = models.NormalizeSymbol(symbol)
	if limit < 0 || math.IsNaN(limit) || math.IsInf(limit, 0) {
		return models.TradeResult{}, errors.NewValidationError("limit_price", limit, "must be zero for market or positive", errors.ErrInvalidOrderPrice)
	}
	if !(amount > 0) || math.IsInf(amount, 0) {
		return models.TradeResult{}, errors.NewValidationError("amount", amount, "must be positive", errors.ErrInvalidAmount)
	}

	now := e.clock.Now()
	log := logging.WithUser(e.logger, user)

	e.mu.Lock()
	price, err := e.market.Price(symbol)
	if err != nil {
		e.mu.Unlock()
		return models.TradeResult{}, err
	}

	if limit > 0 {
		order, err := e.book.Place(user, side, symbol, amount, limit, price, now)
		e.mu.Unlock()
		if err != nil {
			return models.TradeResult{}, err
		}
		logging.LogOrder(log, order.ID, user, symbol, string(side), "placed")
		return models.TradeResult{Order: &order}, nil
	}

	var fill models.Fill
	if side == models.SideBuy {
		fill, err = e.ledger.Buy(user, symbol, amount, price)
	} else {
		fill, err = e.ledger.Sell(user, symbol, amount, price)
	}
	e.mu.Unlock()
	if err != nil {
		return models.TradeResult{}, err
	}

	logging.LogTrade(log, user, symbol, string(side), fill.Amount, fill.Price, fill.Fee)
	return models.TradeResult{Receipt: &models.Receipt{Fill: fill, User: user, ExecutedAt: now}}, nil
}

// CancelOrder removes one of user's pending orders by id or unique id prefix.
func (e *Exchange) CancelOrder(user, orderID string) (models.Order, error) {
	e.mu.Lock()
	order, err := e.book.Cancel(user, orderID)
	e.mu.Unlock()
	if err != nil {
		return models.Order{}, err
	}
	logging.LogOrder(e.logger, order.ID, user, order.Instrument, string(order.Side), "cancelled")
	return order, nil
}

// Orders returns user's pending orders in placement order.
func (e *Exchange) Orders(user string) []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Orders(user)
}

// Portfolio returns user's balance, net worth, valued positions and pending orders.
// It creates the account on first use.
func (e *Exchange) Portfolio(user string) models.Portfolio {
	e.mu.Lock()
	defer e.mu.Unlock()

	prices := e.market.Prices()
	held := e.ledger.Positions(user)

	symbols := make([]string, 0, len(held))
	for sym := range held {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	views := make([]models.PositionView, 0, len(held))
	for _, sym := range symbols {
		pos := held[sym]
		price := prices[sym]
		pnl := e.ledger.UnrealizedPnL(user, sym, price)
		view := models.PositionView{
			Instrument:    sym,
			Amount:        pos.Amount,
			AvgCost:       pos.AvgCost(),
			Price:         price,
			Value:         pos.Amount * price,
			UnrealizedPnL: pnl,
		}
		if pos.TotalCost > 0 {
			view.PnLPercent = pnl / pos.TotalCost * 100
		}
		views = append(views, view)
	}

	return models.Portfolio{
		User:      user,
		Balance:   e.ledger.Balance(user),
		NetWorth:  e.ledger.NetWorth(user, prices),
		Positions: views,
		Orders:    e.book.Orders(user),
	}
}

// VolatilityReport lists every instrument's volatility, highest first.
func (e *Exchange) VolatilityReport() []models.VolatilityView {
	e.mu.Lock()
	defer e.mu.Unlock()

	instruments := e.market.Instruments()
	views := make([]models.VolatilityView, 0, len(instruments))
	for _, inst := range instruments {
		vol, _ := e.market.Volatility(inst.Symbol)
		price, _ := e.market.Price(inst.Symbol)
		views = append(views, models.VolatilityView{
			Symbol:    inst.Symbol,
			Current:   vol,
			Base:      inst.BaseVolatility,
			ChangePct: (vol - inst.BaseVolatility) / inst.BaseVolatility * 100,
			Tier:      models.TierFor(vol),
			Price:     price,
			Mean:      e.market.Mean(inst.Symbol),
		})
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Current > views[j].Current
	})
	return views
}

// Candlestick aggregates symbol's history into barCount bars of barMinutes
// each, ending now. Empty bars are omitted.
func (e *Exchange) Candlestick(ctx context.Context, symbol string, barMinutes, barCount int) ([]models.Candle, error) {
	symbol = models.NormalizeSymbol(symbol)
	if !e.hasInstrument(symbol) {
		return nil, errors.NewValidationError("instrument", symbol, "unknown instrument", errors.ErrInvalidInstrument)
	}
	if barMinutes < 1 || barMinutes > MaxBarMinutes {
		return nil, errors.NewValidationError("bar_minutes", barMinutes,
			fmt.Sprintf("must be between 1 and %d", MaxBarMinutes), errors.ErrInvalidRange)
	}
	if barCount < 1 || barCount > MaxBarCount {
		return nil, errors.NewValidationError("bar_count", barCount, "must be between 1 and 100", errors.ErrInvalidRange)
	}

	end := e.clock.Now()
	bar := time.Duration(barMinutes) * time.Minute
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	records, err := e.store.Query(ctx, store.HistoryQuery{
		Instrument: symbol,
		From:       end.Add(-time.Duration(barCount) * bar),
		To:         end,
	})
	if err != nil {
		return nil, errors.Wrapf(errors.WithTimeout(err), "loading history for %s", symbol)
	}
	return candles.Aggregate(records, end, bar, barCount), nil
}

// History returns the newest limit price records of symbol, oldest first.
// A non-positive limit uses DefaultHistoryLimit.
func (e *Exchange) History(ctx context.Context, symbol string, limit int) ([]models.PriceRecord, error) {
	symbol = models.NormalizeSymbol(symbol)
	if !e.hasInstrument(symbol) {
		return nil, errors.NewValidationError("instrument", symbol, "unknown instrument", errors.ErrInvalidInstrument)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	records, err := e.store.Query(ctx, store.HistoryQuery{Instrument: symbol, Limit: limit})
	if err != nil {
		return nil, errors.Wrapf(errors.WithTimeout(err), "loading history for %s", symbol)
	}
	return records, nil
}

// IsAdmin reports whether user is on the admin allow-list.
func (e *Exchange) IsAdmin(user string) bool {
	return e.admins[user]
}

// ResetAccount restores target's account to the initial balance and cancels
// its orders. Only admins may reset; an empty target resets the caller.
func (e *Exchange) ResetAccount(caller, target string) error {
	if !e.IsAdmin(caller) {
		return errors.NewValidationError("caller", caller, "only admins can reset accounts", errors.ErrPermissionDenied)
	}
	if target == "" {
		target = caller
	}

	e.mu.Lock()
	e.ledger.Reset(target)
	e.book.Reset(target)
	e.mu.Unlock()

	e.logger.Info().Str("admin", caller).Str("user", target).Msg("Account reset")
	return nil
}

// ResetMarket returns every instrument to its initial state and forgets all
// accounts and orders. Price history is kept.
func (e *Exchange) ResetMarket(caller string) error {
	if !e.IsAdmin(caller) {
		return errors.NewValidationError("caller", caller, "only admins can reset the market", errors.ErrPermissionDenied)
	}

	e.mu.Lock()
	e.market.Reset()
	e.ledger.ResetAll()
	e.book.ResetAll()
	e.mu.Unlock()

	e.logger.Warn().Str("admin", caller).Msg("Market reset")
	return nil
}

// SetBroadcastChannels replaces the channel whitelist.
func (e *Exchange) SetBroadcastChannels(channels []models.Channel) {
	e.events.Tracker().SetChannels(channels)
	e.logger.Info().Int("channels", len(channels)).Msg("Broadcast whitelist updated")
}

// BroadcastChannels returns the channel whitelist.
func (e *Exchange) BroadcastChannels() []models.Channel {
	return e.events.Tracker().Channels()
}

// LastActivity returns when channel last saw a message.
func (e *Exchange) LastActivity(channel string) (time.Time, bool) {
	return e.events.Tracker().LastSeen(channel)
}

// EventsFired returns the number of news events fired since start.
func (e *Exchange) EventsFired() uint64 { return e.events.Fired() }

// NotifyActivity records a message seen on channel. Only whitelisted channels
// count; the result reports whether channel was one.
func (e *Exchange) NotifyActivity(channel string) bool {
	return e.events.Tracker().Record(channel, e.clock.Now())
}

// ActiveChannels returns the whitelisted channels with recent activity.
func (e *Exchange) ActiveChannels() []models.Channel {
	return e.events.Tracker().Active(e.clock.Now(), e.opts.Events.InactivityThreshold)
}

// ApplyEventShock moves symbol's price by pct and records it in history.
func (e *Exchange) ApplyEventShock(symbol string, pct float64) (float64, float64, error) {
	e.mu.Lock()
	oldPrice, newPrice, rec, err := e.market.ApplyShock(models.NormalizeSymbol(symbol), pct, e.clock.Now())
	e.mu.Unlock()
	if err != nil {
		return 0, 0, err
	}

	ctx, cancel := e.storeContext(context.Background())
	defer cancel()
	if err := errors.WithTimeout(e.store.Append(ctx, rec)); err != nil {
		log := logging.WithInstrument(e.logger, rec.Instrument)
		log.Error().Err(err).Msg("Failed to record event price")
	}
	e.publish(rec)
	return oldPrice, newPrice, nil
}

// TriggerEvent fires a news event on symbol immediately, bypassing cooldown,
// activity and probability. It is an admin operation.
func (e *Exchange) TriggerEvent(ctx context.Context, caller, symbol string) error {
	if !e.IsAdmin(caller) {
		return errors.NewValidationError("caller", caller, "only admins can trigger events", errors.ErrPermissionDenied)
	}
	symbol = models.NormalizeSymbol(symbol)
	if !e.hasInstrument(symbol) {
		return errors.NewValidationError("instrument", symbol, "unknown instrument", errors.ErrInvalidInstrument)
	}
	e.events.Trigger(ctx, symbol)
	return nil
}

// Tick runs one scheduler iteration: volatility and price step, history
// append, order matching, event evaluation and periodic persistence.
// Persistence failures are returned after the iteration completes.
func (e *Exchange) Tick(ctx context.Context) error {
	started := time.Now()
	now := e.clock.Now()

	e.mu.Lock()
	e.market.TickVolatility()
	records := e.market.TickPrices(now)
	e.mu.Unlock()

	var errs []error
	if err := e.appendHistory(ctx, records); err != nil {
		errs = append(errs, err)
	}
	e.publish(records...)

	e.mu.Lock()
	report := e.book.Match(now, e.market.Prices(), e.ledger)
	e.ticks++
	tick := e.ticks
	e.mu.Unlock()
	e.logMatch(report)

	if e.opts.EventsEnabled {
		e.events.Evaluate(ctx)
	}

	if e.opts.SnapshotEvery > 0 && tick%uint64(e.opts.SnapshotEvery) == 0 {
		if err := e.SaveSnapshot(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := e.trimHistory(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	logging.LogTick(e.logger, tick, len(report.Filled), len(report.Expired), len(report.Dropped), time.Since(started))
	return errors.Join(errs...)
}

// Ticks returns the number of completed iterations.
func (e *Exchange) Ticks() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticks
}

func (e *Exchange) logMatch(report orderbook.MatchReport) {
	for _, ex := range report.Filled {
		log := logging.WithOrderID(e.logger, ex.Order.ID)
		logging.LogTrade(log, ex.Order.User, ex.Order.Instrument, string(ex.Order.Side), ex.Fill.Amount, ex.Fill.Price, ex.Fill.Fee)
		logging.LogOrder(e.logger, ex.Order.ID, ex.Order.User, ex.Order.Instrument, string(ex.Order.Side), "filled")
	}
	for _, order := range report.Expired {
		logging.LogOrder(e.logger, order.ID, order.User, order.Instrument, string(order.Side), "expired")
	}
	for _, rej := range report.Dropped {
		e.logger.Warn().
			Err(rej.Err).
			Str("order_id", rej.Order.ID).
			Str("user", rej.Order.User).
			Str("instrument", rej.Order.Instrument).
			Msg("Order dropped")
	}
}

func (e *Exchange) appendHistory(ctx context.Context, records []models.PriceRecord) error {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := errors.WithTimeout(e.store.Append(ctx, records...)); err != nil {
		e.logger.Error().Err(err).Int("records", len(records)).Msg("Failed to append price history")
		return err
	}
	return nil
}

func (e *Exchange) trimHistory(ctx context.Context) error {
	if e.opts.MaxHistory <= 0 {
		return nil
	}
	ctx, cancel := e.storeContext(ctx)
	defer cancel()

	for _, inst := range e.market.Instruments() {
		log := logging.WithInstrument(e.logger, inst.Symbol)
		removed, err := e.store.Trim(ctx, inst.Symbol, e.opts.MaxHistory)
		if err = errors.WithTimeout(err); err != nil {
			log.Error().Err(err).Msg("Failed to trim price history")
			return err
		}
		if removed > 0 {
			log.Debug().Int64("removed", removed).Msg("Trimmed price history")
		}
	}
	return nil
}

func (e *Exchange) publish(records ...models.PriceRecord) {
	if e.feed != nil && len(records) > 0 {
		e.feed.Publish(records...)
	}
}

func (e *Exchange) hasInstrument(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.market.Has(symbol)
}

func (e *Exchange) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.StoreTimeout)
}
