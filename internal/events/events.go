// Package events fires random market news: a price shock with a headline,
// broadcast to active whitelisted channels.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"coin-exchange/internal/clock"
	"coin-exchange/internal/config"
	"coin-exchange/internal/errors"
	"coin-exchange/internal/logging"
	"coin-exchange/internal/market"
	"coin-exchange/internal/notify"
)

// TextGenerator writes a headline for symbol moving by changePct.
type TextGenerator interface {
	Generate(ctx context.Context, symbol string, changePct float64) (string, error)
}

// ShockApplier moves a price outside the tick formula under the market lock.
type ShockApplier interface {
	ApplyEventShock(symbol string, pct float64) (oldPrice, newPrice float64, err error)
}

// Config holds event parameters.
type Config struct {
	Probability         float64
	Cooldown            time.Duration
	InactivityThreshold time.Duration
	MinShock            float64
	MaxShock            float64
	GenerationTimeout   time.Duration
	DeliveryTimeout     time.Duration
}

// DefaultConfig returns the standard event parameters.
func DefaultConfig() Config {
	return Config{
		Probability:         0.15,
		Cooldown:            20 * time.Minute,
		InactivityThreshold: time.Hour,
		MinShock:            0.05,
		MaxShock:            0.20,
		GenerationTimeout:   30 * time.Second,
		DeliveryTimeout:     10 * time.Second,
	}
}

// ConfigFrom converts the events config section.
func ConfigFrom(cfg config.EventsConfig) Config {
	return Config{
		Probability:         cfg.Probability,
		Cooldown:            cfg.Cooldown,
		InactivityThreshold: cfg.InactivityThreshold,
		MinShock:            cfg.MinShock,
		MaxShock:            cfg.MaxShock,
		GenerationTimeout:   cfg.GenerationTimeout,
		DeliveryTimeout:     cfg.DeliveryTimeout,
	}
}

// Deps are the collaborators of a Generator. Text may be nil.
type Deps struct {
	Clock   clock.Clock
	RNG     *market.RNG
	Tracker *ActivityTracker
	Shock   ShockApplier
	Text    TextGenerator
	Out     notify.Broadcaster
	Symbols []string
	Logger  zerolog.Logger
}

// Generator decides when news fires and runs each firing in the background.
type Generator struct {
	cfg     Config
	clock   clock.Clock
	rng     *market.RNG
	tracker *ActivityTracker
	shock   ShockApplier
	text    TextGenerator
	out     notify.Broadcaster
	symbols []string
	logger  zerolog.Logger

	mu        sync.Mutex
	lastFired time.Time
	fired     uint64

	wg conc.WaitGroup
}

// NewGenerator creates an event generator.
func NewGenerator(cfg Config, deps Deps) *Generator {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Out == nil {
		deps.Out = notify.NoOpBroadcaster{}
	}
	if deps.Tracker == nil {
		deps.Tracker = NewActivityTracker(nil)
	}
	return &Generator{
		cfg:     cfg,
		clock:   deps.Clock,
		rng:     deps.RNG,
		tracker: deps.Tracker,
		shock:   deps.Shock,
		text:    deps.Text,
		out:     deps.Out,
		symbols: deps.Symbols,
		logger:  logging.WithComponent(deps.Logger, "events"),
	}
}

// Tracker returns the channel activity tracker.
func (g *Generator) Tracker() *ActivityTracker { return g.tracker }

// LastFired returns when the last event fired.
func (g *Generator) LastFired() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastFired
}

// SetLastFired restores the cooldown reference, e.g. from a snapshot.
func (g *Generator) SetLastFired(t time.Time) {
	g.mu.Lock()
	g.lastFired = t
	g.mu.Unlock()
}

// Fired returns the number of events fired since start.
func (g *Generator) Fired() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fired
}

// Evaluate fires an event when the cooldown has elapsed, at least one
// whitelisted channel is active and the random draw succeeds. The cooldown
// starts before Evaluate returns; the firing itself runs in the background.
func (g *Generator) Evaluate(ctx context.Context) bool {
	if len(g.symbols) == 0 || g.shock == nil {
		return false
	}
	now := g.clock.Now()

	g.mu.Lock()
	if !g.lastFired.IsZero() && now.Sub(g.lastFired) < g.cfg.Cooldown {
		g.mu.Unlock()
		return false
	}
	if len(g.tracker.Active(now, g.cfg.InactivityThreshold)) == 0 {
		g.mu.Unlock()
		g.logger.Debug().Msg("No active channels, skipping event")
		return false
	}
	if g.rng.Float64() >= g.cfg.Probability {
		g.mu.Unlock()
		return false
	}
	g.lastFired = now
	g.fired++
	g.mu.Unlock()

	symbol := g.symbols[g.rng.Intn(len(g.symbols))]
	g.launch(ctx, symbol, g.drawShock())
	return true
}

// Trigger fires an event on symbol now, ignoring cooldown, activity and
// probability. The cooldown is restarted.
func (g *Generator) Trigger(ctx context.Context, symbol string) {
	g.mu.Lock()
	g.lastFired = g.clock.Now()
	g.fired++
	g.mu.Unlock()

	g.launch(ctx, symbol, g.drawShock())
}

// Wait blocks until every in-flight firing has finished.
func (g *Generator) Wait() {
	if r := g.wg.WaitAndRecover(); r != nil {
		g.logger.Error().Str("panic", r.String()).Msg("Event firing panicked")
	}
}

func (g *Generator) drawShock() float64 {
	magnitude := g.rng.Uniform(g.cfg.MinShock, g.cfg.MaxShock)
	if g.rng.Bool() {
		return magnitude
	}
	return -magnitude
}

func (g *Generator) launch(ctx context.Context, symbol string, pct float64) {
	ctx = context.WithoutCancel(ctx)
	g.logger.Info().Str("instrument", symbol).Float64("change_pct", pct).Msg("Event triggered")
	g.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error().Interface("panic", r).Str("instrument", symbol).Msg("Event firing panicked")
			}
		}()
		g.fire(ctx, symbol, pct)
	})
}

// fire is best effort: every failure is logged and swallowed.
func (g *Generator) fire(ctx context.Context, symbol string, pct float64) {
	oldPrice, newPrice, err := g.shock.ApplyEventShock(symbol, pct)
	if err != nil {
		g.logger.Error().Err(err).Str("instrument", symbol).Msg("Failed to apply event shock")
		return
	}

	headline, source := g.headline(ctx, symbol, pct)
	logging.LogEvent(g.logger, symbol, pct, oldPrice, newPrice, source)

	now := g.clock.Now()
	active := g.tracker.Active(now, g.cfg.InactivityThreshold)
	if len(active) == 0 {
		g.logger.Info().Str("instrument", symbol).Msg("No active channels left, event not broadcast")
		return
	}

	p := pool.New().WithContext(ctx)
	for _, ch := range active {
		msg := notify.Message{
			Channel:   ch,
			Text:      headline,
			Symbol:    symbol,
			ChangePct: pct,
			OldPrice:  oldPrice,
			NewPrice:  newPrice,
			Timestamp: now,
		}
		p.Go(func(ctx context.Context) error {
			sendCtx, cancel := g.withTimeout(ctx, g.cfg.DeliveryTimeout)
			defer cancel()
			if err := g.out.Send(sendCtx, msg); err != nil {
				g.logger.Warn().Err(err).Str("channel", msg.Channel.String()).Msg("Broadcast failed")
			}
			return nil
		})
	}
	_ = p.Wait()
}

func (g *Generator) headline(ctx context.Context, symbol string, pct float64) (string, string) {
	if g.text != nil {
		genCtx, cancel := g.withTimeout(ctx, g.cfg.GenerationTimeout)
		text, err := g.text.Generate(genCtx, symbol, pct)
		cancel()
		if err == nil {
			return text, "generated"
		}
		err = errors.WithTimeout(err)
		if !errors.Is(err, errors.ErrExternalService) {
			err = errors.NewExternalError("narrative", "generate", err)
		}
		log := logging.WithInstrument(g.logger, symbol)
		log.Warn().Err(err).Msg("Headline generation failed, using template")
	}
	return fallbackHeadline(symbol, pct > 0, g.rng.Intn), "template"
}

func (g *Generator) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
