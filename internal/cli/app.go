package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"coin-exchange/internal/config"
	"coin-exchange/internal/events"
	"coin-exchange/internal/exchange"
	"coin-exchange/internal/narrative"
	"coin-exchange/internal/notify"
	"coin-exchange/internal/resilience"
	"coin-exchange/internal/store"
	"coin-exchange/internal/stream"
	"coin-exchange/pkg/utils"
)

// App holds the application dependencies.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// Engine is a wired exchange with its store and price feed.
type Engine struct {
	Exchange *exchange.Exchange
	Store    store.Store
	Feed     *stream.Hub
	// Breaker guards text generation; nil when generation is disabled.
	Breaker *resilience.CircuitBreaker
	// Durable is false when the database could not be opened and state lives in memory.
	Durable bool
}

// EngineOptions selects the optional parts of an engine.
type EngineOptions struct {
	// Broadcast enables news text generation and delivery.
	Broadcast bool
	// Out receives console news banners when Broadcast is set.
	Out    io.Writer
	Colors bool
}

// openStore opens the SQLite database, retrying briefly, and falls back to
// an in-memory store when it stays unavailable.
func (a *App) openStore(ctx context.Context) (store.Store, bool) {
	path := a.Config.Storage.DBPath
	cfg := utils.DefaultRetryConfig()
	cfg.InitialDelay = 200 * time.Millisecond

	db, err := utils.RetryWithResult(ctx, cfg, func() (*store.SQLiteStore, error) {
		return store.NewSQLiteStore(path)
	})
	if err != nil {
		a.Logger.Warn().Err(err).Str("path", path).Msg("Database unavailable, keeping state in memory")
		return store.NewMemoryStore(), false
	}
	a.Logger.Debug().Str("path", path).Msg("SQLite store initialized")
	return db, true
}

// textGenerator returns the narrative generator and its breaker, or nils
// when disabled or no API key is configured.
func (a *App) textGenerator() (events.TextGenerator, *resilience.CircuitBreaker) {
	cfg := a.Config
	if !cfg.Narrative.Enabled || cfg.Credentials.OpenAI.APIKey == "" {
		a.Logger.Debug().Msg("News text generation disabled, using templates")
		return nil, nil
	}
	llm := narrative.NewOpenAIClient(cfg.Credentials.OpenAI.APIKey, cfg.Narrative.Model, cfg.Narrative.BaseURL)
	breaker := resilience.NewCircuitBreaker("openai", resilience.DefaultCircuitBreakerConfig(), nil)
	a.Logger.Debug().Str("model", cfg.Narrative.Model).Msg("OpenAI client initialized")
	return narrative.NewGenerator(llm, breaker, a.Logger), breaker
}

// broadcaster builds the sinks for news events.
func (a *App) broadcaster(out io.Writer, colors bool) notify.Broadcaster {
	multi := notify.NewMultiBroadcaster(notify.NewLogBroadcaster(a.Logger))
	if out != nil {
		multi.Add(notify.NewConsoleBroadcaster(out, colors))
	}
	if url := a.Config.Broadcast.WebhookURL; url != "" {
		multi.Add(notify.NewWebhookBroadcaster(url, a.Config.Events.DeliveryTimeout))
	}
	return multi
}

// OpenEngine builds an exchange from configuration and restores the last snapshot.
func (a *App) OpenEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	st, durable := a.openStore(ctx)
	feed := stream.NewHub()

	deps := exchange.Deps{
		Store:    st,
		Feed:     feed,
		Channels: a.Config.WhitelistChannels(),
		Logger:   a.Logger,
	}
	var breaker *resilience.CircuitBreaker
	if opts.Broadcast {
		var text events.TextGenerator
		text, breaker = a.textGenerator()
		if text != nil {
			deps.Text = text
		}
		deps.Broadcaster = a.broadcaster(opts.Out, opts.Colors)
	}

	ex := exchange.New(exchange.OptionsFromConfig(a.Config), deps)
	if _, err := ex.LoadSnapshot(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Could not restore snapshot, starting fresh market")
	}

	return &Engine{Exchange: ex, Store: st, Feed: feed, Breaker: breaker, Durable: durable}, nil
}

// Health builds a monitor covering the engine's storage, scheduler, feed
// and text generation.
func (e *Engine) Health() *resilience.HealthMonitor {
	m := resilience.NewHealthMonitor(resilience.DefaultHealthMonitorConfig(), nil)
	m.Register("database", resilience.DatabaseHealthCheck(e.Store.Ping))
	m.Register("storage", resilience.ProbeHealthCheck(func() (resilience.HealthStatus, string) {
		if !e.Durable {
			return resilience.HealthStatusDegraded, "In-memory fallback, state is lost on exit"
		}
		return resilience.HealthStatusHealthy, "SQLite"
	}))
	m.Register("scheduler", resilience.ProbeHealthCheck(func() (resilience.HealthStatus, string) {
		s := e.Exchange.Scheduler()
		msg := fmt.Sprintf("%d updates, %d failed", s.Iterations(), s.Failures())
		if !s.Running() {
			return resilience.HealthStatusDegraded, "Stopped, " + msg
		}
		return resilience.HealthStatusHealthy, "Running, " + msg
	}))
	m.Register("feed", resilience.ProbeHealthCheck(func() (resilience.HealthStatus, string) {
		metrics := e.Feed.Metrics()
		msg := fmt.Sprintf("%d subscribers, %d delivered, %d dropped",
			e.Feed.SubscriberCount(), metrics.Delivered, metrics.Dropped)
		if metrics.Dropped > 0 {
			return resilience.HealthStatusDegraded, msg
		}
		return resilience.HealthStatusHealthy, msg
	}))
	if e.Breaker != nil {
		m.Register("narrative", resilience.BreakerHealthCheck(e.Breaker))
	}
	return m
}

// Close stops the engine, saving state.
func (e *Engine) Close(ctx context.Context) error {
	e.Feed.Stop()
	return e.Exchange.Close(ctx)
}

// Release closes the store without saving, for read-only commands.
func (e *Engine) Release() error {
	e.Feed.Stop()
	return e.Store.Close()
}
