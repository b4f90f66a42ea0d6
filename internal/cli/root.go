// Package cli provides the command-line interface for the coin exchange.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"coin-exchange/internal/config"
	"coin-exchange/internal/exchange"
	"coin-exchange/internal/logging"
	"coin-exchange/internal/models"
	"coin-exchange/internal/resilience"
	"coin-exchange/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-04-01"
)

// shutdownTimeout bounds the final snapshot on exit.
const shutdownTimeout = 10 * time.Second

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "coinx",
		Short: "Coin Exchange - a simulated virtual coin market",
		Long: `Coin Exchange runs a continuously moving market of virtual coins.

Prices follow a mean-reverting random walk with drifting volatility, users trade
at market or with limit orders, and random news events shake prices and are
broadcast to active chat channels.

Use 'coinx serve' to run the market with an interactive console.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/coin-exchange)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides storage.db_path)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newServeCmd(app),
		newWatchCmd(app),
		newPriceCmd(app),
		newKlineCmd(app),
		newHistoryCmd(app),
		newStatusCmd(app),
		newConfigCmd(app),
		newVersionCmd(),
	)

	return rootCmd
}

// load reads configuration and sets up logging before any command runs.
func (a *App) load(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Storage.DBPath = db
	}

	debug, _ := cmd.Flags().GetBool("debug")
	if debug {
		cfg.Logging.Level = "debug"
	}

	a.ConfigDir = dir
	a.Config = cfg
	a.Logger = logging.NewLoggerWithConfig(cfg.Logging)
	if debug {
		logging.SetDebugLevel()
	}
	a.Logger.Debug().Str("config_dir", dir).Msg("Configuration loaded")
	return nil
}

// signalContext is cancelled on interrupt or termination.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// shutdown saves state and closes the engine after ctx is done.
func (a *App) shutdown(ctx context.Context, engine *Engine) error {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := engine.Close(closeCtx); err != nil {
		a.Logger.Error().Err(err).Msg("Shutdown incomplete")
		return err
	}
	a.Logger.Info().Msg("Market state saved")
	return nil
}

func newServeCmd(app *App) *cobra.Command {
	var (
		user     string
		channel  string
		headless bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the market with an interactive console",
		Long: `Run the market scheduler, news events and broadcasts.

Unless --headless is given, an interactive console reads commands from stdin
and acts as --user. Every console line counts as activity on --channel, which
defaults to the first whitelisted broadcast channel.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			output := NewOutput(cmd)
			engine, err := app.OpenEngine(ctx, EngineOptions{
				Broadcast: true,
				Out:       cmd.OutOrStdout(),
				Colors:    output.ColorEnabled(),
			})
			if err != nil {
				return err
			}
			if !engine.Durable {
				output.Warning("⚠️ Database unavailable, state will not survive a restart")
			}

			engine.Feed.Start(ctx)
			engine.Exchange.Start(ctx)

			if channel == "" {
				if chans := engine.Exchange.BroadcastChannels(); len(chans) > 0 {
					channel = chans[0].String()
				}
			}

			if headless {
				output.Info("Market running, press Ctrl+C to stop")
				<-ctx.Done()
			} else {
				output.Bold("📈 Coin Exchange v%s", Version)
				output.Dim("Type help for commands, quit to leave")
				// The console renders tables even under --json.
				term := NewWriterOutput(cmd.OutOrStdout(), output.ColorEnabled())
				console := NewConsole(engine.Exchange, term, user, channel)
				console.SetHealth(engine.Health())
				if err := console.Run(logging.WithLogger(ctx, app.Logger), cmd.InOrStdin()); err != nil {
					app.Logger.Error().Err(err).Msg("Console input failed")
				}
			}

			return app.shutdown(ctx, engine)
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", defaultUser(), "acting user for console commands")
	cmd.Flags().StringVar(&channel, "channel", "", "channel (platform:kind:id) the console speaks in")
	cmd.Flags().BoolVar(&headless, "headless", false, "run without the interactive console")

	return cmd
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "player"
}

func newWatchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [coin]",
		Short: "Run the market and stream price updates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			output := NewOutput(cmd)
			engine, err := app.OpenEngine(ctx, EngineOptions{
				Broadcast: true,
				Out:       cmd.OutOrStdout(),
				Colors:    output.ColorEnabled(),
			})
			if err != nil {
				return err
			}

			symbol := ""
			if len(args) > 0 {
				symbol = models.NormalizeSymbol(args[0])
				if _, err := engine.Exchange.Price(symbol); err != nil {
					engine.Release()
					return err
				}
			}

			engine.Feed.Start(ctx)
			updates := engine.Feed.Subscribe(symbol)
			engine.Exchange.Start(ctx)
			output.Info("Watching %s, updates every %s", watchTarget(symbol), app.Config.Market.UpdateInterval)

		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case rec, ok := <-updates:
					if !ok {
						break loop
					}
					if output.IsJSON() {
						output.JSON(rec)
						continue
					}
					renderRecord(output, rec)
				}
			}
			engine.Feed.Unsubscribe(updates)

			return app.shutdown(ctx, engine)
		},
	}
}

func watchTarget(symbol string) string {
	if symbol == "" {
		return "all coins"
	}
	return symbol
}

func renderRecord(out *Output, rec models.PriceRecord) {
	mark := ""
	if rec.Event {
		mark = " 📰"
	}
	out.Printf("%s  %-8s %10s  vol %.2f%%%s\n", out.DimText(rec.Timestamp.Format("15:04:05")),
		rec.Instrument, utils.FormatPrice(rec.Price), rec.Volatility*100, mark)
}

// withEngine opens the engine for a read-only command.
func (a *App) withEngine(cmd *cobra.Command, fn func(ctx context.Context, ex *exchange.Exchange) error) error {
	ctx := cmd.Context()
	engine, err := a.OpenEngine(ctx, EngineOptions{})
	if err != nil {
		return err
	}
	defer engine.Release()
	return fn(ctx, engine.Exchange)
}

func newPriceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "price [coin]",
		Short: "Show current prices",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withEngine(cmd, func(_ context.Context, ex *exchange.Exchange) error {
				if len(args) == 0 {
					quotes := ex.Quotes()
					if output.IsJSON() {
						return output.JSON(quotes)
					}
					renderQuotes(output, quotes)
					return nil
				}

				symbol := models.NormalizeSymbol(args[0])
				price, err := ex.Price(symbol)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"symbol": symbol, "price": price})
				}
				renderQuote(output, symbol, price)
				return nil
			})
		},
	}
}

func newKlineCmd(app *App) *cobra.Command {
	var barMinutes, bars int

	cmd := &cobra.Command{
		Use:   "kline <coin>",
		Short: "Show a candlestick chart from price history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := models.NormalizeSymbol(args[0])
			return app.withEngine(cmd, func(ctx context.Context, ex *exchange.Exchange) error {
				candles, err := ex.Candlestick(ctx, symbol, barMinutes, bars)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(candles)
				}
				renderChart(output, symbol, barMinutes, candles)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&barMinutes, "bar-minutes", "m", 5, "minutes per bar")
	cmd.Flags().IntVarP(&bars, "bars", "n", 30, "number of bars (1-100)")
	return cmd
}

func newHistoryCmd(app *App) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "history <coin>",
		Short: "Show recent price records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := models.NormalizeSymbol(args[0])
			return app.withEngine(cmd, func(ctx context.Context, ex *exchange.Exchange) error {
				records, err := ex.History(ctx, symbol, count)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(records)
				}
				renderHistory(output, symbol, records)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", exchange.DefaultHistoryLimit, "number of records (max 100)")
	return cmd
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check storage and runtime health",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := app.OpenEngine(cmd.Context(), EngineOptions{})
			if err != nil {
				return err
			}
			defer engine.Release()

			health := engine.Health()
			health.Register("scheduler", resilience.ProbeHealthCheck(func() (resilience.HealthStatus, string) {
				return resilience.HealthStatusHealthy, fmt.Sprintf("Not running in this process (interval %s)", app.Config.Market.UpdateInterval)
			}))
			report := health.Check(cmd.Context())
			if output.IsJSON() {
				return output.JSON(report)
			}
			renderHealth(output, report)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
				return
			}
			output.Printf("Coin Exchange v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.ConfigDir})
				return
			}
			output.Println(app.ConfigDir)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			// Load already validated; reaching here means the files are valid.
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid: %s", filepath.Join(app.ConfigDir, "config.toml"))
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Market")
	output.Printf("  Update interval:  %s\n", cfg.Market.UpdateInterval)
	output.Printf("  Growth rate:      %g\n", cfg.Market.GrowthRate)
	output.Printf("  Reversion:        %g\n", cfg.Market.ReversionStrength)
	output.Printf("  Volatility band:  %.1fx - %.1fx base\n", cfg.Market.VolatilityMinRatio, cfg.Market.VolatilityMaxRatio)
	output.Println()

	output.Bold("Instruments")
	for _, inst := range cfg.Instruments {
		output.Printf("  %-8s start %-8s volatility %.1f%%\n", inst.Symbol, utils.FormatPrice(inst.InitialPrice), inst.BaseVolatility*100)
	}
	output.Println()

	output.Bold("Trading")
	output.Printf("  Initial balance:  %s\n", utils.FormatCoins(cfg.Trading.InitialBalance))
	output.Printf("  Fees:             buy %.1f%%, sell %.1f%%\n", cfg.Trading.BuyFee*100, cfg.Trading.SellFee*100)
	output.Printf("  Order lifetime:   %s\n", cfg.Trading.OrderTTL)
	output.Printf("  Admins:           %v\n", cfg.Trading.Admins)
	output.Println()

	output.Bold("Events")
	output.Printf("  Enabled:          %v\n", cfg.Events.Enabled)
	output.Printf("  Probability:      %.0f%% per update\n", cfg.Events.Probability*100)
	output.Printf("  Cooldown:         %s\n", cfg.Events.Cooldown)
	output.Printf("  Shock:            %.0f%% - %.0f%%\n", cfg.Events.MinShock*100, cfg.Events.MaxShock*100)
	output.Println()

	output.Bold("Broadcast")
	for _, ch := range cfg.WhitelistChannels() {
		output.Printf("  %s\n", ch)
	}
	if cfg.Broadcast.WebhookURL != "" {
		output.Printf("  Webhook:          %s\n", cfg.Broadcast.WebhookURL)
	}
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:         %s\n", cfg.Storage.DBPath)
	output.Printf("  Snapshot every:   %d updates\n", cfg.Storage.SnapshotEvery)
	output.Println()

	output.Bold("Narrative")
	output.Printf("  Enabled:          %v\n", cfg.Narrative.Enabled)
	output.Printf("  Model:            %s\n", cfg.Narrative.Model)
	output.Printf("  API key:          %s\n", maskKey(cfg.Credentials.OpenAI.APIKey))
}

func maskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "…" + key[len(key)-4:]
}
