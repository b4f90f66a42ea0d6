// Package config provides configuration management for the coin exchange.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"coin-exchange/internal/errors"
	"coin-exchange/internal/logging"
	"coin-exchange/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Market      MarketConfig        `mapstructure:"market"`
	Instruments []models.Instrument `mapstructure:"instruments"`
	Trading     TradingConfig       `mapstructure:"trading"`
	Events      EventsConfig        `mapstructure:"events"`
	Broadcast   BroadcastConfig     `mapstructure:"broadcast"`
	Storage     StorageConfig       `mapstructure:"storage"`
	Narrative   NarrativeConfig     `mapstructure:"narrative"`
	Logging     logging.LogConfig   `mapstructure:"logging"`
	Credentials Credentials         `mapstructure:"-"` // Loaded separately
}

// MarketConfig holds price simulation parameters.
type MarketConfig struct {
	UpdateInterval     time.Duration `mapstructure:"update_interval"`
	ErrorBackoff       time.Duration `mapstructure:"error_backoff"`
	GrowthRate         float64       `mapstructure:"growth_rate"`        // fraction of initial price added to the mean per tick
	ReversionStrength  float64       `mapstructure:"reversion_strength"` // pull toward the dynamic mean
	VolatilityStep     float64       `mapstructure:"volatility_step"`    // max absolute volatility change per tick
	VolatilityMinRatio float64       `mapstructure:"volatility_min_ratio"`
	VolatilityMaxRatio float64       `mapstructure:"volatility_max_ratio"`
	PriceFloor         float64       `mapstructure:"price_floor"`
	Seed               int64         `mapstructure:"seed"` // 0 = seed from the clock
}

// TradingConfig holds account and order parameters.
type TradingConfig struct {
	InitialBalance float64       `mapstructure:"initial_balance"`
	BuyFee         float64       `mapstructure:"buy_fee"`
	SellFee        float64       `mapstructure:"sell_fee"`
	OrderTTL       time.Duration `mapstructure:"order_ttl"`
	Admins         []string      `mapstructure:"admins"`
}

// EventsConfig holds news event parameters.
type EventsConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Probability         float64       `mapstructure:"probability"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
	MinShock            float64       `mapstructure:"min_shock"`
	MaxShock            float64       `mapstructure:"max_shock"`
	GenerationTimeout   time.Duration `mapstructure:"generation_timeout"`
	DeliveryTimeout     time.Duration `mapstructure:"delivery_timeout"`
}

// BroadcastConfig holds the channel whitelist and delivery target.
type BroadcastConfig struct {
	PlatformID string   `mapstructure:"platform_id"`
	Kind       string   `mapstructure:"kind"`
	Channels   []string `mapstructure:"channels"`
	WebhookURL string   `mapstructure:"webhook_url"`
}

// StorageConfig holds persistence parameters.
type StorageConfig struct {
	DBPath        string        `mapstructure:"db_path"`
	SnapshotEvery int           `mapstructure:"snapshot_every"` // ticks between snapshots
	MaxHistory    int           `mapstructure:"max_history"`    // records kept per instrument, 0 = unbounded
	Timeout       time.Duration `mapstructure:"timeout"`
}

// NarrativeConfig holds text generation parameters.
type NarrativeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// Credentials holds API credentials.
type Credentials struct {
	OpenAI OpenAICredentials `mapstructure:"openai"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultInstruments returns the stock coin set.
func DefaultInstruments() []models.Instrument {
	return []models.Instrument{
		{Symbol: "PIG", InitialPrice: 100.0, BaseVolatility: 0.03},
		{Symbol: "GENSHIN", InitialPrice: 648.0, BaseVolatility: 0.05},
		{Symbol: "DOGE", InitialPrice: 5.0, BaseVolatility: 0.07},
		{Symbol: "SAKIKO", InitialPrice: 2.14, BaseVolatility: 0.10},
		{Symbol: "WUWA", InitialPrice: 648.0, BaseVolatility: 0.05},
		{Symbol: "SHIRUKU", InitialPrice: 10.0, BaseVolatility: 0.02},
		{Symbol: "KIRINO", InitialPrice: 10.0, BaseVolatility: 0.02},
	}
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/coin-exchange"
	}
	return filepath.Join(home, ".config", "coin-exchange")
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("market.update_interval", 2*time.Minute)
	v.SetDefault("market.error_backoff", 10*time.Second)
	v.SetDefault("market.growth_rate", 0.0001)
	v.SetDefault("market.reversion_strength", 0.1)
	v.SetDefault("market.volatility_step", 0.005)
	v.SetDefault("market.volatility_min_ratio", 0.5)
	v.SetDefault("market.volatility_max_ratio", 1.5)
	v.SetDefault("market.price_floor", 0.01)
	v.SetDefault("market.seed", 0)

	v.SetDefault("trading.initial_balance", 10000.0)
	v.SetDefault("trading.buy_fee", 0.001)
	v.SetDefault("trading.sell_fee", 0.02)
	v.SetDefault("trading.order_ttl", 24*time.Hour)
	v.SetDefault("trading.admins", []string{})

	v.SetDefault("events.enabled", true)
	v.SetDefault("events.probability", 0.15)
	v.SetDefault("events.cooldown", 20*time.Minute)
	v.SetDefault("events.inactivity_threshold", time.Hour)
	v.SetDefault("events.min_shock", 0.05)
	v.SetDefault("events.max_shock", 0.20)
	v.SetDefault("events.generation_timeout", 30*time.Second)
	v.SetDefault("events.delivery_timeout", 10*time.Second)

	v.SetDefault("broadcast.platform_id", "")
	v.SetDefault("broadcast.kind", "GroupMessage")
	v.SetDefault("broadcast.channels", []string{})
	v.SetDefault("broadcast.webhook_url", "")

	v.SetDefault("storage.db_path", filepath.Join(configDir, "market.db"))
	v.SetDefault("storage.snapshot_every", 5)
	v.SetDefault("storage.max_history", 0)
	v.SetDefault("storage.timeout", 5*time.Second)

	v.SetDefault("narrative.enabled", true)
	v.SetDefault("narrative.model", "gpt-4o-mini")
	v.SetDefault("narrative.base_url", "")

	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console", logDefaults.Console)
	v.SetDefault("logging.file", logDefaults.File)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "coinx.log"))
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)
}

// Default returns the built-in configuration without touching the filesystem.
func Default() *Config {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		// Defaults are static; a decode failure is a programming error.
		panic(fmt.Sprintf("decoding default config: %v", err))
	}
	cfg.Instruments = DefaultInstruments()
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml is replaced by a commented template and defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, cfg *Config) error {
	v := viper.New()
	setDefaults(v, configDir)
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return err
	}
	if len(cfg.Instruments) == 0 {
		cfg.Instruments = DefaultInstruments()
	}
	for i := range cfg.Instruments {
		cfg.Instruments[i].Symbol = models.NormalizeSymbol(cfg.Instruments[i].Symbol)
	}
	return nil
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("COINX_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("COINX_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Market.Seed = seed
		}
	}
	if v := os.Getenv("COINX_ADMINS"); v != "" {
		cfg.Trading.Admins = strings.Split(v, ",")
	}
}

// Validate validates the configuration. Failures match errors.ErrConfigInvalid.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrConfigInvalid, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Market.UpdateInterval <= 0 {
		return fmt.Errorf("market.update_interval must be positive")
	}
	if c.Market.PriceFloor <= 0 {
		return fmt.Errorf("market.price_floor must be positive")
	}
	if c.Market.VolatilityMinRatio <= 0 || c.Market.VolatilityMaxRatio < c.Market.VolatilityMinRatio {
		return fmt.Errorf("market volatility ratios must satisfy 0 < min <= max")
	}
	if c.Market.ReversionStrength < 0 || c.Market.GrowthRate < 0 {
		return fmt.Errorf("market growth_rate and reversion_strength must be non-negative")
	}

	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instrument symbol must not be empty")
		}
		if seen[inst.Symbol] {
			return fmt.Errorf("duplicate instrument: %s", inst.Symbol)
		}
		seen[inst.Symbol] = true
		if inst.InitialPrice <= 0 {
			return fmt.Errorf("instrument %s: initial_price must be positive", inst.Symbol)
		}
		if inst.BaseVolatility <= 0 || inst.BaseVolatility >= 1 {
			return fmt.Errorf("instrument %s: base_volatility must be in (0, 1)", inst.Symbol)
		}
	}

	if c.Trading.InitialBalance < 0 {
		return fmt.Errorf("trading.initial_balance must be non-negative")
	}
	if c.Trading.BuyFee < 0 || c.Trading.BuyFee >= 1 || c.Trading.SellFee < 0 || c.Trading.SellFee >= 1 {
		return fmt.Errorf("trading fees must be in [0, 1)")
	}
	if c.Trading.OrderTTL <= 0 {
		return fmt.Errorf("trading.order_ttl must be positive")
	}

	if c.Events.Probability < 0 || c.Events.Probability > 1 {
		return fmt.Errorf("events.probability must be between 0 and 1")
	}
	if c.Events.MinShock < 0 || c.Events.MaxShock < c.Events.MinShock || c.Events.MaxShock >= 1 {
		return fmt.Errorf("events shock range must satisfy 0 <= min <= max < 1")
	}

	for _, ch := range c.Broadcast.Channels {
		if strings.TrimSpace(ch) == "" {
			return fmt.Errorf("broadcast.channels must not contain empty entries")
		}
	}

	if c.Storage.SnapshotEvery < 0 || c.Storage.MaxHistory < 0 {
		return fmt.Errorf("storage.snapshot_every and storage.max_history must be non-negative")
	}

	return nil
}

// WhitelistChannels expands the configured channel ids into full channel identities.
// Entries that already carry a platform:kind: prefix are used verbatim.
func (c *Config) WhitelistChannels() []models.Channel {
	channels := make([]models.Channel, 0, len(c.Broadcast.Channels))
	for _, id := range c.Broadcast.Channels {
		if ch, err := models.ParseChannel(id); err == nil {
			channels = append(channels, ch)
			continue
		}
		if c.Broadcast.PlatformID == "" {
			continue
		}
		channels = append(channels, models.Channel{
			Platform: c.Broadcast.PlatformID,
			Kind:     c.Broadcast.Kind,
			ID:       id,
		})
	}
	return channels
}

// IsAdmin reports whether user may run privileged commands.
func (c *Config) IsAdmin(user string) bool {
	for _, admin := range c.Trading.Admins {
		if admin == user {
			return true
		}
	}
	return false
}
