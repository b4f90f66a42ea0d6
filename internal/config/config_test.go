package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin-exchange/internal/errors"
)

func TestLoadCreatesTemplatesAndUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("COINX_DB_PATH", "")
	t.Setenv("COINX_SEED", "")
	t.Setenv("COINX_ADMINS", "")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.FileExists(t, filepath.Join(dir, "credentials.toml"))

	assert.Equal(t, 2*time.Minute, cfg.Market.UpdateInterval)
	assert.Equal(t, 0.15, cfg.Events.Probability)
	assert.Equal(t, 24*time.Hour, cfg.Trading.OrderTTL)
	assert.Equal(t, 0.001, cfg.Trading.BuyFee)
	assert.Equal(t, 0.02, cfg.Trading.SellFee)
	assert.Len(t, cfg.Instruments, 7)
	assert.Equal(t, filepath.Join(dir, "market.db"), cfg.Storage.DBPath)

	// Second load reads the generated template.
	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Market, again.Market)
}

func TestLoadReadsFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
[market]
update_interval = "30s"
seed = 7

[[instruments]]
symbol = "abc"
initial_price = 3.5
base_volatility = 0.04

[trading]
admins = ["root"]

[broadcast]
platform_id = "qq"
channels = ["123", "tg:PrivateMessage:9"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("COINX_DB_PATH", "/tmp/x.db")
	t.Setenv("COINX_SEED", "")
	t.Setenv("COINX_ADMINS", "")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Market.UpdateInterval)
	assert.Equal(t, int64(7), cfg.Market.Seed)
	require.Len(t, cfg.Instruments, 1)
	assert.Equal(t, "ABC", cfg.Instruments[0].Symbol)
	assert.Equal(t, "sk-test", cfg.Credentials.OpenAI.APIKey)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.DBPath)
	assert.True(t, cfg.IsAdmin("root"))
	assert.False(t, cfg.IsAdmin("guest"))

	channels := cfg.WhitelistChannels()
	require.Len(t, channels, 2)
	assert.Equal(t, "qq:GroupMessage:123", channels[0].String())
	assert.Equal(t, "tg:PrivateMessage:9", channels[1].String())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(c *Config){
		"probability":    func(c *Config) { c.Events.Probability = 1.5 },
		"fee":            func(c *Config) { c.Trading.SellFee = 1 },
		"no instruments": func(c *Config) { c.Instruments = nil },
		"duplicate":      func(c *Config) { c.Instruments = append(c.Instruments, c.Instruments[0]) },
		"price":          func(c *Config) { c.Instruments[0].InitialPrice = 0 },
		"shock range":    func(c *Config) { c.Events.MinShock = 0.3; c.Events.MaxShock = 0.1 },
		"interval":       func(c *Config) { c.Market.UpdateInterval = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, errors.ErrConfigInvalid)
		})
	}

	assert.NoError(t, Default().Validate())
}
