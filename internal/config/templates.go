package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Coin Exchange Configuration

[market]
# How often prices move, orders are matched and events are rolled
update_interval = "2m"
# Wait after a failed iteration before retrying
error_backoff = "10s"
# Fraction of the initial price added to the dynamic mean every tick
growth_rate = 0.0001
# Strength of the pull back toward the dynamic mean
reversion_strength = 0.1
# Maximum change of volatility per tick
volatility_step = 0.005
# Volatility is clamped to [min_ratio, max_ratio] x base volatility
volatility_min_ratio = 0.5
volatility_max_ratio = 1.5
# Prices never drop below this value
price_floor = 0.01
# Random seed, 0 seeds from the clock
seed = 0

# Instruments. Omit to use the built-in set.
# [[instruments]]
# symbol = "PIG"
# initial_price = 100.0
# base_volatility = 0.03

[trading]
# Cash granted to a user on first interaction
initial_balance = 10000.0
# Fee rates applied to gross trade value
buy_fee = 0.001
sell_fee = 0.02
# Pending limit orders expire after this long
order_ttl = "24h"
# Users allowed to reset the market
admins = []

[events]
enabled = true
# Per-tick chance of a news event once cooldown and activity allow it
probability = 0.15
cooldown = "20m"
# Channels idle longer than this do not receive events
inactivity_threshold = "1h"
# Magnitude range of an event price shock
min_shock = 0.05
max_shock = 0.20
generation_timeout = "30s"
delivery_timeout = "10s"

[broadcast]
# Platform adapter id used to build channel identities
platform_id = ""
kind = "GroupMessage"
# Whitelisted channel ids, either bare ids or full "platform:kind:id"
channels = []
# Optional HTTP endpoint that receives broadcast messages as JSON
webhook_url = ""

[storage]
# SQLite database for price history and state snapshots
# db_path = "~/.config/coin-exchange/market.db"
# Save a state snapshot every N ticks
snapshot_every = 5
# Keep at most N history records per instrument, 0 keeps everything
max_history = 0
timeout = "5s"

[narrative]
# Generate news text with an OpenAI-compatible model
enabled = true
model = "gpt-4o-mini"
base_url = ""

[logging]
level = "info"
console = true
file = true
max_size = 100
max_backups = 7
max_age = 30
`

const credentialsTemplate = `# Coin Exchange Credentials
# Keep this file private (chmod 600)

[openai]
# API key for news text generation. OPENAI_API_KEY overrides this value.
api_key = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return nil
}
