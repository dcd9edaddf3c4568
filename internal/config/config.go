// Package config defines all configuration for the feed multiplexer.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// APIConfig holds Polymarket endpoints and optional L2 credentials.
// Credentials are required only when the user channel is used; they are
// passed through opaquely in the subscribe payload.
type APIConfig struct {
	CLOBBaseURL string `mapstructure:"clob_base_url"`
	WSMarketURL string `mapstructure:"ws_market_url"`
	WSUserURL   string `mapstructure:"ws_user_url"`
	ApiKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
	Passphrase  string `mapstructure:"passphrase"`
}

// FeedConfig tunes the multiplexer.
//
//   - AssetIDs / Markets: initial subscriptions for each channel.
//   - SubscribeToAll: pin one user group streaming all account activity.
//   - MaxAssetsPerWS / MaxMarketsPerWS: group capacity per channel
//     (0 = channel default: unbounded for market, 100 for user).
//   - ReconnectAndCleanupInterval: reaper cadence (default 10s).
//   - SeedBooks: fetch missing books over REST when a group (re)connects.
type FeedConfig struct {
	AssetIDs                    []string      `mapstructure:"asset_ids"`
	Markets                     []string      `mapstructure:"markets"`
	SubscribeToAll              bool          `mapstructure:"subscribe_to_all"`
	MaxAssetsPerWS              int           `mapstructure:"max_assets_per_ws"`
	MaxMarketsPerWS             int           `mapstructure:"max_markets_per_ws"`
	ReconnectAndCleanupInterval time.Duration `mapstructure:"reconnect_and_cleanup_interval"`
	SeedBooks                   bool          `mapstructure:"seed_books"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.API.WSMarketURL == "" {
		return fmt.Errorf("api.ws_market_url is required")
	}
	if len(c.Feed.Markets) > 0 || c.Feed.SubscribeToAll {
		if c.API.WSUserURL == "" {
			return fmt.Errorf("api.ws_user_url is required when user markets are configured")
		}
		if c.API.ApiKey == "" || c.API.Secret == "" || c.API.Passphrase == "" {
			return fmt.Errorf("api credentials are required for the user channel (set POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE)")
		}
	}
	if c.Feed.SeedBooks && c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required when feed.seed_books is enabled")
	}
	if c.Feed.MaxAssetsPerWS < 0 {
		return fmt.Errorf("feed.max_assets_per_ws must be >= 0")
	}
	if c.Feed.MaxMarketsPerWS < 0 {
		return fmt.Errorf("feed.max_markets_per_ws must be >= 0")
	}
	if c.Feed.ReconnectAndCleanupInterval < 0 {
		return fmt.Errorf("feed.reconnect_and_cleanup_interval must be >= 0")
	}
	return nil
}
