// Package config defines the top-level configuration for the marketgate
// gateway and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MARKETGATE_* environment
// variables.
type Config struct {
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Wallet     WalletConfig     `toml:"wallet"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Sentinel   SentinelConfig   `toml:"sentinel"`
	Emergency  EmergencyConfig  `toml:"emergency"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// KalshiConfig holds Kalshi exchange API endpoints and credentials.
type KalshiConfig struct {
	APIKeyID          string `toml:"api_key_id"`
	RSAPrivateKeyPath string `toml:"rsa_private_key_path"`
	EncryptedKeyPath  string `toml:"encrypted_key_path"`
	KeyPassword       string `toml:"key_password"`
	BaseURL           string `toml:"base_url"`
	WSURL             string `toml:"ws_url"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost  string `toml:"clob_host"`
	GammaHost string `toml:"gamma_host"`
	WSHost    string `toml:"ws_host"`
	ChainID   int64  `toml:"chain_id"`
}

// WalletConfig holds the Ethereum wallet key used for Polymarket CLOB auth.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	Enabled       bool   `toml:"enabled"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Enabled    bool   `toml:"enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Enabled        bool   `toml:"enabled"`
}

// ArbitrageConfig holds the scan loop parameters.
type ArbitrageConfig struct {
	Enabled      bool     `toml:"enabled"`
	ScanInterval duration `toml:"scan_interval"`
	Leagues      []string `toml:"leagues"`
	TakerFee     float64  `toml:"taker_fee"`
	EventLimit   int      `toml:"event_limit"`
}

// SentinelConfig holds trigger engine defaults and the watch list.
type SentinelConfig struct {
	Enabled  bool            `toml:"enabled"`
	Debounce duration        `toml:"debounce"`
	Cooldown duration        `toml:"cooldown"`
	Markets  []WatchedMarket `toml:"markets"`
}

// WatchedMarket is one configured watch entry.
type WatchedMarket struct {
	MarketID string          `toml:"market_id"`
	Venue    string          `toml:"venue"` // "kalshi" or "polymarket"
	Triggers []TriggerConfig `toml:"triggers"`
}

// TriggerConfig is one configured trigger condition.
type TriggerConfig struct {
	Type          string  `toml:"type"`
	Threshold     float64 `toml:"threshold"`
	SuggestedSide string  `toml:"suggested_side"`
}

// EmergencyConfig holds kill-switch parameters.
type EmergencyConfig struct {
	StopFile string `toml:"stop_file"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
			WSURL:   "wss://api.elections.kalshi.com/trade-api/ws/v2",
		},
		Polymarket: PolymarketConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			WSHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:   137,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketgate",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			Enabled:       false,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Enabled:    false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketgate-data",
			ForcePathStyle: true,
			Enabled:        false,
		},
		Arbitrage: ArbitrageConfig{
			Enabled:      true,
			ScanInterval: duration{30 * time.Second},
			Leagues:      nil, // all configured leagues
			TakerFee:     0.02,
			EventLimit:   50,
		},
		Sentinel: SentinelConfig{
			Enabled:  true,
			Debounce: duration{60 * time.Second},
			Cooldown: duration{5 * time.Minute},
		},
		Emergency: EmergencyConfig{
			StopFile: ".marketgate/.emergency_stop",
		},
		Notify: NotifyConfig{
			Events: []string{"emergency_stop", "trigger_fired", "arb_detected"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor":   true,
	"arbitrage": true,
	"sentinel":  true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validTriggerTypes enumerates the accepted sentinel trigger types.
var validTriggerTypes = map[string]bool{
	"price_below":      true,
	"price_above":      true,
	"spread_above":     true,
	"spread_below":     true,
	"volume_spike":     true,
	"imbalance_buy":    true,
	"imbalance_sell":   true,
	"market_reopen":    true,
	"news_correlation": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, arbitrage, sentinel, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Kalshi credentials are required whenever Kalshi data is consumed,
	// which is every mode.
	if c.Kalshi.APIKeyID == "" {
		errs = append(errs, "kalshi: api_key_id must not be empty")
	}
	if c.Kalshi.RSAPrivateKeyPath == "" && c.Kalshi.EncryptedKeyPath == "" {
		errs = append(errs, "kalshi: either rsa_private_key_path or encrypted_key_path must be set")
	}
	if c.Kalshi.EncryptedKeyPath != "" && c.Kalshi.KeyPassword == "" {
		errs = append(errs, "kalshi: key_password is required when encrypted_key_path is set")
	}
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}
	if c.Kalshi.WSURL == "" {
		errs = append(errs, "kalshi: ws_url must not be empty")
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}

	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Arbitrage.Enabled {
		if c.Arbitrage.ScanInterval.Duration < time.Second {
			errs = append(errs, "arbitrage: scan_interval must be >= 1s")
		}
		if c.Arbitrage.TakerFee < 0 || c.Arbitrage.TakerFee >= 1 {
			errs = append(errs, fmt.Sprintf("arbitrage: taker_fee must be in [0, 1), got %g", c.Arbitrage.TakerFee))
		}
	}

	for i, m := range c.Sentinel.Markets {
		if m.MarketID == "" {
			errs = append(errs, fmt.Sprintf("sentinel: markets[%d]: market_id must not be empty", i))
		}
		if m.Venue != "kalshi" && m.Venue != "polymarket" {
			errs = append(errs, fmt.Sprintf("sentinel: markets[%d]: venue must be kalshi or polymarket, got %q", i, m.Venue))
		}
		for j, tr := range m.Triggers {
			if !validTriggerTypes[tr.Type] {
				errs = append(errs, fmt.Sprintf("sentinel: markets[%d].triggers[%d]: unknown type %q", i, j, tr.Type))
			}
		}
	}

	if c.Emergency.StopFile == "" {
		errs = append(errs, "emergency: stop_file must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
