package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETGATE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETGATE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Kalshi ──
	setStr(&cfg.Kalshi.APIKeyID, "MARKETGATE_KALSHI_API_KEY_ID")
	setStr(&cfg.Kalshi.RSAPrivateKeyPath, "MARKETGATE_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.EncryptedKeyPath, "MARKETGATE_KALSHI_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Kalshi.KeyPassword, "MARKETGATE_KALSHI_KEY_PASSWORD")
	setStr(&cfg.Kalshi.BaseURL, "MARKETGATE_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.WSURL, "MARKETGATE_KALSHI_WS_URL")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "MARKETGATE_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "MARKETGATE_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WSHost, "MARKETGATE_POLYMARKET_WS_HOST")
	setInt64(&cfg.Polymarket.ChainID, "MARKETGATE_POLYMARKET_CHAIN_ID")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "MARKETGATE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "MARKETGATE_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "MARKETGATE_WALLET_KEY_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "MARKETGATE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MARKETGATE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MARKETGATE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARKETGATE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARKETGATE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARKETGATE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARKETGATE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARKETGATE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MARKETGATE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARKETGATE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARKETGATE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MARKETGATE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARKETGATE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETGATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETGATE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETGATE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETGATE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETGATE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MARKETGATE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MARKETGATE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETGATE_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETGATE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETGATE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETGATE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETGATE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETGATE_S3_FORCE_PATH_STYLE")

	// ── Arbitrage ──
	setBool(&cfg.Arbitrage.Enabled, "MARKETGATE_ARBITRAGE_ENABLED")
	setDuration(&cfg.Arbitrage.ScanInterval, "MARKETGATE_ARBITRAGE_SCAN_INTERVAL")
	setStringSlice(&cfg.Arbitrage.Leagues, "MARKETGATE_ARBITRAGE_LEAGUES")
	setFloat64(&cfg.Arbitrage.TakerFee, "MARKETGATE_ARBITRAGE_TAKER_FEE")
	setInt(&cfg.Arbitrage.EventLimit, "MARKETGATE_ARBITRAGE_EVENT_LIMIT")

	// ── Sentinel ──
	setBool(&cfg.Sentinel.Enabled, "MARKETGATE_SENTINEL_ENABLED")
	setDuration(&cfg.Sentinel.Debounce, "MARKETGATE_SENTINEL_DEBOUNCE")
	setDuration(&cfg.Sentinel.Cooldown, "MARKETGATE_SENTINEL_COOLDOWN")

	// ── Emergency ──
	setStr(&cfg.Emergency.StopFile, "MARKETGATE_EMERGENCY_STOP_FILE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKETGATE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETGATE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETGATE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETGATE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETGATE_MODE")
	setStr(&cfg.LogLevel, "MARKETGATE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
