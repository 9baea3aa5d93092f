package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Kalshi.APIKeyID = "key-id"
	cfg.Kalshi.RSAPrivateKeyPath = "/tmp/kalshi.pem"
	return cfg
}

func TestDefaultsValidateWithCredentials(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.LogLevel = "loud"
	cfg.Arbitrage.TakerFee = 1.5
	cfg.Emergency.StopFile = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "taker_fee")
	assert.Contains(t, err.Error(), "stop_file")
	assert.Contains(t, err.Error(), "api_key_id")
}

func TestValidateRejectsEncryptedKeyWithoutPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Kalshi.RSAPrivateKeyPath = ""
	cfg.Kalshi.EncryptedKeyPath = "/tmp/kalshi.pem.enc"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")
}

func TestValidateSentinelMarkets(t *testing.T) {
	cfg := validConfig()
	cfg.Sentinel.Markets = []WatchedMarket{
		{MarketID: "", Venue: "binance", Triggers: []TriggerConfig{{Type: "price_sideways"}}},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market_id")
	assert.Contains(t, err.Error(), "venue")
	assert.Contains(t, err.Error(), "price_sideways")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "sentinel"
log_level = "debug"

[kalshi]
api_key_id = "abc"
rsa_private_key_path = "/keys/kalshi.pem"

[arbitrage]
scan_interval = "45s"
leagues = ["nba", "nfl"]
taker_fee = 0.01

[[sentinel.markets]]
market_id = "MKT-1"
venue = "kalshi"

[[sentinel.markets.triggers]]
type = "price_below"
threshold = 0.30
suggested_side = "BUY"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sentinel", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.Arbitrage.ScanInterval.Duration)
	assert.Equal(t, []string{"nba", "nfl"}, cfg.Arbitrage.Leagues)
	assert.Equal(t, 0.01, cfg.Arbitrage.TakerFee)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
	assert.Equal(t, 5*time.Minute, cfg.Sentinel.Cooldown.Duration)

	require.Len(t, cfg.Sentinel.Markets, 1)
	m := cfg.Sentinel.Markets[0]
	assert.Equal(t, "MKT-1", m.MarketID)
	require.Len(t, m.Triggers, 1)
	assert.Equal(t, "price_below", m.Triggers[0].Type)
	assert.Equal(t, 0.30, m.Triggers[0].Threshold)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "monitor"`), 0o600))

	t.Setenv("MARKETGATE_MODE", "arbitrage")
	t.Setenv("MARKETGATE_KALSHI_API_KEY_ID", "env-key")
	t.Setenv("MARKETGATE_ARBITRAGE_SCAN_INTERVAL", "2m")
	t.Setenv("MARKETGATE_REDIS_ENABLED", "true")
	t.Setenv("MARKETGATE_NOTIFY_EVENTS", "emergency_stop, arb_detected")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "arbitrage", cfg.Mode)
	assert.Equal(t, "env-key", cfg.Kalshi.APIKeyID)
	assert.Equal(t, 2*time.Minute, cfg.Arbitrage.ScanInterval.Duration)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"emergency_stop", "arb_detected"}, cfg.Notify.Events)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Kalshi.APIKeyID = "secret-key"
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Notify.TelegramToken = "tg-token"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Kalshi.APIKeyID)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)

	// Original is untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
