package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{"DATABASE_URL": "postgres://localhost/patterns"}))
	require.NoError(t, err)

	assert.Equal(t, "5339", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogJSON)
	assert.Equal(t, SourcePostgres, cfg.HistorySource)
	assert.Equal(t, "mainnet", cfg.BTCNetwork)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 10, cfg.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 3, cfg.FetchMaxRetries)
	assert.Equal(t, "pattern.alerts", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.InDelta(t, 0.5, cfg.AlertMinRisk, 1e-9)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, 10, cfg.RateLimitBurst)
	assert.Equal(t, 30*time.Minute, cfg.WatchInterval)
	assert.Empty(t, cfg.WatchAddresses)
}

func TestOverrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"HISTORY_SOURCE":  "Bitcoin",
		"BTC_RPC_USER":    "rpc",
		"BTC_RPC_PASS":    "secret",
		"BTC_NETWORK":     "testnet3",
		"CACHE_TTL":       "5m",
		"LOG_JSON":        "true",
		"KAFKA_BROKERS":   "k1:9092, k2:9092,",
		"ALLOWED_ORIGINS": "https://soc.example",
		"ALERT_MIN_RISK":  "0.8",
		"WATCH_INTERVAL":  "0s",
		"WATCH_ADDRESSES": "bc1qa,bc1qb",
	}))
	require.NoError(t, err)

	assert.Equal(t, SourceBitcoin, cfg.HistorySource)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"https://soc.example"}, cfg.AllowedOrigins)
	assert.InDelta(t, 0.8, cfg.AlertMinRisk, 1e-9)
	assert.Zero(t, cfg.WatchInterval)
	assert.Equal(t, []string{"bc1qa", "bc1qb"}, cfg.WatchAddresses)
}

func TestInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad duration":      {"DATABASE_URL": "x", "CACHE_TTL": "soon"},
		"bad int":           {"DATABASE_URL": "x", "MAX_CONCURRENT": "many"},
		"zero concurrency":  {"DATABASE_URL": "x", "MAX_CONCURRENT": "0"},
		"risk out of range": {"DATABASE_URL": "x", "ALERT_MIN_RISK": "1.5"},
		"missing db":        {},
		"missing rpc creds": {"HISTORY_SOURCE": "bitcoin"},
		"unknown source":    {"HISTORY_SOURCE": "electrum"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(envMap(env))
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("DATABASE_URL=postgres://dotenv/patterns\nPORT=8080\n"), 0o600))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://dotenv/patterns", cfg.DatabaseURL)
	assert.Equal(t, "9090", cfg.Port, "process environment wins over .env")
}
