// Package config loads runtime settings from the environment, reading a .env
// file first when one exists.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// History sources.
const (
	SourcePostgres = "postgres"
	SourceBitcoin  = "bitcoin"
)

// Config holds every setting read at startup.
type Config struct {
	Port     string
	LogLevel string
	LogJSON  bool

	DatabaseURL string

	BTCHost    string
	BTCUser    string
	BTCPass    string
	BTCNetwork string

	HistorySource string

	CacheTTL        time.Duration
	MaxConcurrent   int
	FetchTimeout    time.Duration
	FetchMaxRetries int

	KafkaBrokers []string
	KafkaTopic   string
	AlertMinRisk float64

	RateLimitPerMin int
	RateLimitBurst  int
	AllowedOrigins  []string

	WatchInterval  time.Duration
	WatchAddresses []string
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}
	cfg := Config{
		Port:     p.str("PORT", "5339"),
		LogLevel: p.str("LOG_LEVEL", "info"),
		LogJSON:  p.boolean("LOG_JSON", false),

		DatabaseURL: p.str("DATABASE_URL", ""),

		BTCHost:    p.str("BTC_RPC_HOST", "localhost:8332"),
		BTCUser:    p.str("BTC_RPC_USER", ""),
		BTCPass:    p.str("BTC_RPC_PASS", ""),
		BTCNetwork: p.str("BTC_NETWORK", "mainnet"),

		HistorySource: strings.ToLower(p.str("HISTORY_SOURCE", SourcePostgres)),

		CacheTTL:        p.duration("CACHE_TTL", 30*time.Minute),
		MaxConcurrent:   p.integer("MAX_CONCURRENT", 10),
		FetchTimeout:    p.duration("FETCH_TIMEOUT", 30*time.Second),
		FetchMaxRetries: p.integer("FETCH_MAX_RETRIES", 3),

		KafkaBrokers: p.list("KAFKA_BROKERS"),
		KafkaTopic:   p.str("KAFKA_TOPIC", "pattern.alerts"),
		AlertMinRisk: p.float("ALERT_MIN_RISK", 0.5),

		RateLimitPerMin: p.integer("RATE_LIMIT_PER_MIN", 30),
		RateLimitBurst:  p.integer("RATE_LIMIT_BURST", 10),
		AllowedOrigins:  p.list("ALLOWED_ORIGINS"),

		WatchInterval:  p.duration("WATCH_INTERVAL", 30*time.Minute),
		WatchAddresses: p.list("WATCH_ADDRESSES"),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.HistorySource {
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when HISTORY_SOURCE=postgres")
		}
	case SourceBitcoin:
		if c.BTCUser == "" || c.BTCPass == "" {
			return errors.New("BTC_RPC_USER and BTC_RPC_PASS are required when HISTORY_SOURCE=bitcoin")
		}
	default:
		return fmt.Errorf("HISTORY_SOURCE must be %q or %q, got %q", SourcePostgres, SourceBitcoin, c.HistorySource)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT must be positive, got %d", c.MaxConcurrent)
	}
	if c.AlertMinRisk < 0 || c.AlertMinRisk > 1 {
		return fmt.Errorf("ALERT_MIN_RISK must be within [0,1], got %v", c.AlertMinRisk)
	}
	return nil
}

// parser keeps the first conversion error.
type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) str(key, fallback string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (p *parser) list(key string) []string {
	var out []string
	for _, part := range strings.Split(p.getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p *parser) fail(key, v string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
}

func (p *parser) integer(key string, fallback int) int {
	v := p.str(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := p.str(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return f
}

func (p *parser) boolean(key string, fallback bool) bool {
	v := p.str(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return d
}
