package config

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the full configuration surface. The engine consumes it as
// a validated value; nothing re-reads files at runtime except the
// log-level watcher.
type Config struct {
	App      AppConfig               `toml:"app"`
	Exchange ExchangeConfig          `toml:"exchange"`
	Retry    RetryConfig             `toml:"retry"`
	Poller   PollerConfig            `toml:"poller"`
	TWAP     TWAPConfig              `toml:"twap"`
	Journal  JournalConfig           `toml:"journal"`
	Symbols  map[string]SymbolConfig `toml:"symbols"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type ExchangeConfig struct {
	APIKey         string  `toml:"api_key"`
	APISecret      string  `toml:"api_secret"`
	RESTBaseURL    string  `toml:"rest_base_url"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RateBurst      int     `toml:"rate_burst"`
	RatePerSecond  float64 `toml:"rate_per_second"`
}

func (e ExchangeConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

type RetryConfig struct {
	MaxAttempts        int     `toml:"max_attempts"`
	BaseDelayMS        int     `toml:"base_delay_ms"`
	Multiplier         float64 `toml:"multiplier"`
	MaxDelayMS         int     `toml:"max_delay_ms"`
	CallTimeoutSeconds int     `toml:"call_timeout_seconds"`
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

func (r RetryConfig) CallTimeout() time.Duration {
	return time.Duration(r.CallTimeoutSeconds) * time.Second
}

type PollerConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	Concurrency     int `toml:"concurrency"`
}

func (p PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

type TWAPConfig struct {
	DefaultIntervalSeconds int `toml:"default_interval_seconds"`
}

func (t TWAPConfig) DefaultInterval() time.Duration {
	return time.Duration(t.DefaultIntervalSeconds) * time.Second
}

type JournalConfig struct {
	Path string `toml:"path"`
}

// SymbolConfig carries the per-symbol exchange filters applied before
// submission. Values are decimal strings to avoid float drift.
type SymbolConfig struct {
	LotSize     string `toml:"lot_size"`
	MinQuantity string `toml:"min_quantity"`
}

// LimitsFor resolves the lot size and minimum quantity for a symbol.
// Unknown symbols get zero limits, which disables local filter checks.
func (c *Config) LimitsFor(symbol string) (lot, min decimal.Decimal) {
	if c == nil || len(c.Symbols) == 0 {
		return decimal.Zero, decimal.Zero
	}
	sc, ok := c.Symbols[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return decimal.Zero, decimal.Zero
	}
	if v, err := decimal.NewFromString(strings.TrimSpace(sc.LotSize)); err == nil {
		lot = v
	}
	if v, err := decimal.NewFromString(strings.TrimSpace(sc.MinQuantity)); err == nil {
		min = v
	}
	return lot, min
}
