package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Retry.validate(); err != nil {
		return err
	}
	if err := c.Poller.validate(); err != nil {
		return err
	}
	return validateSymbols(c.Symbols)
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if strings.TrimSpace(e.APIKey) == "" {
		return fmt.Errorf("exchange.api_key is required")
	}
	if strings.TrimSpace(e.APISecret) == "" {
		return fmt.Errorf("exchange.api_secret is required")
	}
	if e.RatePerSecond <= 0 {
		return fmt.Errorf("exchange.rate_per_second must be > 0")
	}
	return nil
}

func (r *RetryConfig) validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	return nil
}

func (p *PollerConfig) validate() error {
	if p.IntervalSeconds < 1 {
		return fmt.Errorf("poller.interval_seconds must be >= 1")
	}
	if p.Concurrency < 1 {
		return fmt.Errorf("poller.concurrency must be >= 1")
	}
	return nil
}

func validateSymbols(symbols map[string]SymbolConfig) error {
	for sym, sc := range symbols {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("symbols contains an empty symbol key")
		}
		for name, raw := range map[string]string{"lot_size": sc.LotSize, "min_quantity": sc.MinQuantity} {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("symbols.%s.%s is not a decimal: %q", sym, name, raw)
			}
			if v.IsNegative() {
				return fmt.Errorf("symbols.%s.%s must be >= 0", sym, name)
			}
		}
	}
	return nil
}
