package config

import "strings"

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9881"
	defaultAppLogPath  = "/data/logs/tranche.log"

	defaultExchangeREST    = "https://fapi.binance.com"
	defaultExchangeTimeout = 10
	defaultRateBurst       = 10
	defaultRatePerSecond   = 5.0

	defaultRetryMaxAttempts = 3
	defaultRetryBaseDelayMS = 500
	defaultRetryMultiplier  = 2.0
	defaultRetryMaxDelayMS  = 30000
	defaultRetryCallTimeout = 10

	defaultPollerInterval    = 3
	defaultPollerConcurrency = 4

	defaultTWAPInterval = 30

	defaultJournalPath = "/data/db/tranche.db"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Retry.applyDefaults(keys)
	c.Poller.applyDefaults(keys)
	c.TWAP.applyDefaults(keys)
	c.Journal.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.rest_base_url", &e.RESTBaseURL, defaultExchangeREST),
		intFieldDefault("exchange.timeout_seconds", &e.TimeoutSeconds, defaultExchangeTimeout),
		intFieldDefault("exchange.rate_burst", &e.RateBurst, defaultRateBurst),
		floatFieldDefault("exchange.rate_per_second", &e.RatePerSecond, defaultRatePerSecond),
	)
}

func (r *RetryConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("retry.max_attempts", &r.MaxAttempts, defaultRetryMaxAttempts),
		intFieldDefault("retry.base_delay_ms", &r.BaseDelayMS, defaultRetryBaseDelayMS),
		floatFieldDefault("retry.multiplier", &r.Multiplier, defaultRetryMultiplier),
		intFieldDefault("retry.max_delay_ms", &r.MaxDelayMS, defaultRetryMaxDelayMS),
		intFieldDefault("retry.call_timeout_seconds", &r.CallTimeoutSeconds, defaultRetryCallTimeout),
	)
}

func (p *PollerConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("poller.interval_seconds", &p.IntervalSeconds, defaultPollerInterval),
		intFieldDefault("poller.concurrency", &p.Concurrency, defaultPollerConcurrency),
	)
}

func (t *TWAPConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("twap.default_interval_seconds", &t.DefaultIntervalSeconds, defaultTWAPInterval),
	)
}

func (j *JournalConfig) applyDefaults(keys keySet) {
	if j == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("journal.path", &j.Path, defaultJournalPath),
	)
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && *target <= 0
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && *target <= 0
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
