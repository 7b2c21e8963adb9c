package config

import (
	"strings"
	"time"
)

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":3000"
	defaultStorePath         = "data/papertrader.db"
	defaultTickLogPath       = "data/ticks.db"
	defaultCurrency          = "eur"
	defaultStartBalance      = 1000
	defaultMinTrade          = 5
	defaultFee               = 1
	defaultTaxRate           = 0.275
	defaultDustEpsilon       = 1e-6
	defaultBustThreshold     = 2
	defaultTargetMultiplier  = 2
	defaultMaxRoundDuration  = 30 * 24 * time.Hour
	defaultAnalysisInterval  = 24 * time.Hour
	defaultOHLCCoinLimit     = 3
	defaultOHLCDays          = 7
	defaultLessonAnalyses    = 3
	defaultSchedulerInterval = "5m"
	defaultGeckoURL          = "https://api.coingecko.com/api/v3"
	defaultGeckoCacheTTL     = 120 * time.Second
	defaultGeckoSpacing      = 2500 * time.Millisecond
	defaultGeckoAttempts     = 3
	defaultGeckoBackoff      = 5 * time.Second
	defaultBreakerTrips      = 5
	defaultBreakerCooloff    = time.Minute
	defaultPaprikaURL        = "https://api.coinpaprika.com/v1"
	defaultPaprikaSpacing    = 5 * time.Second
	defaultPaprikaIndexTTL   = time.Hour
	defaultBinanceQuote      = "EUR"
	defaultFearGreedURL      = "https://api.alternative.me/fng/?limit=1"
	defaultNewsURL           = "https://cointelegraph.com/rss"
	defaultNewsLimit         = 10
	defaultSentimentTimeout  = 10 * time.Second
	defaultAITimeout         = 120
	defaultAIMaxTokens       = 2000
	defaultAITemperature     = 0.7
	defaultAIRateDelay       = 5 * time.Second
	defaultAIRateStep        = 3 * time.Second
	defaultOpenRouterURL     = "https://openrouter.ai/api/v1"
	defaultLockKey           = "papertrader:tick"
	defaultLockTTL           = 10 * time.Minute
)

// DefaultWatchedCoins seeds the watchlist when neither the store nor the file has one.
var DefaultWatchedCoins = []string{
	"bitcoin", "ethereum", "solana", "cardano", "ripple",
	"dogecoin", "polkadot", "chainlink", "avalanche-2", "polygon-ecosystem-token",
}

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Lock.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.tick_log_path", &s.TickLogPath, defaultTickLogPath),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.currency", &t.Currency, defaultCurrency),
		floatFieldDefault("trading.start_balance", &t.StartBalance, defaultStartBalance),
		floatFieldDefault("trading.min_trade", &t.MinTrade, defaultMinTrade),
		floatFieldDefault("trading.fee", &t.Fee, defaultFee),
		floatFieldDefault("trading.tax_rate", &t.TaxRate, defaultTaxRate),
		floatFieldDefault("trading.dust_epsilon", &t.DustEpsilon, defaultDustEpsilon),
		floatFieldDefault("trading.bust_threshold", &t.BustThreshold, defaultBustThreshold),
		floatFieldDefault("trading.target_multiplier", &t.TargetMultiplier, defaultTargetMultiplier),
		durationFieldDefault("trading.max_round_duration", &t.MaxRoundDuration, defaultMaxRoundDuration),
		durationFieldDefault("trading.analysis_interval", &t.AnalysisInterval, defaultAnalysisInterval),
		intFieldDefault("trading.ohlc_coin_limit", &t.OHLCCoinLimit, defaultOHLCCoinLimit),
		intFieldDefault("trading.ohlc_days", &t.OHLCDays, defaultOHLCDays),
		intFieldDefault("trading.lesson_analyses", &t.LessonAnalyses, defaultLessonAnalyses),
		fieldDefault{
			key:   "trading.watched_coins",
			need:  func() bool { return len(t.WatchedCoins) == 0 },
			apply: func() { t.WatchedCoins = append([]string(nil), DefaultWatchedCoins...) },
		},
	)
	t.Currency = strings.ToLower(strings.TrimSpace(t.Currency))
	t.WatchedCoins = normalizeIDList(t.WatchedCoins)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("scheduler.interval", &s.Interval, defaultSchedulerInterval),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	g := &m.CoinGecko
	applyFieldDefaults(keys,
		stringFieldDefault("market.coingecko.base_url", &g.BaseURL, defaultGeckoURL),
		durationFieldDefault("market.coingecko.cache_ttl", &g.CacheTTL, defaultGeckoCacheTTL),
		durationFieldDefault("market.coingecko.min_interval", &g.MinInterval, defaultGeckoSpacing),
		intFieldDefault("market.coingecko.max_attempts", &g.MaxAttempts, defaultGeckoAttempts),
		durationFieldDefault("market.coingecko.backoff_step", &g.BackoffStep, defaultGeckoBackoff),
		intFieldDefault("market.coingecko.breaker_trips", &g.BreakerTrips, defaultBreakerTrips),
		durationFieldDefault("market.coingecko.breaker_cooloff", &g.BreakerCooloff, defaultBreakerCooloff),
	)
	p := &m.Paprika
	applyFieldDefaults(keys,
		boolFieldDefault("market.paprika.enabled", &p.Enabled, true),
		stringFieldDefault("market.paprika.base_url", &p.BaseURL, defaultPaprikaURL),
		durationFieldDefault("market.paprika.cache_ttl", &p.CacheTTL, defaultGeckoCacheTTL),
		durationFieldDefault("market.paprika.min_interval", &p.MinInterval, defaultPaprikaSpacing),
		durationFieldDefault("market.paprika.index_ttl", &p.IndexTTL, defaultPaprikaIndexTTL),
	)
	b := &m.Binance
	applyFieldDefaults(keys,
		stringFieldDefault("market.binance.quote", &b.Quote, defaultBinanceQuote),
	)
	b.Quote = strings.ToUpper(strings.TrimSpace(b.Quote))
	s := &m.Sentiment
	applyFieldDefaults(keys,
		stringFieldDefault("market.sentiment.fear_greed_url", &s.FearGreedURL, defaultFearGreedURL),
		stringFieldDefault("market.sentiment.news_url", &s.NewsURL, defaultNewsURL),
		intFieldDefault("market.sentiment.news_limit", &s.NewsLimit, defaultNewsLimit),
		durationFieldDefault("market.sentiment.timeout", &s.Timeout, defaultSentimentTimeout),
	)
}

func (a *AIConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("ai.timeout_seconds", &a.TimeoutSeconds, defaultAITimeout),
		intFieldDefault("ai.max_tokens", &a.MaxTokens, defaultAIMaxTokens),
		floatFieldDefault("ai.temperature", &a.Temperature, defaultAITemperature),
		durationFieldDefault("ai.rate_limit_delay", &a.RateLimitDelay, defaultAIRateDelay),
		durationFieldDefault("ai.rate_limit_step", &a.RateLimitStep, defaultAIRateStep),
	)
	for i := range a.Models {
		m := &a.Models[i]
		m.Model = strings.TrimSpace(m.Model)
		if strings.TrimSpace(m.APIURL) == "" {
			m.APIURL = defaultOpenRouterURL
		}
		if strings.TrimSpace(m.ID) == "" {
			m.ID = m.Model
		}
	}
}

func (l *LockConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("lock.key", &l.Key, defaultLockKey),
		durationFieldDefault("lock.ttl", &l.TTL, defaultLockTTL),
	)
}

// Helper functions

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

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func normalizeIDList(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
