package config

import (
	"strings"
	"time"
)

// Config is the root configuration of the paper trader.
type Config struct {
	App       AppConfig       `toml:"app"`
	Store     StoreConfig     `toml:"store"`
	Trading   TradingConfig   `toml:"trading"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Market    MarketConfig    `toml:"market"`
	AI        AIConfig        `toml:"ai"`
	Notify    NotifyConfig    `toml:"notify"`
	Lock      LockConfig      `toml:"lock"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

type StoreConfig struct {
	Path        string `toml:"path"`
	TickLogPath string `toml:"tick_log_path"`
}

// TradingConfig holds the ledger rules and the round lifecycle policy.
type TradingConfig struct {
	Currency         string        `toml:"currency"`
	StartBalance     float64       `toml:"start_balance"`
	MinTrade         float64       `toml:"min_trade"`
	Fee              float64       `toml:"fee"`
	TaxRate          float64       `toml:"tax_rate"`
	DustEpsilon      float64       `toml:"dust_epsilon"`
	BustThreshold    float64       `toml:"bust_threshold"`
	TargetMultiplier float64       `toml:"target_multiplier"`
	MaxRoundDuration time.Duration `toml:"max_round_duration"`
	AnalysisInterval time.Duration `toml:"analysis_interval"`
	WatchedCoins     []string      `toml:"watched_coins"`
	OHLCCoinLimit    int           `toml:"ohlc_coin_limit"`
	OHLCDays         int           `toml:"ohlc_days"`
	LessonAnalyses   int           `toml:"lesson_analyses"`
}

type SchedulerConfig struct {
	Interval   string `toml:"interval"`
	AutoStart  bool   `toml:"auto_start"`
	CronSecret string `toml:"cron_secret"`
}

type MarketConfig struct {
	CoinGecko CoinGeckoConfig `toml:"coingecko"`
	Paprika   PaprikaConfig   `toml:"paprika"`
	Binance   BinanceConfig   `toml:"binance"`
	Sentiment SentimentConfig `toml:"sentiment"`
}

type CoinGeckoConfig struct {
	BaseURL        string        `toml:"base_url"`
	APIKey         string        `toml:"api_key"`
	CacheTTL       time.Duration `toml:"cache_ttl"`
	MinInterval    time.Duration `toml:"min_interval"`
	MaxAttempts    int           `toml:"max_attempts"`
	BackoffStep    time.Duration `toml:"backoff_step"`
	BreakerTrips   int           `toml:"breaker_trips"`
	BreakerCooloff time.Duration `toml:"breaker_cooloff"`
}

type PaprikaConfig struct {
	Enabled     bool          `toml:"enabled"`
	BaseURL     string        `toml:"base_url"`
	CacheTTL    time.Duration `toml:"cache_ttl"`
	MinInterval time.Duration `toml:"min_interval"`
	IndexTTL    time.Duration `toml:"index_ttl"`
	TablePath   string        `toml:"table_path"`
}

type BinanceConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	Quote   string `toml:"quote"`
}

type SentimentConfig struct {
	FearGreedURL string        `toml:"fear_greed_url"`
	NewsURL      string        `toml:"news_url"`
	NewsLimit    int           `toml:"news_limit"`
	Timeout      time.Duration `toml:"timeout"`
}

// AIConfig lists the oracle models in the order they are tried.
type AIConfig struct {
	Models         []AIModelConfig `toml:"models"`
	TimeoutSeconds int             `toml:"timeout_seconds"`
	MaxTokens      int             `toml:"max_tokens"`
	Temperature    float64         `toml:"temperature"`
	RateLimitDelay time.Duration   `toml:"rate_limit_delay"`
	RateLimitStep  time.Duration   `toml:"rate_limit_step"`
}

type AIModelConfig struct {
	ID      string            `toml:"id"`
	APIURL  string            `toml:"api_url"`
	APIKey  string            `toml:"api_key"`
	Model   string            `toml:"model"`
	Headers map[string]string `toml:"headers"`
	// Enabled is a pointer so an omitted key means enabled.
	Enabled *bool `toml:"enabled"`
}

func (m AIModelConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// EnabledModels returns the enabled entries, keeping configuration order.
func (a AIConfig) EnabledModels() []AIModelConfig {
	out := make([]AIModelConfig, 0, len(a.Models))
	for _, m := range a.Models {
		if m.IsEnabled() {
			out = append(out, m)
		}
	}
	return out
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// LockConfig enables the cross-process tick lock when RedisAddr is set.
type LockConfig struct {
	RedisAddr     string        `toml:"redis_addr"`
	RedisPassword string        `toml:"redis_password"`
	RedisDB       int           `toml:"redis_db"`
	Key           string        `toml:"key"`
	TTL           time.Duration `toml:"ttl"`
}

func (l LockConfig) Enabled() bool {
	return strings.TrimSpace(l.RedisAddr) != ""
}

// keySet tracks field paths that were explicitly present in the file.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
