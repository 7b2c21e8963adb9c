package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.StartBalance <= 0 {
		return fmt.Errorf("trading.start_balance must be > 0")
	}
	if t.MinTrade < 0 {
		return fmt.Errorf("trading.min_trade must be >= 0")
	}
	if t.Fee < 0 {
		return fmt.Errorf("trading.fee must be >= 0")
	}
	if t.TaxRate < 0 || t.TaxRate >= 1 {
		return fmt.Errorf("trading.tax_rate must be in [0, 1)")
	}
	if t.BustThreshold < 0 || t.BustThreshold >= t.StartBalance {
		return fmt.Errorf("trading.bust_threshold must be in [0, start_balance)")
	}
	if t.TargetMultiplier <= 1 {
		return fmt.Errorf("trading.target_multiplier must be > 1")
	}
	if t.MaxRoundDuration <= 0 {
		return fmt.Errorf("trading.max_round_duration must be > 0")
	}
	if t.OHLCCoinLimit < 0 {
		return fmt.Errorf("trading.ohlc_coin_limit must be >= 0")
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if !IsValidInterval(s.Interval) {
		return fmt.Errorf("scheduler.interval must look like 5m, 1h or 1d, got %q", s.Interval)
	}
	return nil
}

func (a *AIConfig) validate() error {
	models := a.EnabledModels()
	if len(models) == 0 {
		return fmt.Errorf("ai.models requires at least one enabled model")
	}
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		if m.Model == "" {
			return fmt.Errorf("ai.models contains entry without model (id=%s)", m.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("ai.models contains duplicate id %s", m.ID)
		}
		seen[m.ID] = true
	}
	if a.TimeoutSeconds < 0 {
		return fmt.Errorf("ai.timeout_seconds must be >= 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.CoinGecko.BaseURL) == "" {
		return fmt.Errorf("market.coingecko.base_url cannot be empty")
	}
	if m.CoinGecko.MaxAttempts < 1 {
		return fmt.Errorf("market.coingecko.max_attempts must be >= 1")
	}
	if m.Paprika.Enabled && strings.TrimSpace(m.Paprika.BaseURL) == "" {
		return fmt.Errorf("market.paprika enabled but base_url is empty")
	}
	if m.Binance.Enabled && m.Binance.Quote == "" {
		return fmt.Errorf("market.binance enabled but quote is empty")
	}
	return nil
}

// IsValidInterval accepts a positive integer followed by m, h, d or w.
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
