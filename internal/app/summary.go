package app

import (
	"fmt"
	"strings"

	"papertrader/internal/config"
)

type StartupSummary struct {
	Trading   TradingSummary
	Sources   []string
	Models    []string
	Interval  string
	AutoStart bool
	HTTPAddr  string
	Lock      bool
	Journal   bool
}

type TradingSummary struct {
	Currency         string
	StartBalance     float64
	MinTrade         float64
	Fee              float64
	TaxRate          float64
	BustThreshold    float64
	TargetMultiplier float64
	MaxRoundDuration string
	WatchedCoins     []string
}

func buildSummary(cfg *config.Config, models []string, stack *MarketStack, lock, journal bool) *StartupSummary {
	t := cfg.Trading
	s := &StartupSummary{
		Trading: TradingSummary{
			Currency:         t.Currency,
			StartBalance:     t.StartBalance,
			MinTrade:         t.MinTrade,
			Fee:              t.Fee,
			TaxRate:          t.TaxRate,
			BustThreshold:    t.BustThreshold,
			TargetMultiplier: t.TargetMultiplier,
			MaxRoundDuration: t.MaxRoundDuration.String(),
			WatchedCoins:     t.WatchedCoins,
		},
		Models:    models,
		Interval:  cfg.Scheduler.Interval,
		AutoStart: cfg.Scheduler.AutoStart,
		HTTPAddr:  cfg.App.HTTPAddr,
		Lock:      lock,
		Journal:   journal,
	}
	if stack != nil {
		s.Sources = stack.Sources
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	title := "STARTUP SUMMARY"
	fmt.Printf("%*s\n", 40+len(title)/2, title)
	fmt.Println(strings.Repeat("=", 80))

	t := s.Trading
	fmt.Println("[TRADING]")
	fmt.Printf("  start balance: %.2f %s\n", t.StartBalance, t.Currency)
	fmt.Printf("  min trade:     %.2f   fee: %.2f   tax: %.1f%%\n", t.MinTrade, t.Fee, t.TaxRate*100)
	fmt.Printf("  round ends:    bust < %.2f | target %.2gx | after %s\n", t.BustThreshold, t.TargetMultiplier, t.MaxRoundDuration)
	fmt.Printf("  watchlist:     %s\n", formatList(t.WatchedCoins))
	fmt.Println()

	fmt.Println("[MARKET / AI]")
	fmt.Printf("  sources: %s\n", formatList(s.Sources))
	fmt.Printf("  models:  %s\n", formatList(s.Models))
	fmt.Println()

	fmt.Println("[RUNTIME]")
	fmt.Printf("  interval:   %s (auto start %v)\n", s.Interval, s.AutoStart)
	fmt.Printf("  http:       %s\n", s.HTTPAddr)
	fmt.Printf("  redis lock: %v   tick journal: %v\n", s.Lock, s.Journal)
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
