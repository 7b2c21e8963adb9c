package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"papertrader/internal/logger"
	"papertrader/internal/store"
)

const (
	KeyTraderEnabled = "traderEnabled"
	KeyWatchedCoins  = "watchedCoins"
)

// FallbackCoins is used when no watchlist is stored at all.
var FallbackCoins = []string{"bitcoin", "ethereum", "solana"}

// TraderEnabled reads the persisted enable flag. A missing key means enabled.
func TraderEnabled(ctx context.Context, st store.Store) (bool, error) {
	v, ok, err := st.Settings().Get(ctx, KeyTraderEnabled)
	if err != nil || !ok {
		return true, err
	}
	enabled, perr := strconv.ParseBool(strings.TrimSpace(v))
	if perr != nil {
		logger.Warnf("settings: %s=%q is not a bool, treating as enabled", KeyTraderEnabled, v)
		return true, nil
	}
	return enabled, nil
}

func SetTraderEnabled(ctx context.Context, st store.Store, enabled bool) error {
	return st.Settings().Set(ctx, KeyTraderEnabled, strconv.FormatBool(enabled))
}

// WatchedCoins returns the stored watchlist, FallbackCoins when it is
// missing, empty or malformed.
func WatchedCoins(ctx context.Context, st store.Store) []string {
	v, ok, err := st.Settings().Get(ctx, KeyWatchedCoins)
	if err != nil {
		logger.Warnf("settings: watchlist unavailable: %v", err)
	}
	if !ok || err != nil {
		return append([]string(nil), FallbackCoins...)
	}
	var coins []string
	if err := json.Unmarshal([]byte(v), &coins); err != nil {
		logger.Warnf("settings: malformed watchlist %q: %v", v, err)
		return append([]string(nil), FallbackCoins...)
	}
	coins = uniqueIDs(coins)
	if len(coins) == 0 {
		return append([]string(nil), FallbackCoins...)
	}
	return coins
}

// SeedWatchedCoins stores coins as the watchlist unless one already exists.
func SeedWatchedCoins(ctx context.Context, st store.Store, coins []string) error {
	_, ok, err := st.Settings().Get(ctx, KeyWatchedCoins)
	if err != nil || ok {
		return err
	}
	coins = uniqueIDs(coins)
	if len(coins) == 0 {
		return nil
	}
	raw, err := json.Marshal(coins)
	if err != nil {
		return err
	}
	return st.Settings().Set(ctx, KeyWatchedCoins, string(raw))
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
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
