package market

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Coin is the per-coin market snapshot. Field names follow the CoinGecko
// /coins/markets payload so both providers decode into the same shape.
type Coin struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	CurrentPrice   float64 `json:"current_price"`
	PriceChange24h float64 `json:"price_change_percentage_24h"`
	MarketCap      float64 `json:"market_cap"`
	TotalVolume    float64 `json:"total_volume"`
	ATH            float64 `json:"ath"`
	ATL            float64 `json:"atl"`
	Image          string  `json:"image"`
	Source         string  `json:"source,omitempty"`
}

type TrendingCoin struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// CoinRef names a coin by the primary provider's canonical id and its ticker.
type CoinRef struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	MarketCapRank int    `json:"market_cap_rank"`
}

type PricePoint struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
}

// ErrRateLimited matches any *StatusError carrying HTTP 429.
var ErrRateLimited = errors.New("market: rate limited")

// StatusError is a non-success HTTP answer from a market provider.
type StatusError struct {
	Provider string
	Code     int
	Status   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: %s", e.Provider, strings.TrimSpace(e.Status))
}

func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.Code == http.StatusTooManyRequests
}

// clientError reports 4xx answers other than 429; those describe the request,
// not provider health.
func clientError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests
}

// PriceMap indexes coins with a usable price by id.
func PriceMap(coins []Coin) map[string]float64 {
	out := make(map[string]float64, len(coins))
	for _, c := range coins {
		if c.CurrentPrice > 0 {
			out[c.ID] = c.CurrentPrice
		}
	}
	return out
}
