package market

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
)

// BinanceQuoter is the last-resort single-coin price source: the spot
// ticker price of <SYMBOL><QUOTE>, e.g. SOLEUR.
type BinanceQuoter struct {
	client *binance.Client
	quote  string
}

func NewBinanceQuoter(baseURL, quote string) *BinanceQuoter {
	client := binance.NewClient("", "")
	if base := strings.TrimSpace(baseURL); base != "" {
		client.BaseURL = strings.TrimRight(base, "/")
	}
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		quote = "EUR"
	}
	return &BinanceQuoter{client: client, quote: quote}
}

// Pair returns the exchange symbol for a coin ticker symbol.
func (b *BinanceQuoter) Pair(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol)) + b.quote
}

func (b *BinanceQuoter) Quote(ctx context.Context, symbol string) (float64, error) {
	if strings.TrimSpace(symbol) == "" {
		return 0, fmt.Errorf("binance quote: symbol is required")
	}
	pair := b.Pair(symbol)
	prices, err := b.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance quote %s: %w", pair, err)
	}
	for _, p := range prices {
		if p == nil || !strings.EqualFold(p.Symbol, pair) {
			continue
		}
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, fmt.Errorf("binance quote %s: %w", pair, err)
		}
		if price <= 0 {
			break
		}
		return price, nil
	}
	return 0, fmt.Errorf("binance quote %s: no price", pair)
}
