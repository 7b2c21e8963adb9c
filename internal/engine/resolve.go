package engine

import (
	"strings"

	"papertrader/internal/market"
)

// priceBook resolves decision coin ids against the tick's market data: exact
// id, then case-insensitive id, then ticker symbol.
type priceBook struct {
	byID     map[string]market.Coin
	byLower  map[string]market.Coin
	bySymbol map[string]market.Coin
}

func newPriceBook(coins []market.Coin) *priceBook {
	b := &priceBook{
		byID:     make(map[string]market.Coin, len(coins)),
		byLower:  make(map[string]market.Coin, len(coins)),
		bySymbol: make(map[string]market.Coin, len(coins)),
	}
	for _, c := range coins {
		b.add(c)
	}
	return b
}

func (b *priceBook) add(c market.Coin) {
	if c.ID == "" || c.CurrentPrice <= 0 {
		return
	}
	b.byID[c.ID] = c
	b.byLower[strings.ToLower(c.ID)] = c
	if sym := strings.ToLower(strings.TrimSpace(c.Symbol)); sym != "" {
		if _, taken := b.bySymbol[sym]; !taken {
			b.bySymbol[sym] = c
		}
	}
}

func (b *priceBook) lookup(id string) (market.Coin, bool) {
	if c, ok := b.byID[id]; ok {
		return c, true
	}
	key := strings.ToLower(strings.TrimSpace(id))
	if c, ok := b.byLower[key]; ok {
		return c, true
	}
	c, ok := b.bySymbol[key]
	return c, ok
}

func (b *priceBook) prices() map[string]float64 {
	out := make(map[string]float64, len(b.byID))
	for id, c := range b.byID {
		out[id] = c.CurrentPrice
	}
	return out
}
