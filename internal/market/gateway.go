package market

import (
	"context"
	"fmt"
	"strings"

	"papertrader/internal/logger"
)

// Primary is the main market data provider.
type Primary interface {
	Markets(ctx context.Context, ids []string) ([]Coin, error)
	OHLC(ctx context.Context, id string, days int) ([]Candle, error)
	Trending(ctx context.Context) ([]TrendingCoin, error)
}

// Fallback prices what the primary could not, keyed by primary ids.
type Fallback interface {
	Markets(ctx context.Context, ids []string) ([]Coin, error)
	OHLC(ctx context.Context, id string) ([]Candle, error)
}

// SpotQuoter prices a single coin by ticker symbol.
type SpotQuoter interface {
	Quote(ctx context.Context, symbol string) (float64, error)
}

// Directory maps free-form coin references to the primary's canonical ids.
type Directory interface {
	Search(ctx context.Context, query string) ([]CoinRef, error)
}

// Gateway merges the providers into one market data view.
type Gateway struct {
	primary   Primary
	fallback  Fallback
	quoter    SpotQuoter
	directory Directory
}

// NewGateway wires the providers. fallback and quoter may be nil.
func NewGateway(primary Primary, fallback Fallback, quoter SpotQuoter) *Gateway {
	return &Gateway{primary: primary, fallback: fallback, quoter: quoter}
}

// WithDirectory enables canonical id lookups for on-demand quotes.
func (g *Gateway) WithDirectory(d Directory) *Gateway {
	g.directory = d
	return g
}

// MarketData returns data for ids. Coins missing from the primary answer (or
// priced at zero) are re-queried through the fallback and merged by id.
// An error is returned only when nothing could be priced.
func (g *Gateway) MarketData(ctx context.Context, ids []string) ([]Coin, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	coins, primaryErr := g.primary.Markets(ctx, ids)
	if primaryErr != nil {
		logger.Warnf("primary market data failed: %v", primaryErr)
		coins = nil
	}
	priced := make(map[string]int, len(coins))
	out := make([]Coin, 0, len(ids))
	for _, c := range coins {
		if _, dup := priced[c.ID]; dup {
			continue
		}
		priced[c.ID] = len(out)
		out = append(out, c)
	}
	var missing []string
	for _, id := range ids {
		idx, ok := priced[id]
		if !ok || out[idx].CurrentPrice <= 0 {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 && g.fallback != nil {
		logger.Infof("market data missing for %s, asking fallback", strings.Join(missing, ","))
		extra, err := g.fallback.Markets(ctx, missing)
		if err != nil {
			logger.Warnf("fallback market data failed: %v", err)
		}
		for _, c := range extra {
			if c.CurrentPrice <= 0 {
				continue
			}
			if idx, ok := priced[c.ID]; ok {
				out[idx] = c
				continue
			}
			priced[c.ID] = len(out)
			out = append(out, c)
		}
	}
	if len(out) == 0 && primaryErr != nil {
		return nil, fmt.Errorf("market data unavailable: %w", primaryErr)
	}
	return out, nil
}

// OHLC returns candles from the primary, falling back when it fails or
// returns nothing.
func (g *Gateway) OHLC(ctx context.Context, id string, days int) ([]Candle, error) {
	candles, err := g.primary.OHLC(ctx, id, days)
	if err == nil && len(candles) > 0 {
		return candles, nil
	}
	if g.fallback == nil {
		return candles, err
	}
	if err != nil {
		logger.Warnf("OHLC for %s failed on primary, using fallback: %v", id, err)
	}
	fb, fbErr := g.fallback.OHLC(ctx, id)
	if fbErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, fbErr
	}
	return fb, nil
}

func (g *Gateway) Trending(ctx context.Context) ([]TrendingCoin, error) {
	return g.primary.Trending(ctx)
}

// Quote resolves a single coin on demand. id may be a loose reference such as
// a ticker; the result always carries the canonical primary id, and a
// reference the directory cannot place is not quoted. A non-empty symbol
// marks id as canonical already (it came from provider metadata). Without a
// directory, id is trusted as given.
func (g *Gateway) Quote(ctx context.Context, id, symbol string) (Coin, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Coin{}, false
	}
	ref := CoinRef{ID: id, Symbol: strings.TrimSpace(symbol)}
	if ref.Symbol == "" && g.directory != nil {
		found, ok := g.Canonical(ctx, id)
		if !ok {
			logger.Warnf("on-demand quote: no known coin matches %q", id)
			return Coin{}, false
		}
		ref = found
	}
	if c, ok := g.quoteByID(ctx, ref.ID); ok {
		return c, true
	}
	if g.quoter == nil || ref.Symbol == "" {
		return Coin{}, false
	}
	price, err := g.quoter.Quote(ctx, ref.Symbol)
	if err != nil {
		logger.Warnf("spot quote for %s (%s) failed: %v", ref.ID, ref.Symbol, err)
		return Coin{}, false
	}
	name := ref.Name
	if name == "" {
		name = strings.ToUpper(ref.Symbol)
	}
	return Coin{
		ID:           ref.ID,
		Symbol:       strings.ToLower(ref.Symbol),
		Name:         name,
		CurrentPrice: price,
		Source:       "binance",
	}, true
}

// Canonical places ref (an id, ticker or name) in the directory. An exact id
// match wins, then the best ranked ticker match, then the best ranked name.
func (g *Gateway) Canonical(ctx context.Context, ref string) (CoinRef, bool) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if g.directory == nil || ref == "" {
		return CoinRef{}, false
	}
	found, err := g.directory.Search(ctx, ref)
	if err != nil {
		logger.Warnf("coin search for %s failed: %v", ref, err)
		return CoinRef{}, false
	}
	var bySymbol, byName *CoinRef
	for i := range found {
		c := &found[i]
		switch {
		case c.ID == "":
		case strings.EqualFold(c.ID, ref):
			return *c, true
		case strings.EqualFold(c.Symbol, ref):
			bySymbol = betterRanked(c, bySymbol)
		case strings.EqualFold(c.Name, ref):
			byName = betterRanked(c, byName)
		}
	}
	if bySymbol != nil {
		return *bySymbol, true
	}
	if byName != nil {
		return *byName, true
	}
	return CoinRef{}, false
}

func betterRanked(c, best *CoinRef) *CoinRef {
	if best == nil {
		return c
	}
	if c.MarketCapRank > 0 && (best.MarketCapRank == 0 || c.MarketCapRank < best.MarketCapRank) {
		return c
	}
	return best
}

// quoteByID prices a canonical id through market data.
func (g *Gateway) quoteByID(ctx context.Context, id string) (Coin, bool) {
	coins, err := g.MarketData(ctx, []string{id})
	if err != nil {
		logger.Warnf("on-demand quote for %s failed: %v", id, err)
	}
	for _, c := range coins {
		if c.ID == id && c.CurrentPrice > 0 {
			return c, true
		}
	}
	return Coin{}, false
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
