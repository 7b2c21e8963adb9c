package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"papertrader/internal/logger"
)

type PaprikaOptions struct {
	BaseURL     string
	Quote       string
	CacheTTL    time.Duration
	MinInterval time.Duration
	IndexTTL    time.Duration
	IDTable     map[string]string
	HTTPClient  *http.Client
}

type PaprikaQuote struct {
	Price            float64 `json:"price"`
	Volume24h        float64 `json:"volume_24h"`
	PercentChange24h float64 `json:"percent_change_24h"`
	MarketCap        float64 `json:"market_cap"`
	ATHPrice         float64 `json:"ath_price"`
}

type PaprikaTicker struct {
	ID     string                  `json:"id"`
	Name   string                  `json:"name"`
	Symbol string                  `json:"symbol"`
	Rank   int                     `json:"rank"`
	Quotes map[string]PaprikaQuote `json:"quotes"`
}

// Paprika is the secondary provider. It is only asked for coins the primary
// could not price, and it speaks in primary ids via its Resolver.
type Paprika struct {
	baseURL  string
	quote    string
	client   *http.Client
	cache    *ttlCache
	gate     *rateGate
	resolver *Resolver
}

func NewPaprika(opts PaprikaOptions) *Paprika {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	quote := strings.ToUpper(strings.TrimSpace(opts.Quote))
	if quote == "" {
		quote = "EUR"
	}
	p := &Paprika{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		quote:   quote,
		client:  client,
		cache:   newTTLCache(opts.CacheTTL),
		gate:    newRateGate(opts.MinInterval),
	}
	p.resolver = NewResolver(opts.IDTable, p, opts.IndexTTL)
	return p
}

// WithResolver swaps the id resolver, mainly for tests with fixed tables.
func (p *Paprika) WithResolver(r *Resolver) *Paprika {
	p.resolver = r
	return p
}

// Markets prices the given primary ids. Unmapped ids are skipped, and the
// result carries the original primary id.
func (p *Paprika) Markets(ctx context.Context, geckoIDs []string) ([]Coin, error) {
	if len(geckoIDs) == 0 {
		return nil, nil
	}
	key := "paprika:markets:" + strings.Join(geckoIDs, ",")
	if v, ok := p.cache.get(key); ok {
		return v.([]Coin), nil
	}
	idMap := make(map[string]string, len(geckoIDs))
	for _, geckoID := range geckoIDs {
		paprikaID, ok := p.resolver.Resolve(ctx, geckoID)
		if !ok {
			logger.Warnf("[CoinPaprika] no mapping for %s", geckoID)
			continue
		}
		idMap[paprikaID] = geckoID
	}
	if len(idMap) == 0 {
		return nil, nil
	}
	tickers, err := p.Tickers(ctx)
	if err != nil {
		return nil, err
	}
	var out []Coin
	for _, t := range tickers {
		geckoID, ok := idMap[t.ID]
		if !ok {
			continue
		}
		q := t.Quotes[p.quote]
		out = append(out, Coin{
			ID:             geckoID,
			Symbol:         strings.ToLower(t.Symbol),
			Name:           t.Name,
			CurrentPrice:   q.Price,
			PriceChange24h: q.PercentChange24h,
			MarketCap:      q.MarketCap,
			TotalVolume:    q.Volume24h,
			ATH:            q.ATHPrice,
			Source:         "coinpaprika",
		})
	}
	logger.Infof("[CoinPaprika] fallback priced %d/%d coins", len(out), len(geckoIDs))
	p.cache.set(key, out)
	return out, nil
}

// Tickers returns the full ticker list quoted in the configured currency.
func (p *Paprika) Tickers(ctx context.Context) ([]PaprikaTicker, error) {
	key := "paprika:tickers:" + p.quote
	if v, ok := p.cache.get(key); ok {
		return v.([]PaprikaTicker), nil
	}
	q := url.Values{}
	q.Set("quotes", p.quote)
	var tickers []PaprikaTicker
	if err := p.get(ctx, "/tickers", q, &tickers); err != nil {
		return nil, err
	}
	p.cache.set(key, tickers)
	return tickers, nil
}

// TickerIndex maps lower-cased names (spaces to dashes) and symbols to
// CoinPaprika ids. It satisfies IndexSource.
func (p *Paprika) TickerIndex(ctx context.Context) (map[string]string, error) {
	var tickers []PaprikaTicker
	if err := p.get(ctx, "/tickers", nil, &tickers); err != nil {
		return nil, err
	}
	index := make(map[string]string, len(tickers)*2)
	for _, t := range tickers {
		if t.ID == "" {
			continue
		}
		index[indexKey(t.Name)] = t.ID
		index[strings.ToLower(t.Symbol)] = t.ID
	}
	return index, nil
}

// OHLC returns the latest candle(s) for a primary id.
func (p *Paprika) OHLC(ctx context.Context, geckoID string) ([]Candle, error) {
	key := "paprika:ohlc:" + geckoID
	if v, ok := p.cache.get(key); ok {
		return v.([]Candle), nil
	}
	paprikaID, ok := p.resolver.Resolve(ctx, geckoID)
	if !ok {
		return nil, fmt.Errorf("coinpaprika: no mapping for %s", geckoID)
	}
	var raw []struct {
		TimeOpen string  `json:"time_open"`
		Open     float64 `json:"open"`
		High     float64 `json:"high"`
		Low      float64 `json:"low"`
		Close    float64 `json:"close"`
	}
	if err := p.get(ctx, "/coins/"+url.PathEscape(paprikaID)+"/ohlcv/latest/", nil, &raw); err != nil {
		return nil, err
	}
	candles := make([]Candle, 0, len(raw))
	for _, d := range raw {
		var ts int64
		if t, err := time.Parse(time.RFC3339, d.TimeOpen); err == nil {
			ts = t.UnixMilli()
		}
		candles = append(candles, Candle{Timestamp: ts, Open: d.Open, High: d.High, Low: d.Low, Close: d.Close})
	}
	p.cache.set(key, candles)
	return candles, nil
}

// get issues one gated request. 429 is reported, never retried: the monthly
// quota is the scarce resource here.
func (p *Paprika) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := p.gate.Wait(ctx); err != nil {
		return err
	}
	endpoint := p.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("coinpaprika request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			logger.Warnf("[CoinPaprika] rate limited (429)")
		}
		return &StatusError{Provider: "CoinPaprika", Code: resp.StatusCode, Status: resp.Status}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("coinpaprika decode %s: %w", path, err)
	}
	return nil
}
