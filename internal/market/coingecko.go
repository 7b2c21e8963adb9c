package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"papertrader/internal/logger"
	"papertrader/internal/pkg/circuit"
)

type CoinGeckoOptions struct {
	BaseURL     string
	APIKey      string
	Currency    string
	CacheTTL    time.Duration
	MinInterval time.Duration
	MaxAttempts int
	BackoffStep time.Duration
	Breaker     *circuit.CircuitBreaker
	HTTPClient  *http.Client
}

// CoinGecko is the primary market data provider. All calls share one cache,
// one rate gate and one circuit breaker.
type CoinGecko struct {
	baseURL     string
	apiKey      string
	currency    string
	maxAttempts int
	backoffStep time.Duration
	client      *http.Client
	breaker     *circuit.CircuitBreaker
	cache       *ttlCache
	gate        *rateGate
	jitter      func() time.Duration
	sleep       func(context.Context, time.Duration) error
}

func NewCoinGecko(opts CoinGeckoOptions) *CoinGecko {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	currency := strings.ToLower(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = "eur"
	}
	return &CoinGecko{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      strings.TrimSpace(opts.APIKey),
		currency:    currency,
		maxAttempts: attempts,
		backoffStep: opts.BackoffStep,
		client:      client,
		breaker:     opts.Breaker,
		cache:       newTTLCache(opts.CacheTTL),
		gate:        newRateGate(opts.MinInterval),
		jitter:      func() time.Duration { return time.Duration(rand.Int63n(int64(2 * time.Second))) },
		sleep:       sleepCtx,
	}
}

// Markets returns current market data for ids. Coins the provider does not
// know are simply absent from the result.
func (c *CoinGecko) Markets(ctx context.Context, ids []string) ([]Coin, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	joined := strings.Join(ids, ",")
	key := "markets:" + joined + ":" + c.currency
	if v, ok := c.cache.get(key); ok {
		return v.([]Coin), nil
	}
	q := url.Values{}
	q.Set("vs_currency", c.currency)
	q.Set("ids", joined)
	q.Set("order", "market_cap_desc")
	q.Set("sparkline", "false")
	var coins []Coin
	if err := c.get(ctx, "/coins/markets", q, &coins); err != nil {
		return nil, err
	}
	for i := range coins {
		coins[i].Source = "coingecko"
	}
	c.cache.set(key, coins)
	return coins, nil
}

// OHLC returns candles for id over the last days, oldest first.
func (c *CoinGecko) OHLC(ctx context.Context, id string, days int) ([]Candle, error) {
	key := fmt.Sprintf("ohlc:%s:%d:%s", id, days, c.currency)
	if v, ok := c.cache.get(key); ok {
		return v.([]Candle), nil
	}
	q := url.Values{}
	q.Set("vs_currency", c.currency)
	q.Set("days", strconv.Itoa(days))
	var raw [][]float64
	if err := c.get(ctx, "/coins/"+url.PathEscape(id)+"/ohlc", q, &raw); err != nil {
		return nil, err
	}
	candles := make([]Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 5 {
			continue
		}
		candles = append(candles, Candle{
			Timestamp: int64(row[0]),
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
		})
	}
	c.cache.set(key, candles)
	return candles, nil
}

// PriceHistory returns the price series of id over the last days.
func (c *CoinGecko) PriceHistory(ctx context.Context, id string, days int) ([]PricePoint, error) {
	key := fmt.Sprintf("history:%s:%d:%s", id, days, c.currency)
	if v, ok := c.cache.get(key); ok {
		return v.([]PricePoint), nil
	}
	q := url.Values{}
	q.Set("vs_currency", c.currency)
	q.Set("days", strconv.Itoa(days))
	var raw struct {
		Prices [][]float64 `json:"prices"`
	}
	if err := c.get(ctx, "/coins/"+url.PathEscape(id)+"/market_chart", q, &raw); err != nil {
		return nil, err
	}
	points := make([]PricePoint, 0, len(raw.Prices))
	for _, row := range raw.Prices {
		if len(row) < 2 {
			continue
		}
		points = append(points, PricePoint{Timestamp: int64(row[0]), Price: row[1]})
	}
	c.cache.set(key, points)
	return points, nil
}

// Trending returns the currently trending coins.
func (c *CoinGecko) Trending(ctx context.Context) ([]TrendingCoin, error) {
	const key = "trending"
	if v, ok := c.cache.get(key); ok {
		return v.([]TrendingCoin), nil
	}
	var raw struct {
		Coins []struct {
			Item TrendingCoin `json:"item"`
		} `json:"coins"`
	}
	if err := c.get(ctx, "/search/trending", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]TrendingCoin, 0, len(raw.Coins))
	for _, item := range raw.Coins {
		if item.Item.ID == "" {
			continue
		}
		out = append(out, item.Item)
	}
	c.cache.set(key, out)
	return out, nil
}

// Search looks up coins matching an id, ticker or name.
func (c *CoinGecko) Search(ctx context.Context, query string) ([]CoinRef, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}
	key := "search:" + query
	if v, ok := c.cache.get(key); ok {
		return v.([]CoinRef), nil
	}
	q := url.Values{}
	q.Set("query", query)
	var raw struct {
		Coins []CoinRef `json:"coins"`
	}
	if err := c.get(ctx, "/search", q, &raw); err != nil {
		return nil, err
	}
	c.cache.set(key, raw.Coins)
	return raw.Coins, nil
}

func (c *CoinGecko) get(ctx context.Context, path string, q url.Values, out any) error {
	do := func() error { return c.fetch(ctx, path, q, out) }
	if c.breaker == nil {
		return do()
	}
	if err := c.breaker.Execute(do, clientError); err != nil {
		if errors.Is(err, circuit.ErrOpen) {
			return fmt.Errorf("coingecko %s: %w", path, err)
		}
		return err
	}
	return nil
}

// fetch waits on the gate once, then retries only on 429 with a linear
// backoff plus jitter.
func (c *CoinGecko) fetch(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.gate.Wait(ctx); err != nil {
		return err
	}
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("x-cg-demo-api-key", c.apiKey)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("coingecko request %s: %w", path, err)
		}
		if resp.StatusCode == http.StatusOK {
			err = json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("coingecko decode %s: %w", path, err)
			}
			return nil
		}
		resp.Body.Close()
		lastErr = &StatusError{Provider: "CoinGecko", Code: resp.StatusCode, Status: resp.Status}
		if resp.StatusCode != http.StatusTooManyRequests {
			return lastErr
		}
		if attempt == c.maxAttempts-1 {
			break
		}
		delay := time.Duration(attempt+1)*c.backoffStep + c.jitter()
		logger.Warnf("CoinGecko 429 on %s, waiting %.1fs", path, delay.Seconds())
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("coingecko %s: max retries exceeded: %w", path, lastErr)
}
