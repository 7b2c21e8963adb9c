package app

import (
	"papertrader/internal/config"
	"papertrader/internal/logger"
	"papertrader/internal/market"
	"papertrader/internal/pkg/circuit"
)

// MarketStack is everything the engine and the API read market data from.
type MarketStack struct {
	Gateway   *market.Gateway
	Sentiment *market.SentimentService
	Sources   []string
}

func buildMarketStack(cfg *config.Config) (*MarketStack, error) {
	mc := cfg.Market
	gecko := market.NewCoinGecko(market.CoinGeckoOptions{
		BaseURL:     mc.CoinGecko.BaseURL,
		APIKey:      mc.CoinGecko.APIKey,
		Currency:    cfg.Trading.Currency,
		CacheTTL:    mc.CoinGecko.CacheTTL,
		MinInterval: mc.CoinGecko.MinInterval,
		MaxAttempts: mc.CoinGecko.MaxAttempts,
		BackoffStep: mc.CoinGecko.BackoffStep,
		Breaker:     circuit.NewCircuitBreaker("coingecko", mc.CoinGecko.BreakerTrips, mc.CoinGecko.BreakerCooloff),
	})
	sources := []string{"coingecko"}

	var fallback market.Fallback
	if mc.Paprika.Enabled {
		table, err := market.LoadIDTable(mc.Paprika.TablePath)
		if err != nil {
			return nil, err
		}
		fallback = market.NewPaprika(market.PaprikaOptions{
			BaseURL:     mc.Paprika.BaseURL,
			Quote:       cfg.Trading.Currency,
			CacheTTL:    mc.Paprika.CacheTTL,
			MinInterval: mc.Paprika.MinInterval,
			IndexTTL:    mc.Paprika.IndexTTL,
			IDTable:     table,
		})
		sources = append(sources, "coinpaprika")
		logger.Infof("✓ coinpaprika fallback enabled (%d static ids)", len(table))
	}

	var quoter market.SpotQuoter
	if mc.Binance.Enabled {
		quote := mc.Binance.Quote
		if quote == "" {
			quote = cfg.Trading.Currency
		}
		quoter = market.NewBinanceQuoter(mc.Binance.BaseURL, quote)
		sources = append(sources, "binance")
	}

	gw := market.NewGateway(gecko, fallback, quoter).WithDirectory(gecko)
	sentiment := market.NewSentimentService(
		market.NewFearGreedService(mc.Sentiment.FearGreedURL, mc.Sentiment.Timeout),
		gw,
		market.NewNewsFeed(mc.Sentiment.NewsURL, mc.Sentiment.NewsLimit, mc.Sentiment.Timeout),
		mc.Sentiment.Timeout,
	)
	return &MarketStack{Gateway: gw, Sentiment: sentiment, Sources: sources}, nil
}
