package market

import (
	"context"
	"time"

	"papertrader/internal/logger"

	"golang.org/x/sync/errgroup"
)

// Sentiment groups the soft signals. Every field is optional: a failed
// sub-source leaves it nil or empty.
type Sentiment struct {
	FearGreed *FearGreedIndex `json:"fearGreedIndex"`
	Trending  []TrendingCoin  `json:"trendingCoins"`
	Headlines []string        `json:"newsHeadlines"`
}

type trendingSource interface {
	Trending(ctx context.Context) ([]TrendingCoin, error)
}

type SentimentService struct {
	fearGreed *FearGreedService
	trending  trendingSource
	news      *NewsFeed
	timeout   time.Duration
}

func NewSentimentService(fearGreed *FearGreedService, trending trendingSource, news *NewsFeed, timeout time.Duration) *SentimentService {
	return &SentimentService{fearGreed: fearGreed, trending: trending, news: news, timeout: timeout}
}

// Fetch queries all sub-sources concurrently. It never fails.
func (s *SentimentService) Fetch(ctx context.Context) Sentiment {
	var out Sentiment
	if s == nil {
		return out
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	var g errgroup.Group
	if s.fearGreed != nil {
		g.Go(func() error {
			idx, err := s.fearGreed.Current(ctx)
			if err != nil {
				logger.Warnf("sentiment: fear & greed unavailable: %v", err)
				return nil
			}
			out.FearGreed = idx
			return nil
		})
	}
	if s.trending != nil {
		g.Go(func() error {
			coins, err := s.trending.Trending(ctx)
			if err != nil {
				logger.Warnf("sentiment: trending unavailable: %v", err)
				return nil
			}
			out.Trending = coins
			return nil
		})
	}
	if s.news != nil {
		g.Go(func() error {
			titles, err := s.news.Headlines(ctx)
			if err != nil {
				logger.Warnf("sentiment: news unavailable: %v", err)
				return nil
			}
			out.Headlines = titles
			return nil
		})
	}
	_ = g.Wait()
	if out.Trending == nil {
		out.Trending = []TrendingCoin{}
	}
	if out.Headlines == nil {
		out.Headlines = []string{}
	}
	return out
}
