package market

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeadlines(t *testing.T) {
	feed := `<?xml version="1.0"?>
<rss><channel><title>Feed</title>
<item><title><![CDATA[Bitcoin hits new high]]></title></item>
<item><title>ETH &amp; SOL rally</title></item>
<item><title>  </title></item>
<item><title>Third</title></item>
</channel></rss>`
	titles, err := parseHeadlines(xml.NewDecoder(strings.NewReader(feed)), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bitcoin hits new high", "ETH & SOL rally"}, titles)
}

func TestFearGreedService_Current(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"value":"23","value_classification":"Extreme Fear","timestamp":"1700000000","time_until_update":"3600"}],"metadata":{"error":null}}`))
	}))
	defer srv.Close()

	svc := NewFearGreedService(srv.URL, time.Second)
	idx, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &FearGreedIndex{Value: 23, Classification: "Extreme Fear"}, idx)

	data, ok := svc.Get()
	require.True(t, ok)
	assert.Equal(t, time.Hour, data.TimeUntilUpdate)
}

type stubTrending struct {
	coins []TrendingCoin
	err   error
}

func (s stubTrending) Trending(context.Context) ([]TrendingCoin, error) { return s.coins, s.err }

func TestSentimentService_EachSourceIsBestEffort(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	news := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<rss><channel><item><title>Headline</title></item></channel></rss>`))
	}))
	defer news.Close()

	svc := NewSentimentService(
		NewFearGreedService(down.URL, time.Second),
		stubTrending{err: errors.New("429")},
		NewNewsFeed(news.URL, 10, time.Second),
		5*time.Second,
	)
	got := svc.Fetch(context.Background())
	assert.Nil(t, got.FearGreed)
	assert.Empty(t, got.Trending)
	assert.NotNil(t, got.Trending)
	assert.Equal(t, []string{"Headline"}, got.Headlines)
}
