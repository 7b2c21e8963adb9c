package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"papertrader/internal/config"
	"papertrader/internal/gateway/provider"
	"papertrader/internal/market"
	"papertrader/internal/store/gormstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrimary struct{}

func (stubPrimary) Markets(_ context.Context, ids []string) ([]market.Coin, error) {
	var out []market.Coin
	for _, id := range ids {
		if id == "bitcoin" {
			out = append(out, market.Coin{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: 20000})
		}
	}
	return out, nil
}

func (stubPrimary) OHLC(context.Context, string, int) ([]market.Candle, error) {
	return nil, errors.New("no history")
}

func (stubPrimary) Trending(context.Context) ([]market.TrendingCoin, error) { return nil, nil }

type stubModel struct{ reply string }

func (m stubModel) ID() string { return "stub" }

func (m stubModel) Complete(context.Context, provider.Prompt) (string, error) { return m.reply, nil }

func loadTestConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
app:
  http_addr: "127.0.0.1:0"
store:
  tick_log_path: ` + filepath.Join(dir, "ticks.db") + `
trading:
  watched_coins: [bitcoin]
scheduler:
  auto_start: false
ai:
  models:
    - model: stub/model
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg, path
}

func buildTestApp(t *testing.T, reply string) *App {
	t.Helper()
	cfg, path := loadTestConfig(t)
	st, err := gormstore.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)

	b := NewAppBuilder(cfg, path,
		WithStore(st),
		WithMarketStack(func(*config.Config) (*MarketStack, error) {
			gw := market.NewGateway(stubPrimary{}, nil, nil)
			return &MarketStack{Gateway: gw, Sources: []string{"stub"}}, nil
		}),
		WithProviders(func(config.AIConfig) []provider.ModelProvider {
			return []provider.ModelProvider{stubModel{reply: reply}}
		}),
	)
	a, err := b.Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestBuild_TicksEndToEnd(t *testing.T) {
	a := buildTestApp(t, "Here you go:\n```json\n"+
		`{"decisions":[{"action":"buy","coinId":"bitcoin","amount":100,"reasoning":"trend"}],"marketAnalysis":"calm"}`+
		"\n```")
	ctx := context.Background()

	first := a.Engine().ExecuteTick(ctx)
	require.True(t, first.Success, first.Message)
	assert.Equal(t, []string{"new_round"}, first.Actions)

	second := a.Engine().ExecuteTick(ctx)
	require.True(t, second.Success, second.Message)
	assert.Contains(t, second.Actions, "analysis: calm")

	round, err := a.store.Rounds().Active(ctx)
	require.NoError(t, err)
	h, err := a.store.Holdings().Get(ctx, round.ID, "bitcoin")
	require.NoError(t, err)
	assert.InDelta(t, 0.005, h.Amount, 1e-12)
	snap, err := a.store.Snapshots().Latest(ctx, round.ID)
	require.NoError(t, err)
	assert.InDelta(t, 899, snap.Cash, 1e-9)
	assert.InDelta(t, 999, snap.TotalValue, 1e-9)
}

func TestBuild_SeedsWatchlistAndSummary(t *testing.T) {
	a := buildTestApp(t, `{"decisions":[]}`)
	v, ok, err := a.store.Settings().Get(context.Background(), "watchedCoins")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `["bitcoin"]`, v)

	require.NotNil(t, a.Summary)
	assert.Equal(t, []string{"stub"}, a.Summary.Models)
	assert.Equal(t, []string{"stub"}, a.Summary.Sources)
	assert.True(t, a.Summary.Journal)
	assert.False(t, a.Summary.Lock)
}

func TestReload_UpdatesPolicy(t *testing.T) {
	a := buildTestApp(t, `{"decisions":[]}`)
	cfg, _ := loadTestConfig(t)
	cfg.Trading.BustThreshold = 10
	cfg.Trading.MinTrade = 25
	a.reload(cfg)

	p := a.Engine().Policy()
	assert.Equal(t, 10.0, p.BustThreshold)
	assert.Equal(t, 25.0, p.Rules.MinTrade)
	assert.Equal(t, 25.0, a.executor.Rules().MinTrade)
}

func TestPolicyFromConfig(t *testing.T) {
	cfg, _ := loadTestConfig(t)
	p := PolicyFromConfig(cfg)
	assert.Equal(t, cfg.Trading.StartBalance, p.StartBalance)
	assert.Equal(t, cfg.Trading.Fee, p.Rules.Fee)
	assert.Equal(t, cfg.Trading.TaxRate, p.Rules.TaxRate)
	assert.Equal(t, cfg.Trading.MaxRoundDuration, p.MaxRoundDuration)
}
