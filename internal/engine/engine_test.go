package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"papertrader/internal/learning"
	"papertrader/internal/ledger"
	"papertrader/internal/market"
	"papertrader/internal/oracle"
	"papertrader/internal/store/gormstore"
	"papertrader/internal/store/model"
	"papertrader/internal/trader"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMarket struct{ mock.Mock }

func (m *mockMarket) MarketData(ctx context.Context, ids []string) ([]market.Coin, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]market.Coin), args.Error(1)
}

func (m *mockMarket) OHLC(ctx context.Context, id string, days int) ([]market.Candle, error) {
	args := m.Called(ctx, id, days)
	return args.Get(0).([]market.Candle), args.Error(1)
}

func (m *mockMarket) Trending(ctx context.Context) ([]market.TrendingCoin, error) {
	args := m.Called(ctx)
	return args.Get(0).([]market.TrendingCoin), args.Error(1)
}

func (m *mockMarket) Quote(ctx context.Context, id, symbol string) (market.Coin, bool) {
	args := m.Called(ctx, id, symbol)
	return args.Get(0).(market.Coin), args.Bool(1)
}

type mockOracle struct{ mock.Mock }

func (m *mockOracle) GetTradeDecisions(ctx context.Context, in oracle.DecisionInput) (oracle.ParseResult, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(oracle.ParseResult), args.Error(1)
}

type mockGenerator struct{ mock.Mock }

func (m *mockGenerator) GenerateRoundAnalysis(ctx context.Context, in oracle.AnalysisInput) (oracle.RoundAnalysis, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(oracle.RoundAnalysis), args.Error(1)
}

var testPolicy = Policy{
	Currency:         "EUR",
	StartBalance:     1000,
	BustThreshold:    2,
	TargetMultiplier: 2,
	MaxRoundDuration: 720 * time.Hour,
	Rules:            ledger.Rules{Fee: 1, TaxRate: 0.275, MinTrade: 5, DustEpsilon: 1e-6},
}

type fixture struct {
	st     *gormstore.GormStore
	market *mockMarket
	oracle *mockOracle
	gen    *mockGenerator
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{market: &mockMarket{}}
	f.build(t, f.market)
	return f
}

// newGatewayFixture runs the engine against a real gateway instead of the
// market mock.
func newGatewayFixture(t *testing.T, gw *market.Gateway) *fixture {
	t.Helper()
	f := &fixture{}
	f.build(t, gw)
	return f
}

func (f *fixture) build(t *testing.T, src MarketSource) {
	st, err := gormstore.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f.st, f.oracle, f.gen = st, &mockOracle{}, &mockGenerator{}
	f.engine = New(Deps{
		Store:    st,
		Market:   src,
		Oracle:   f.oracle,
		Learner:  learning.NewService(f.gen, learning.Options{Currency: "EUR"}),
		Executor: trader.NewExecutor(st, testPolicy.Rules, nil, "EUR"),
	}, testPolicy)
}

// quiet stubs trending, history and on-demand lookups with empty answers.
func (f *fixture) quiet() *fixture {
	f.market.On("Trending", mock.Anything).Return([]market.TrendingCoin(nil), nil).Maybe()
	f.market.On("OHLC", mock.Anything, mock.Anything, 7).Return([]market.Candle(nil), errors.New("no history")).Maybe()
	f.market.On("Quote", mock.Anything, mock.Anything, mock.Anything).Return(market.Coin{}, false).Maybe()
	return f
}

func (f *fixture) activeRound(t *testing.T, age time.Duration) model.Round {
	t.Helper()
	r := model.Round{StartBalance: 1000, Status: model.RoundActive, CreatedAt: time.Now().Add(-age).UnixMilli()}
	require.NoError(t, f.st.Rounds().Create(context.Background(), &r))
	return r
}

func (f *fixture) snapshots(t *testing.T, roundID int64) []model.Snapshot {
	t.Helper()
	s, err := f.st.Snapshots().ListByRound(context.Background(), roundID)
	require.NoError(t, err)
	return s
}

func coin(id, symbol string, price float64) market.Coin {
	return market.Coin{ID: id, Symbol: symbol, Name: id, CurrentPrice: price}
}

func TestExecuteTick_CreatesRoundWhenNoneActive(t *testing.T) {
	f := newFixture(t)
	res := f.engine.ExecuteTick(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, []string{"new_round"}, res.Actions)
	assert.NotEmpty(t, res.TraceID)

	r, err := f.st.Rounds().Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, r.StartBalance)
	assert.Empty(t, f.snapshots(t, r.ID))
	f.market.AssertNotCalled(t, "MarketData", mock.Anything, mock.Anything)
}

func TestExecuteTick_Disabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, SetTraderEnabled(ctx, f.st, false))
	res := f.engine.ExecuteTick(ctx)
	assert.True(t, res.Success)
	assert.Equal(t, "Trader disabled", res.Message)
	_, err := f.st.Rounds().Active(ctx)
	assert.Error(t, err)
}

func TestExecuteTick_NoMarketData(t *testing.T) {
	f := newFixture(t).quiet()
	round := f.activeRound(t, time.Hour)
	f.market.On("MarketData", mock.Anything, []string{"bitcoin", "ethereum", "solana"}).
		Return([]market.Coin{}, errors.New("CoinGecko API error: 503")).Once()

	res := f.engine.ExecuteTick(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "No market data")
	assert.Empty(t, f.snapshots(t, round.ID))
	r, err := f.st.Rounds().Get(context.Background(), round.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundActive, r.Status)
	f.oracle.AssertNotCalled(t, "GetTradeDecisions", mock.Anything, mock.Anything)
}

func TestExecuteTick_BuyAppliedAndSnapshotted(t *testing.T) {
	f := newFixture(t)
	round := f.activeRound(t, time.Hour)
	f.market.On("Trending", mock.Anything).Return([]market.TrendingCoin{{ID: "pepe", Name: "Pepe"}}, nil)
	f.market.On("OHLC", mock.Anything, mock.Anything, 7).Return([]market.Candle(nil), errors.New("no history"))
	f.market.On("MarketData", mock.Anything, []string{"bitcoin", "ethereum", "solana", "pepe"}).
		Return([]market.Coin{coin("bitcoin", "btc", 25000), coin("ethereum", "eth", 2000), coin("pepe", "pepe", 0.00001)}, nil)
	f.market.On("Quote", mock.Anything, "dogecoin", "").Return(market.Coin{}, false)
	f.oracle.On("GetTradeDecisions", mock.Anything, mock.MatchedBy(func(in oracle.DecisionInput) bool {
		return in.Portfolio.Cash == 1000 && len(in.Market) == 3 && len(in.Trending) == 1 && in.Trending[0] == "pepe"
	})).Return(oracle.ParseResult{
		Decisions: []oracle.Decision{
			{Action: oracle.ActionBuy, CoinID: "bitcoin", CoinName: "Bitcoin", Amount: 50, Reasoning: "dip"},
			{Action: oracle.ActionBuy, CoinID: "ETH", Amount: 3},
			{Action: oracle.ActionSell, CoinID: "dogecoin", Amount: 10},
		},
		MarketAnalysis: "risk on",
	}, nil)

	res := f.engine.ExecuteTick(context.Background())
	require.True(t, res.Success, res.Message)
	assert.Contains(t, res.Actions, "analysis: risk on")
	assert.Contains(t, res.Actions, "skip sell dogecoin: no price found")
	assertAnyContains(t, res.Actions, "BUY Bitcoin")
	assertAnyContains(t, res.Actions, "BUY ethereum skipped")

	snaps := f.snapshots(t, round.ID)
	require.Len(t, snaps, 1)
	assert.InDelta(t, 949, snaps[0].Cash, 1e-9)
	assert.InDelta(t, 999, snaps[0].TotalValue, 1e-9)

	h, err := f.st.Holdings().Get(context.Background(), round.ID, "bitcoin")
	require.NoError(t, err)
	assert.InDelta(t, 0.002, h.Amount, 1e-12)
	f.market.AssertCalled(t, "Quote", mock.Anything, "dogecoin", "")
}

func TestExecuteTick_ZeroDecisionsStillSnapshots(t *testing.T) {
	for name, oracleErr := range map[string]error{
		"hold only":   nil,
		"unparseable": oracle.ErrUnparseable,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t).quiet()
			round := f.activeRound(t, time.Hour)
			f.market.On("MarketData", mock.Anything, mock.Anything).Return([]market.Coin{coin("bitcoin", "btc", 25000)}, nil)
			f.oracle.On("GetTradeDecisions", mock.Anything, mock.Anything).Return(oracle.ParseResult{
				Decisions: []oracle.Decision{{Action: oracle.ActionHold, CoinID: "bitcoin", Reasoning: "wait"}},
			}, oracleErr)

			res := f.engine.ExecuteTick(context.Background())
			require.True(t, res.Success, res.Message)
			snaps := f.snapshots(t, round.ID)
			require.Len(t, snaps, 1)
			assert.Equal(t, 1000.0, snaps[0].TotalValue)
			n, err := f.st.Transactions().Count(context.Background(), round.ID)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestExecuteTick_OracleFailureAborts(t *testing.T) {
	f := newFixture(t).quiet()
	round := f.activeRound(t, time.Hour)
	f.market.On("MarketData", mock.Anything, mock.Anything).Return([]market.Coin{coin("bitcoin", "btc", 25000)}, nil)
	f.oracle.On("GetTradeDecisions", mock.Anything, mock.Anything).Return(oracle.ParseResult{}, oracle.ErrAllModelsFailed)

	res := f.engine.ExecuteTick(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "AI decision failed")
	assert.Empty(t, f.snapshots(t, round.ID))
}

func TestExecuteTick_BustStartsNewRound(t *testing.T) {
	f := newFixture(t).quiet()
	ctx := context.Background()
	round := f.activeRound(t, time.Hour)
	require.NoError(t, f.st.Transactions().Insert(ctx, &model.Transaction{RoundID: round.ID, Type: model.TradeBuy, CoinID: "rug", Amount: 1, Price: 999, Total: 999, Fee: 1}))
	require.NoError(t, f.st.Holdings().Save(ctx, &model.Holding{RoundID: round.ID, CoinID: "rug", CoinName: "Rug", Amount: 1, AvgBuyPrice: 999}))

	f.market.On("MarketData", mock.Anything, mock.Anything).Return([]market.Coin{coin("rug", "rug", 1.5)}, nil)
	f.oracle.On("GetTradeDecisions", mock.Anything, mock.Anything).Return(oracle.ParseResult{}, nil)
	f.gen.On("GenerateRoundAnalysis", mock.Anything, mock.MatchedBy(func(in oracle.AnalysisInput) bool {
		return in.Kind == model.AnalysisBust && in.FinalValue == 1.5
	})).Return(oracle.RoundAnalysis{Summary: "rugged", Lessons: []string{"avoid rugs"}}, nil).Once()

	res := f.engine.ExecuteTick(ctx)
	require.True(t, res.Success, res.Message)
	assertAnyContains(t, res.Actions, "BUST!")
	assertAnyContains(t, res.Actions, "New round #")

	old, err := f.st.Rounds().Get(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundBusted, old.Status)
	assert.NotNil(t, old.EndedAt)

	analyses, err := f.st.Analyses().ListByRound(ctx, round.ID)
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	assert.Equal(t, model.AnalysisBust, analyses[0].Type)

	next, err := f.st.Rounds().Active(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, round.ID, next.ID)
	assert.Equal(t, 1000.0, next.StartBalance)
	f.gen.AssertExpectations(t)
}

func TestExecuteTick_ExpiredRoundWithFailingAnalysis(t *testing.T) {
	f := newFixture(t).quiet()
	ctx := context.Background()
	round := f.activeRound(t, 721*time.Hour)
	f.market.On("MarketData", mock.Anything, mock.Anything).Return([]market.Coin{coin("bitcoin", "btc", 25000)}, nil)
	f.oracle.On("GetTradeDecisions", mock.Anything, mock.Anything).Return(oracle.ParseResult{}, nil)
	f.gen.On("GenerateRoundAnalysis", mock.Anything, mock.Anything).Return(oracle.RoundAnalysis{}, oracle.ErrAllModelsFailed)

	res := f.engine.ExecuteTick(ctx)
	require.True(t, res.Success)
	assertAnyContains(t, res.Actions, "EXPIRED!")
	assertAnyContains(t, res.Actions, "analysis error")

	old, err := f.st.Rounds().Get(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundExpired, old.Status)
	_, err = f.st.Rounds().Active(ctx)
	require.NoError(t, err)
}

func TestExecuteTick_PeriodicAnalysisAfterInterval(t *testing.T) {
	f := newFixture(t).quiet()
	ctx := context.Background()
	round := f.activeRound(t, 25*time.Hour)
	f.market.On("MarketData", mock.Anything, mock.Anything).Return([]market.Coin{coin("bitcoin", "btc", 25000)}, nil)
	f.oracle.On("GetTradeDecisions", mock.Anything, mock.Anything).Return(oracle.ParseResult{}, nil)
	f.gen.On("GenerateRoundAnalysis", mock.Anything, mock.MatchedBy(func(in oracle.AnalysisInput) bool {
		return in.Kind == model.AnalysisPeriodic
	})).Return(oracle.RoundAnalysis{Summary: "steady"}, nil).Once()

	res := f.engine.ExecuteTick(ctx)
	require.True(t, res.Success)
	assert.Contains(t, res.Actions, "periodic analysis created")

	// the next tick does not repeat it
	res = f.engine.ExecuteTick(ctx)
	require.True(t, res.Success)
	assert.NotContains(t, res.Actions, "periodic analysis created")
	r, err := f.st.Rounds().Get(ctx, round.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundActive, r.Status)
	f.gen.AssertExpectations(t)
}

func TestExecuteTick_ConcurrentCallIsRejected(t *testing.T) {
	f := newFixture(t)
	round := f.activeRound(t, time.Hour)

	release, ok := f.engine.guard.TryEnter(context.Background())
	require.True(t, ok)
	res := f.engine.ExecuteTick(context.Background())
	release()

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "in progress")
	assert.Empty(t, f.snapshots(t, round.ID))
	f.market.AssertNotCalled(t, "MarketData", mock.Anything, mock.Anything)
}

func TestExecuteTick_IndicatorsForHeldThenWatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	round := f.activeRound(t, time.Hour)
	require.NoError(t, f.st.Holdings().Save(ctx, &model.Holding{RoundID: round.ID, CoinID: "dogecoin", Amount: 10, AvgBuyPrice: 0.1}))
	require.NoError(t, f.st.Settings().Set(ctx, KeyWatchedCoins, `["bitcoin","ethereum","solana","cardano"]`))

	f.market.On("Trending", mock.Anything).Return([]market.TrendingCoin(nil), nil)
	for _, id := range []string{"dogecoin", "bitcoin", "ethereum"} {
		f.market.On("OHLC", mock.Anything, id, 7).Return([]market.Candle{{Close: 1}}, nil).Once()
	}
	f.market.On("MarketData", mock.Anything, []string{"bitcoin", "ethereum", "solana", "cardano"}).
		Return([]market.Coin{coin("bitcoin", "btc", 25000)}, nil)
	f.market.On("MarketData", mock.Anything, []string{"dogecoin"}).
		Return([]market.Coin{coin("dogecoin", "doge", 0.2)}, nil).Once()
	f.oracle.On("GetTradeDecisions", mock.Anything, mock.MatchedBy(func(in oracle.DecisionInput) bool {
		_, doge := in.Indicators["dogecoin"]
		return len(in.Indicators) == 3 && doge && len(in.Market) == 2 && in.Portfolio.TotalValue == 1002
	})).Return(oracle.ParseResult{}, nil)

	res := f.engine.ExecuteTick(ctx)
	require.True(t, res.Success, res.Message)
	f.market.AssertExpectations(t)
	f.market.AssertNotCalled(t, "OHLC", mock.Anything, "solana", 7)
}

// knownPrimary prices only the coins it holds.
type knownPrimary map[string]market.Coin

func (p knownPrimary) Markets(_ context.Context, ids []string) ([]market.Coin, error) {
	var out []market.Coin
	for _, id := range ids {
		if c, ok := p[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (knownPrimary) OHLC(context.Context, string, int) ([]market.Candle, error) {
	return nil, errors.New("no history")
}

func (knownPrimary) Trending(context.Context) ([]market.TrendingCoin, error) { return nil, nil }

type searchTable map[string][]market.CoinRef

func (d searchTable) Search(_ context.Context, query string) ([]market.CoinRef, error) {
	return d[query], nil
}

type tickerQuoter struct {
	prices map[string]float64
	asked  []string
}

func (q *tickerQuoter) Quote(_ context.Context, symbol string) (float64, error) {
	q.asked = append(q.asked, symbol)
	if p, ok := q.prices[symbol]; ok {
		return p, nil
	}
	return 0, errors.New("unknown pair")
}

func TestExecuteTick_OnDemandQuoteResolvesUnlistedCoin(t *testing.T) {
	quoter := &tickerQuoter{prices: map[string]float64{"sol": 100}}
	gw := market.NewGateway(knownPrimary{"bitcoin": coin("bitcoin", "btc", 25000)}, nil, quoter).
		WithDirectory(searchTable{
			"sol": {
				{ID: "sol-token", Name: "Sol Token", Symbol: "sol", MarketCapRank: 900},
				{ID: "solana", Name: "Solana", Symbol: "sol", MarketCapRank: 5},
			},
		})
	f := newGatewayFixture(t, gw)
	ctx := context.Background()
	round := f.activeRound(t, time.Hour)
	f.oracle.On("GetTradeDecisions", mock.Anything, mock.Anything).Return(oracle.ParseResult{
		Decisions: []oracle.Decision{
			{Action: oracle.ActionBuy, CoinID: "sol", Amount: 50, Reasoning: "breakout"},
			{Action: oracle.ActionBuy, CoinID: "rugcoin", Amount: 20},
		},
	}, nil)

	res := f.engine.ExecuteTick(ctx)
	require.True(t, res.Success, res.Message)
	assertAnyContains(t, res.Actions, "BUY Solana")
	assert.Contains(t, res.Actions, "skip buy rugcoin: no price found")
	assert.Equal(t, []string{"sol"}, quoter.asked)

	h, err := f.st.Holdings().Get(ctx, round.ID, "solana")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, h.Amount, 1e-12)
	assert.Equal(t, 100.0, h.AvgBuyPrice)
	_, err = f.st.Holdings().Get(ctx, round.ID, "sol")
	assert.Error(t, err)

	txs, err := f.st.Transactions().ListByRound(ctx, round.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TradeBuy, txs[0].Type)
	assert.Equal(t, "solana", txs[0].CoinID)
	assert.Equal(t, 50.0, txs[0].Total)
	assert.Equal(t, 1.0, txs[0].Fee)

	snaps := f.snapshots(t, round.ID)
	require.Len(t, snaps, 1)
	assert.InDelta(t, 949, snaps[0].Cash, 1e-9)
	assert.InDelta(t, 999, snaps[0].TotalValue, 1e-9)
}

func TestExecuteTick_TrendingSymbolGuidesOnDemandQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	round := f.activeRound(t, time.Hour)
	f.market.On("Trending", mock.Anything).Return([]market.TrendingCoin{{ID: "dogwifcoin", Name: "dogwifhat", Symbol: "WIF"}}, nil)
	f.market.On("OHLC", mock.Anything, mock.Anything, 7).Return([]market.Candle(nil), errors.New("no history"))
	f.market.On("MarketData", mock.Anything, mock.Anything).Return([]market.Coin{coin("bitcoin", "btc", 25000)}, nil)
	f.market.On("Quote", mock.Anything, "dogwifcoin", "WIF").
		Return(market.Coin{ID: "dogwifcoin", Symbol: "wif", Name: "dogwifhat", CurrentPrice: 2}, true).Once()
	f.oracle.On("GetTradeDecisions", mock.Anything, mock.Anything).Return(oracle.ParseResult{
		Decisions: []oracle.Decision{{Action: oracle.ActionBuy, CoinID: "wif", Amount: 20}},
	}, nil)

	res := f.engine.ExecuteTick(ctx)
	require.True(t, res.Success, res.Message)
	h, err := f.st.Holdings().Get(ctx, round.ID, "dogwifcoin")
	require.NoError(t, err)
	assert.InDelta(t, 10, h.Amount, 1e-12)
	f.market.AssertExpectations(t)
}

func assertAnyContains(t *testing.T, actions []string, sub string) {
	t.Helper()
	for _, a := range actions {
		if strings.Contains(a, sub) {
			return
		}
	}
	t.Errorf("no action contains %q in %v", sub, actions)
}
