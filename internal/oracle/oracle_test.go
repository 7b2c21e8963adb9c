package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"papertrader/internal/analysis/indicator"
	"papertrader/internal/gateway/provider"
	"papertrader/internal/ledger"
	"papertrader/internal/market"
	"papertrader/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockModel struct {
	mock.Mock
	id string
}

func (m *mockModel) ID() string { return m.id }

func (m *mockModel) Complete(ctx context.Context, p provider.Prompt) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func newTestOracle(models ...provider.ModelProvider) (*Oracle, *[]time.Duration) {
	o := New(models, Options{RateLimitDelay: 5 * time.Second, RateLimitStep: 3 * time.Second, Temperature: 0.7})
	var waits []time.Duration
	o.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return o, &waits
}

func TestOracle_FallsBackAcrossModels(t *testing.T) {
	limited := &mockModel{id: "first"}
	limited.On("Complete", mock.Anything, mock.Anything).
		Return("", &provider.StatusError{Model: "first", Code: 429, Message: "slow down"}).Once()
	broken := &mockModel{id: "second"}
	broken.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("boom")).Once()
	good := &mockModel{id: "third"}
	good.On("Complete", mock.Anything, mock.MatchedBy(func(p provider.Prompt) bool {
		return p.MaxTokens == 2000 && p.Temperature == 0.7 && p.Purpose == "decision"
	})).Return(`{"decisions":[{"action":"buy","coinId":"bitcoin","amount":50}]}`, nil).Once()

	o, waits := newTestOracle(limited, broken, good)
	res, err := o.GetTradeDecisions(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "third", res.Model)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, []time.Duration{5 * time.Second}, *waits)
	limited.AssertExpectations(t)
	broken.AssertExpectations(t)
	good.AssertExpectations(t)
}

func TestOracle_RateLimitDelayEscalates(t *testing.T) {
	rl := func(id string) *mockModel {
		m := &mockModel{id: id}
		m.On("Complete", mock.Anything, mock.Anything).Return("", &provider.StatusError{Model: id, Code: 429})
		return m
	}
	o, waits := newTestOracle(rl("a"), rl("b"), rl("c"))
	_, err := o.GetTradeDecisions(context.Background(), sampleInput())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllModelsFailed))
	// no wait after the last model
	assert.Equal(t, []time.Duration{5 * time.Second, 8 * time.Second}, *waits)
}

func TestOracle_NoModels(t *testing.T) {
	o, _ := newTestOracle()
	_, err := o.GenerateRoundAnalysis(context.Background(), AnalysisInput{Kind: model.AnalysisBust})
	assert.True(t, errors.Is(err, ErrAllModelsFailed))
}

func TestOracle_UnparseableIsDistinct(t *testing.T) {
	m := &mockModel{id: "m"}
	m.On("Complete", mock.Anything, mock.Anything).Return("no json here", nil)
	o, _ := newTestOracle(m)
	_, err := o.GetTradeDecisions(context.Background(), sampleInput())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnparseable))
	assert.False(t, errors.Is(err, ErrAllModelsFailed))
}

func TestOracle_GenerateRoundAnalysisFraming(t *testing.T) {
	m := &mockModel{id: "m"}
	m.On("Complete", mock.Anything, mock.MatchedBy(func(p provider.Prompt) bool {
		return strings.Contains(p.System, "went bust") &&
			strings.Contains(p.User, "Trades: 2 (1 buys, 1 sells)") &&
			strings.Contains(p.User, "Win rate: 100%") &&
			strings.Contains(p.User, "[LATEST] size down")
	})).Return(`{"summary":"s","lessons":["l"],"mistakes":[],"strategies":["x"]}`, nil)
	o, _ := newTestOracle(m)

	profit := 10.0
	got, err := o.GenerateRoundAnalysis(context.Background(), AnalysisInput{
		Kind:         model.AnalysisBust,
		Currency:     "EUR",
		StartBalance: 1000,
		FinalValue:   1.5,
		Transactions: []model.Transaction{
			{Type: model.TradeBuy, CoinName: "Bitcoin", Total: 50},
			{Type: model.TradeSell, CoinName: "Bitcoin", Total: 60, Profit: &profit},
		},
		Lessons: []string{"[LATEST] size down"},
	})
	require.NoError(t, err)
	assert.Equal(t, RoundAnalysis{Summary: "s", Lessons: []string{"l"}, Mistakes: []string{}, Strategies: []string{"x"}}, got)
	m.AssertExpectations(t)
}

func TestDecisionPrompt(t *testing.T) {
	in := sampleInput()
	sys := decisionSystemPrompt(in)
	assert.Contains(t, sys, "Minimum trade: 5.00 EUR")
	assert.Contains(t, sys, "27.5% tax")
	assert.Contains(t, sys, "1. [LATEST] take profits")
	assert.Contains(t, sys, "the newer one wins")

	user := decisionUserPrompt(in)
	assert.Contains(t, user, "Cash: 949.00 EUR")
	assert.Contains(t, user, "TRENDING Pepe (PEPE, id=pepe)")
	assert.NotContains(t, user, "TRENDING Bitcoin")
	assert.Contains(t, user, "RSI: 55.0 | SMA20: N/A")
	assert.Contains(t, user, "MACD: N/A")
	assert.Contains(t, user, "Fear & Greed: 25 (Extreme Fear)")
	assert.Contains(t, user, "News: N/A")
	assert.Contains(t, user, "Round age: 2d3h of 30d0h")
}

func sampleInput() DecisionInput {
	rsi := 55.0
	return DecisionInput{
		Currency: "EUR",
		Rules:    ledger.Rules{Fee: 1, TaxRate: 0.275, MinTrade: 5, DustEpsilon: 1e-6},
		Portfolio: ledger.Valuation{
			StartBalance: 1000, Cash: 949, TotalValue: 1000,
			Positions: []ledger.Position{{CoinID: "bitcoin", CoinName: "Bitcoin", Amount: 0.002, AvgBuyPrice: 25000, Price: 25500, Priced: true, Value: 51, PnL: 1}},
		},
		Market: []market.Coin{
			{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: 25500},
			{ID: "pepe", Symbol: "pepe", Name: "Pepe", CurrentPrice: 0.00001},
		},
		Indicators: map[string]indicator.Indicators{"bitcoin": {RSI: &rsi}},
		Sentiment:  market.Sentiment{FearGreed: &market.FearGreedIndex{Value: 25, Classification: "Extreme Fear"}},
		Lessons:    []string{"[LATEST] take profits"},
		Trending:   []string{"pepe"},
		RoundAge:   51 * time.Hour,
		RoundLimit: 720 * time.Hour,
	}
}
