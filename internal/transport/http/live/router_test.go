package livehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"papertrader/internal/engine"
	"papertrader/internal/market"
	"papertrader/internal/scheduler"
	"papertrader/internal/store/gormstore"
	"papertrader/internal/store/model"
	"papertrader/internal/store/ticklog"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct{ ticks atomic.Int32 }

func (f *fakeEngine) ExecuteTick(context.Context) engine.Result {
	f.ticks.Add(1)
	return engine.Result{Success: true, Message: "Tick complete. Portfolio: 1000.00 EUR", Actions: []string{}, TraceID: "t-1"}
}

func (f *fakeEngine) Policy() engine.Policy {
	return engine.Policy{BustThreshold: 2, TargetMultiplier: 2}
}

func (f *fakeEngine) Running() bool { return false }

type fakeScheduler struct {
	running bool
	starts  int
}

func (f *fakeScheduler) Start(time.Duration) (bool, error) {
	f.starts++
	started := !f.running
	f.running = true
	return started, nil
}

func (f *fakeScheduler) Stop() bool {
	was := f.running
	f.running = false
	return was
}

func (f *fakeScheduler) Status() scheduler.Status {
	return scheduler.Status{IsRunning: f.running, Interval: 300000}
}

type fakeMarket struct{ coins []market.Coin }

func (f fakeMarket) MarketData(_ context.Context, ids []string) ([]market.Coin, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []market.Coin
	for _, c := range f.coins {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f fakeMarket) Trending(context.Context) ([]market.TrendingCoin, error) {
	return []market.TrendingCoin{{ID: "pepe", Name: "Pepe"}}, nil
}

type harness struct {
	st      *gormstore.GormStore
	engine  *fakeEngine
	sched   *fakeScheduler
	journal *ticklog.Store
	handler http.Handler
}

func newHarness(t *testing.T, secret string) *harness {
	t.Helper()
	st, err := gormstore.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	journal, err := ticklog.New(filepath.Join(t.TempDir(), "ticks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	h := &harness{st: st, engine: &fakeEngine{}, sched: &fakeScheduler{}, journal: journal}
	srv, err := NewServer(ServerConfig{
		Store:     st,
		Engine:    h.engine,
		Scheduler: h.sched,
		Market: fakeMarket{coins: []market.Coin{
			{ID: "bitcoin", Symbol: "btc", CurrentPrice: 30000},
			{ID: "pepe", Symbol: "pepe", CurrentPrice: 0.00001},
		}},
		Journal:    journal,
		CronSecret: secret,
	})
	require.NoError(t, err)
	h.handler = srv.Handler()
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) seedRound(t *testing.T) model.Round {
	t.Helper()
	ctx := context.Background()
	r := model.Round{StartBalance: 1000, Status: model.RoundActive}
	require.NoError(t, h.st.Rounds().Create(ctx, &r))
	for i := 0; i < 12; i++ {
		require.NoError(t, h.st.Transactions().Insert(ctx, &model.Transaction{
			RoundID: r.ID, Type: model.TradeBuy, CoinID: "bitcoin", Amount: 0.0001, Price: 30000, Total: 3, Fee: 1,
			CreatedAt: int64(1000 + i),
		}))
	}
	require.NoError(t, h.st.Holdings().Save(ctx, &model.Holding{RoundID: r.ID, CoinID: "bitcoin", Amount: 0.0012, AvgBuyPrice: 25000}))
	require.NoError(t, h.st.Snapshots().Insert(ctx, &model.Snapshot{RoundID: r.ID, TotalValue: 990, Cash: 952, CreatedAt: 2000}))
	return r
}

func TestServer_RequiresStoreAndEngine(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, "")
	rec := h.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPortfolio(t *testing.T) {
	h := newHarness(t, "")
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/portfolio", nil, nil).Code)

	h.seedRound(t)
	rec := h.do(t, http.MethodGet, "/api/portfolio", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Cash       float64 `json:"cash"`
		TotalValue float64 `json:"totalValue"`
		Positions  []struct {
			CoinID string  `json:"coinId"`
			Price  float64 `json:"price"`
		} `json:"positions"`
		Snapshots []snapshotPoint `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 952, body.Cash, 1e-9)
	assert.InDelta(t, 952+0.0012*30000, body.TotalValue, 1e-9)
	require.Len(t, body.Positions, 1)
	assert.Equal(t, 30000.0, body.Positions[0].Price)
	assert.Len(t, body.Snapshots, 1)
}

func TestTransactions_Paging(t *testing.T) {
	h := newHarness(t, "")
	r := h.seedRound(t)

	rec := h.do(t, http.MethodGet, "/api/transactions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Transactions []model.Transaction `json:"transactions"`
		Page         int                 `json:"page"`
		PageSize     int                 `json:"pageSize"`
		Total        int64               `json:"total"`
		TotalPages   int64               `json:"totalPages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.PageSize)
	assert.Equal(t, int64(12), page.Total)
	assert.Equal(t, int64(2), page.TotalPages)
	require.Len(t, page.Transactions, 10)
	assert.Equal(t, int64(1011), page.Transactions[0].CreatedAt, "newest first")

	rec = h.do(t, http.MethodGet, "/api/transactions?page=2&pageSize=10&roundId="+itoa(r.ID), nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Transactions, 2)

	rec = h.do(t, http.MethodGet, "/api/transactions?page=0&pageSize=999999", nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10000, page.PageSize)
	assert.Equal(t, int64(1), page.TotalPages)

	rec = h.do(t, http.MethodGet, "/api/transactions?pageSize=0", nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.PageSize)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/transactions?roundId=x", nil, nil).Code)
}

func TestRounds_IncludeAnalysesAndFinalValue(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	r := h.seedRound(t)
	require.NoError(t, h.st.Analyses().Insert(ctx, &model.Analysis{RoundID: r.ID, Type: model.AnalysisPeriodic, Summary: "first",
		Lessons: model.EncodeList([]string{"a"}), Mistakes: model.EncodeList(nil), Strategies: model.EncodeList(nil), CreatedAt: 10}))
	require.NoError(t, h.st.Analyses().Insert(ctx, &model.Analysis{RoundID: r.ID, Type: model.AnalysisPeriodic, Summary: "second",
		Lessons: model.EncodeList(nil), Mistakes: model.EncodeList(nil), Strategies: model.EncodeList(nil), CreatedAt: 20}))
	empty := model.Round{StartBalance: 1000, Status: model.RoundCompleted}
	require.NoError(t, h.st.Rounds().Create(ctx, &empty))

	rec := h.do(t, http.MethodGet, "/api/rounds", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rounds []struct {
		ID       int64 `json:"id"`
		Analyses []struct {
			Summary string   `json:"summary"`
			Lessons []string `json:"lessons"`
		} `json:"analyses"`
		TransactionCount int64    `json:"transactionCount"`
		FinalValue       *float64 `json:"finalValue"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rounds))
	require.Len(t, rounds, 2)
	assert.Equal(t, empty.ID, rounds[0].ID)
	assert.Nil(t, rounds[0].FinalValue)
	assert.Empty(t, rounds[0].Analyses)

	assert.Equal(t, int64(12), rounds[1].TransactionCount)
	require.NotNil(t, rounds[1].FinalValue)
	assert.Equal(t, 990.0, *rounds[1].FinalValue)
	require.Len(t, rounds[1].Analyses, 2)
	assert.Equal(t, "second", rounds[1].Analyses[0].Summary)
	assert.Equal(t, []string{"a"}, rounds[1].Analyses[1].Lessons)
}

func TestRoundChart(t *testing.T) {
	h := newHarness(t, "")
	r := h.seedRound(t)
	rec := h.do(t, http.MethodGet, "/api/rounds/"+itoa(r.ID)+"/chart", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/rounds/999/chart", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/rounds/abc/chart", nil, nil).Code)
}

func TestMarket_WatchedPlusTrending(t *testing.T) {
	h := newHarness(t, "")
	rec := h.do(t, http.MethodGet, "/api/market", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var coins []market.Coin
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &coins))
	ids := []string{}
	for _, c := range coins {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"bitcoin", "pepe"}, ids)
}

func TestTraderControl(t *testing.T) {
	h := newHarness(t, "")
	rec := h.do(t, http.MethodGet, "/api/trader/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enabled":true`)
	assert.Contains(t, rec.Body.String(), `"interval":300000`)

	rec = h.do(t, http.MethodPost, "/api/trader/status", map[string]string{"action": "stop"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	enabled, err := engine.TraderEnabled(context.Background(), h.st)
	require.NoError(t, err)
	assert.False(t, enabled)

	rec = h.do(t, http.MethodPost, "/api/trader/status", map[string]string{"action": "start"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.sched.running)
	assert.Contains(t, rec.Body.String(), `"isRunning":true`)
	enabled, err = engine.TraderEnabled(context.Background(), h.st)
	require.NoError(t, err)
	assert.True(t, enabled)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/trader/status", map[string]string{"action": "pause"}, nil).Code)
}

func TestTraderRunAndCron(t *testing.T) {
	h := newHarness(t, "s3cret")
	rec := h.do(t, http.MethodPost, "/api/trader/run", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	rec = h.do(t, http.MethodGet, "/api/cron/trade", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = h.do(t, http.MethodGet, "/api/cron/trade", nil, http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = h.do(t, http.MethodGet, "/api/cron/trade", nil, http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(2), h.engine.ticks.Load())
}

func TestCronWithoutSecretIsOpen(t *testing.T) {
	h := newHarness(t, "")
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/cron/trade", nil, nil).Code)
}

func TestTicksJournal(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.journal.Append(context.Background(), ticklog.Entry{TraceID: "abc", StartedAt: 1, Success: true, Message: "ok", Actions: []string{"new_round"}})
	require.NoError(t, err)
	rec := h.do(t, http.MethodGet, "/api/ticks?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"traceId":"abc"`))
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
