// Package engine runs one trading tick: it gathers market context, asks the
// oracle for decisions, applies them to the ledger, snapshots the portfolio
// and moves the round through its lifecycle.
package engine

import (
	"context"
	"sync"
	"time"

	"papertrader/internal/learning"
	"papertrader/internal/ledger"
	"papertrader/internal/logger"
	"papertrader/internal/market"
	"papertrader/internal/oracle"
	"papertrader/internal/store"
	"papertrader/internal/store/ticklog"
	"papertrader/internal/trader"

	"github.com/google/uuid"
)

// MarketSource is the market data gateway seen by the engine.
type MarketSource interface {
	MarketData(ctx context.Context, ids []string) ([]market.Coin, error)
	OHLC(ctx context.Context, id string, days int) ([]market.Candle, error)
	Trending(ctx context.Context) ([]market.TrendingCoin, error)
	Quote(ctx context.Context, id, symbol string) (market.Coin, bool)
}

type SentimentSource interface {
	Fetch(ctx context.Context) market.Sentiment
}

type DecisionOracle interface {
	GetTradeDecisions(ctx context.Context, in oracle.DecisionInput) (oracle.ParseResult, error)
}

// Policy holds the tunables that may change on config reload.
type Policy struct {
	Currency         string
	StartBalance     float64
	BustThreshold    float64
	TargetMultiplier float64
	MaxRoundDuration time.Duration
	OHLCCoinLimit    int
	OHLCDays         int
	Rules            ledger.Rules
}

// Result is what one ExecuteTick call reports.
type Result struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Actions []string `json:"actions"`
	TraceID string   `json:"traceId"`
	RoundID int64    `json:"roundId,omitempty"`
}

type Deps struct {
	Store     store.Store
	Market    MarketSource
	Sentiment SentimentSource
	Oracle    DecisionOracle
	Learner   *learning.Service
	Executor  *trader.Executor
	Guard     *Guard
	Journal   *ticklog.Store
}

type Engine struct {
	st        store.Store
	market    MarketSource
	sentiment SentimentSource
	oracle    DecisionOracle
	learner   *learning.Service
	executor  *trader.Executor
	guard     *Guard
	journal   *ticklog.Store

	mu     sync.RWMutex
	policy Policy

	now func() time.Time
}

func New(d Deps, p Policy) *Engine {
	guard := d.Guard
	if guard == nil {
		guard = NewGuard(nil)
	}
	e := &Engine{
		st:        d.Store,
		market:    d.Market,
		sentiment: d.Sentiment,
		oracle:    d.Oracle,
		learner:   d.Learner,
		executor:  d.Executor,
		guard:     guard,
		journal:   d.Journal,
		now:       time.Now,
	}
	e.UpdatePolicy(p)
	return e
}

// UpdatePolicy takes effect from the next tick on.
func (e *Engine) UpdatePolicy(p Policy) {
	if p.OHLCCoinLimit <= 0 {
		p.OHLCCoinLimit = 3
	}
	if p.OHLCDays <= 0 {
		p.OHLCDays = 7
	}
	e.mu.Lock()
	e.policy = p
	e.mu.Unlock()
	if e.executor != nil {
		e.executor.UpdateRules(p.Rules)
	}
}

func (e *Engine) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// Running reports whether a tick is in flight.
func (e *Engine) Running() bool { return e.guard.Running() }

// ExecuteTick advances the active round by one step. A call made while
// another tick is in flight returns at once with Success false.
func (e *Engine) ExecuteTick(ctx context.Context) Result {
	traceID := uuid.NewString()
	release, ok := e.guard.TryEnter(ctx)
	if !ok {
		logger.Infof("[tick %s] skipped: another tick is in progress", traceID)
		return Result{Success: false, Message: "Tick already in progress, skipped", Actions: []string{}, TraceID: traceID}
	}
	defer release()

	started := e.now()
	run := &tickRun{
		e:       e,
		policy:  e.Policy(),
		log:     logger.With("trace", traceID),
		actions: []string{},
	}
	res := run.execute(ctx)
	res.TraceID = traceID
	res.Actions = run.actions
	e.record(started, res)
	return res
}

func (e *Engine) record(started time.Time, res Result) {
	elapsed := e.now().Sub(started)
	logger.Infof("[tick %s] done in %s success=%v: %s", res.TraceID, elapsed.Truncate(time.Millisecond), res.Success, res.Message)
	if e.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.journal.Append(ctx, ticklog.Entry{
		TraceID:    res.TraceID,
		StartedAt:  started.UnixMilli(),
		DurationMs: elapsed.Milliseconds(),
		RoundID:    res.RoundID,
		Success:    res.Success,
		Message:    res.Message,
		Actions:    res.Actions,
	}); err != nil {
		logger.Warnf("tick journal append failed: %v", err)
	}
}
