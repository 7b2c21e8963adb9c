package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"papertrader/internal/analysis/indicator"
	"papertrader/internal/ledger"
	"papertrader/internal/logger"
	"papertrader/internal/market"
	"papertrader/internal/oracle"
	"papertrader/internal/store"
	"papertrader/internal/store/model"
	"papertrader/internal/trader"
)

// tickRun carries the state of one ExecuteTick call.
type tickRun struct {
	e        *Engine
	policy   Policy
	log      *logger.Entry
	actions  []string
	trending map[string]market.TrendingCoin
}

func (t *tickRun) add(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.actions = append(t.actions, msg)
	t.log.Infof("%s", msg)
}

func fail(msg string) Result { return Result{Success: false, Message: msg} }

func (t *tickRun) execute(ctx context.Context) Result {
	e := t.e
	st := e.st

	enabled, err := TraderEnabled(ctx, st)
	if err != nil {
		return fail("Tick failed: " + err.Error())
	}
	if !enabled {
		t.log.Infof("trader disabled, tick skipped")
		return Result{Success: true, Message: "Trader disabled"}
	}

	round, err := st.Rounds().Active(ctx)
	if errors.Is(err, store.ErrNotFound) {
		created, cerr := t.newRound(ctx)
		if cerr != nil {
			return fail("Tick failed: " + cerr.Error())
		}
		t.actions = append(t.actions, "new_round")
		return Result{Success: true, Message: fmt.Sprintf("New round #%d started", created.ID), RoundID: created.ID}
	}
	if err != nil {
		return fail("Tick failed: " + err.Error())
	}
	t.log.Infof("round #%d, age %s", round.ID, round.Age(e.now()).Truncate(time.Minute))

	// Market context.
	watched := WatchedCoins(ctx, st)
	var trendingIDs []string
	t.trending = make(map[string]market.TrendingCoin)
	if trending, terr := e.market.Trending(ctx); terr != nil {
		t.log.Warnf("trending coins unavailable: %v", terr)
	} else {
		for _, c := range trending {
			trendingIDs = append(trendingIDs, c.ID)
			t.trending[strings.ToLower(c.ID)] = c
			if sym := strings.ToLower(strings.TrimSpace(c.Symbol)); sym != "" {
				if _, taken := t.trending[sym]; !taken {
					t.trending[sym] = c
				}
			}
		}
	}
	request := uniqueIDs(append(append([]string{}, watched...), trendingIDs...))
	t.log.Infof("%d coins requested (%d watched, %d trending)", len(request), len(watched), len(trendingIDs))

	coins, err := e.market.MarketData(ctx, request)
	if err != nil {
		t.log.Warnf("market data: %v", err)
	}
	if len(coins) == 0 {
		res := fail("No market data available")
		res.RoundID = round.ID
		return res
	}
	book := newPriceBook(coins)

	holdings, err := st.Holdings().List(ctx, round.ID)
	if err != nil {
		return t.failRound(round, err)
	}
	coins = append(coins, t.priceHeld(ctx, holdings, book)...)
	indicators := t.indicators(ctx, holdings, watched)

	var sentiment market.Sentiment
	if e.sentiment != nil {
		sentiment = e.sentiment.Fetch(ctx)
	}

	valuation, err := ledger.Load(ctx, st, *round, book.prices())
	if err != nil {
		return t.failRound(round, err)
	}
	lessons, err := e.learner.Lessons(ctx, st)
	if err != nil {
		t.log.Warnf("lessons unavailable: %v", err)
	}

	// Decisions.
	decided, err := e.oracle.GetTradeDecisions(ctx, oracle.DecisionInput{
		Currency:   t.policy.Currency,
		Rules:      t.policy.Rules,
		Portfolio:  valuation,
		Market:     coins,
		Indicators: indicators,
		Sentiment:  sentiment,
		Lessons:    lessons,
		Trending:   trendingIDs,
		RoundAge:   round.Age(e.now()),
		RoundLimit: t.policy.MaxRoundDuration,
	})
	switch {
	case errors.Is(err, oracle.ErrUnparseable):
		t.add("AI output unparseable, no decisions this tick: %v", err)
	case err != nil:
		res := fail("AI decision failed: " + err.Error())
		res.RoundID = round.ID
		return res
	}
	if a := strings.TrimSpace(decided.MarketAnalysis); a != "" {
		t.add("analysis: %s", a)
	}
	for _, d := range decided.Decisions {
		t.apply(ctx, *round, d, book)
	}

	// Snapshot and round lifecycle.
	valuation, err = ledger.Load(ctx, st, *round, book.prices())
	if err != nil {
		return t.failRound(round, err)
	}
	if err := st.Snapshots().Insert(ctx, &model.Snapshot{
		RoundID:    round.ID,
		TotalValue: valuation.TotalValue,
		Cash:       valuation.Cash,
		CreatedAt:  e.now().UnixMilli(),
	}); err != nil {
		return t.failRound(round, err)
	}
	t.log.Infof("snapshot: total %s, cash %s", ledger.Money(valuation.TotalValue), ledger.Money(valuation.Cash))

	ended := false
	if term, ok := Evaluate(t.policy, *round, valuation, e.now()); ok {
		ended = t.terminate(ctx, *round, term)
	}
	if !ended {
		t.periodic(ctx, *round)
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Tick complete. Portfolio: %s %s", ledger.Money(valuation.TotalValue), t.policy.Currency),
		RoundID: round.ID,
	}
}

// quote prices a coin missing from the tick's market data. Trending metadata
// supplies the canonical id and ticker when the decision names a trending
// coin; otherwise the gateway places the reference itself. The returned coin
// carries the canonical id the holding is keyed by.
func (t *tickRun) quote(ctx context.Context, ref string) (market.Coin, bool) {
	id, symbol := strings.TrimSpace(ref), ""
	if tc, ok := t.trending[strings.ToLower(id)]; ok {
		id, symbol = tc.ID, tc.Symbol
	}
	c, ok := t.e.market.Quote(ctx, id, symbol)
	if !ok || c.ID == "" || c.CurrentPrice <= 0 {
		return market.Coin{}, false
	}
	if c.ID != ref {
		t.log.Infof("%s resolved to %s on demand", ref, c.ID)
	}
	return c, true
}

// priceHeld fetches held coins that are neither watched nor trending, so the
// valuation and the bust check see current prices for every position.
func (t *tickRun) priceHeld(ctx context.Context, holdings []model.Holding, book *priceBook) []market.Coin {
	var missing []string
	for _, h := range holdings {
		if _, ok := book.byID[h.CoinID]; !ok {
			missing = append(missing, h.CoinID)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	coins, err := t.e.market.MarketData(ctx, missing)
	if err != nil {
		t.log.Warnf("held coin prices: %v", err)
	}
	var out []market.Coin
	for _, c := range coins {
		if _, dup := book.byID[c.ID]; dup || c.CurrentPrice <= 0 {
			continue
		}
		book.add(c)
		out = append(out, c)
	}
	return out
}

func (t *tickRun) failRound(round *model.Round, err error) Result {
	res := fail("Tick failed: " + err.Error())
	res.RoundID = round.ID
	return res
}

func (t *tickRun) newRound(ctx context.Context) (*model.Round, error) {
	r := &model.Round{
		StartBalance: t.policy.StartBalance,
		Status:       model.RoundActive,
		CreatedAt:    t.e.now().UnixMilli(),
	}
	if err := t.e.st.Rounds().Create(ctx, r); err != nil {
		return nil, err
	}
	t.log.Infof("round #%d started with %s %s", r.ID, ledger.Money(r.StartBalance), t.policy.Currency)
	return r, nil
}

// indicators fetches history for held coins first, then the top watched
// coins, capped at OHLCCoinLimit.
func (t *tickRun) indicators(ctx context.Context, holdings []model.Holding, watched []string) map[string]indicator.Indicators {
	ids := make([]string, 0, len(holdings)+len(watched))
	for _, h := range holdings {
		ids = append(ids, h.CoinID)
	}
	top := watched
	if len(top) > t.policy.OHLCCoinLimit {
		top = top[:t.policy.OHLCCoinLimit]
	}
	ids = uniqueIDs(append(ids, top...))
	if len(ids) > t.policy.OHLCCoinLimit {
		ids = ids[:t.policy.OHLCCoinLimit]
	}
	out := make(map[string]indicator.Indicators, len(ids))
	for _, id := range ids {
		candles, err := t.e.market.OHLC(ctx, id, t.policy.OHLCDays)
		if err != nil {
			t.log.Warnf("OHLC %s: %v", id, err)
			continue
		}
		out[id] = indicator.Compute(candles)
	}
	return out
}

func (t *tickRun) apply(ctx context.Context, round model.Round, d oracle.Decision, book *priceBook) {
	name := d.CoinName
	if name == "" {
		name = d.CoinID
	}
	if d.Action == oracle.ActionHold {
		t.add("HOLD %s: %s", name, d.Reasoning)
		return
	}
	coin, ok := book.lookup(d.CoinID)
	if !ok {
		coin, ok = t.quote(ctx, d.CoinID)
		if ok {
			book.add(coin)
		}
	}
	if !ok {
		t.add("skip %s %s: no price found", d.Action, d.CoinID)
		return
	}
	if coin.Name != "" {
		name = coin.Name
	}

	var (
		out trader.Outcome
		err error
	)
	switch d.Action {
	case oracle.ActionBuy:
		out, err = t.e.executor.Buy(ctx, trader.BuyRequest{
			Round: round, CoinID: coin.ID, CoinName: name,
			Amount: d.Amount, Price: coin.CurrentPrice, Reasoning: d.Reasoning,
			Prices: book.prices(),
		})
	case oracle.ActionSell:
		out, err = t.e.executor.Sell(ctx, trader.SellRequest{
			Round: round, CoinID: coin.ID, CoinName: name,
			Quantity: d.Amount, Price: coin.CurrentPrice, Reasoning: d.Reasoning,
			Prices: book.prices(),
		})
	}
	if err != nil {
		t.add("error %s %s: %v", d.Action, coin.ID, err)
		return
	}
	t.add("%s", out.Reason)
}

// terminate ends the round, writes its retrospective and opens the next one.
// It reports whether this tick ended the round.
func (t *tickRun) terminate(ctx context.Context, round model.Round, term Termination) bool {
	st := t.e.st
	ended, err := st.Rounds().End(ctx, round.ID, term.Status, t.e.now().UnixMilli())
	if err != nil {
		t.add("error ending round #%d: %v", round.ID, err)
		return false
	}
	if !ended {
		t.log.Warnf("round #%d was already closed", round.ID)
		return true
	}
	t.add("%s", term.Reason)

	if _, err := t.e.learner.Terminal(ctx, st, round, term.Analysis); err != nil {
		t.add("analysis error: %v", err)
	} else {
		t.add("%s analysis created", term.Analysis)
	}

	next, err := t.newRound(ctx)
	if err != nil {
		t.add("error starting next round: %v", err)
		return true
	}
	t.add("New round #%d started", next.ID)
	return true
}

func (t *tickRun) periodic(ctx context.Context, round model.Round) {
	due, err := t.e.learner.ShouldRunPeriodic(ctx, t.e.st, round, t.e.now())
	if err != nil {
		t.log.Warnf("periodic analysis check: %v", err)
		return
	}
	if !due {
		return
	}
	if _, err := t.e.learner.Periodic(ctx, t.e.st, round); err != nil {
		t.add("periodic analysis error: %v", err)
		return
	}
	t.add("periodic analysis created")
}
