// Package trader applies single buy and sell decisions to the simulated
// ledger of a round.
package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"papertrader/internal/gateway/notifier"
	"papertrader/internal/ledger"
	"papertrader/internal/logger"
	"papertrader/internal/store"
	"papertrader/internal/store/model"
)

const notifyTimeout = 30 * time.Second

// BuyRequest spends Amount (currency) on CoinID at Price.
type BuyRequest struct {
	Round     model.Round
	CoinID    string
	CoinName  string
	Amount    float64
	Price     float64
	Reasoning string
	// Prices marks the other holdings in the notification; optional.
	Prices map[string]float64
}

// SellRequest sells Quantity coins of CoinID at Price.
type SellRequest struct {
	Round     model.Round
	CoinID    string
	CoinName  string
	Quantity  float64
	Price     float64
	Reasoning string
	Prices    map[string]float64
}

// Outcome is the result of one trade attempt. Business-rule rejections are
// reported as Skipped with a Reason, never as errors.
type Outcome struct {
	Skipped     bool
	Reason      string
	Transaction *model.Transaction
}

func skip(format string, args ...any) Outcome {
	return Outcome{Skipped: true, Reason: fmt.Sprintf(format, args...)}
}

type Executor struct {
	st       store.Store
	notify   notifier.TextNotifier
	currency string

	mu    sync.RWMutex
	rules ledger.Rules

	now     func() time.Time
	pending sync.WaitGroup
}

func NewExecutor(st store.Store, rules ledger.Rules, notify notifier.TextNotifier, currency string) *Executor {
	if notify == nil {
		notify = notifier.Noop{}
	}
	return &Executor{st: st, notify: notify, currency: currency, rules: rules, now: time.Now}
}

// UpdateRules swaps the bookkeeping constants used by later trades.
func (e *Executor) UpdateRules(r ledger.Rules) {
	e.mu.Lock()
	e.rules = r
	e.mu.Unlock()
}

func (e *Executor) Rules() ledger.Rules {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules
}

// Wait blocks until every notification dispatched so far has finished.
func (e *Executor) Wait() { e.pending.Wait() }

// Buy clamps the amount to the cash derived right now, then records the trade.
func (e *Executor) Buy(ctx context.Context, req BuyRequest) (Outcome, error) {
	rules := e.Rules()
	name := displayName(req.CoinName, req.CoinID)
	if req.Price <= 0 {
		return skip("BUY %s skipped: no price", name), nil
	}
	if req.Amount < rules.MinTrade {
		return skip("BUY %s skipped: %s below minimum %s", name, ledger.Money(req.Amount), ledger.Money(rules.MinTrade)), nil
	}

	var out Outcome
	err := e.st.InTx(ctx, func(tx store.Store) error {
		cash, err := ledger.CurrentCash(ctx, tx, req.Round)
		if err != nil {
			return err
		}
		amount := req.Amount
		if amount+rules.Fee > cash {
			amount = cash - rules.Fee
			if amount < rules.MinTrade {
				out = skip("BUY %s skipped: insufficient cash (%s available)", name, ledger.Money(cash))
				return nil
			}
		}
		qty := ledger.Div(amount, req.Price)

		holding, err := tx.Holdings().Get(ctx, req.Round.ID, req.CoinID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			holding = &model.Holding{RoundID: req.Round.ID, CoinID: req.CoinID, CoinName: name}
		case err != nil:
			return err
		}
		holding.AvgBuyPrice = ledger.WeightedAverage(holding.Amount, holding.AvgBuyPrice, qty, req.Price)
		holding.Amount += qty
		if err := tx.Holdings().Save(ctx, holding); err != nil {
			return err
		}

		rec := &model.Transaction{
			RoundID:   req.Round.ID,
			Type:      model.TradeBuy,
			CoinID:    req.CoinID,
			CoinName:  name,
			Amount:    qty,
			Price:     req.Price,
			Total:     amount,
			Fee:       rules.Fee,
			Reasoning: req.Reasoning,
			CreatedAt: e.now().UnixMilli(),
		}
		if err := tx.Transactions().Insert(ctx, rec); err != nil {
			return err
		}
		out = Outcome{Transaction: rec}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("buy %s: %w", req.CoinID, err)
	}
	if out.Transaction != nil {
		out.Reason = fmt.Sprintf("BUY %s: %.6f @ %s = %s", name, out.Transaction.Amount, ledger.Money(req.Price), ledger.Money(out.Transaction.Total))
		logger.Infof("[trade] round %d %s", req.Round.ID, out.Reason)
		e.dispatch(ctx, req.Round, out.Transaction, req.Prices)
	}
	return out, nil
}

// Sell never oversells. A sell worth less than the minimum is rejected only
// when the whole position is worth at least the minimum, so small leftover
// positions can always be closed.
func (e *Executor) Sell(ctx context.Context, req SellRequest) (Outcome, error) {
	rules := e.Rules()
	name := displayName(req.CoinName, req.CoinID)
	if req.Price <= 0 {
		return skip("SELL %s skipped: no price", name), nil
	}
	if req.Quantity <= 0 {
		return skip("SELL %s skipped: invalid quantity", name), nil
	}

	var out Outcome
	err := e.st.InTx(ctx, func(tx store.Store) error {
		holding, err := tx.Holdings().Get(ctx, req.Round.ID, req.CoinID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && holding.Amount <= 0) {
			out = skip("SELL %s skipped: no holding", name)
			return nil
		}
		if err != nil {
			return err
		}
		if holding.CoinName != "" {
			name = holding.CoinName
		}

		qty := min(req.Quantity, holding.Amount)
		if holding.Amount-qty < rules.DustEpsilon {
			qty = holding.Amount
		}
		total := ledger.Mul(qty, req.Price)
		if total < rules.MinTrade && ledger.Mul(holding.Amount, req.Price) >= rules.MinTrade {
			out = skip("SELL %s skipped: %s below minimum %s", name, ledger.Money(total), ledger.Money(rules.MinTrade))
			return nil
		}

		profit := ledger.Profit(req.Price, holding.AvgBuyPrice, qty)
		tax := ledger.Tax(profit, rules.TaxRate)

		remaining := holding.Amount - qty
		if remaining < rules.DustEpsilon {
			err = tx.Holdings().Delete(ctx, req.Round.ID, req.CoinID)
		} else {
			holding.Amount = remaining
			err = tx.Holdings().Save(ctx, holding)
		}
		if err != nil {
			return err
		}

		rec := &model.Transaction{
			RoundID:   req.Round.ID,
			Type:      model.TradeSell,
			CoinID:    req.CoinID,
			CoinName:  name,
			Amount:    qty,
			Price:     req.Price,
			Total:     total,
			Fee:       rules.Fee,
			Tax:       tax,
			Profit:    &profit,
			Reasoning: req.Reasoning,
			CreatedAt: e.now().UnixMilli(),
		}
		if err := tx.Transactions().Insert(ctx, rec); err != nil {
			return err
		}
		out = Outcome{Transaction: rec}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("sell %s: %w", req.CoinID, err)
	}
	if t := out.Transaction; t != nil {
		out.Reason = fmt.Sprintf("SELL %s: %.6f @ %s = %s (P&L %s, tax %s)",
			name, t.Amount, ledger.Money(t.Price), ledger.Money(t.Total), ledger.Money(*t.Profit), ledger.Money(t.Tax))
		logger.Infof("[trade] round %d %s", req.Round.ID, out.Reason)
		e.dispatch(ctx, req.Round, t, req.Prices)
	}
	return out, nil
}

// dispatch renders the trade notification against the committed ledger and
// sends it in the background. Failures are logged and never reach the caller.
func (e *Executor) dispatch(ctx context.Context, round model.Round, t *model.Transaction, prices map[string]float64) {
	if _, off := e.notify.(notifier.Noop); off {
		return
	}
	marks := make(map[string]float64, len(prices)+1)
	for k, v := range prices {
		marks[k] = v
	}
	marks[t.CoinID] = t.Price
	v, err := ledger.Load(ctx, e.st, round, marks)
	if err != nil {
		logger.Warnf("trade notification: portfolio unavailable: %v", err)
		return
	}
	notice := notifier.TradeNotice{
		Side:       string(t.Type),
		CoinName:   t.CoinName,
		Quantity:   t.Amount,
		Price:      t.Price,
		Total:      t.Total,
		Currency:   e.currency,
		Reasoning:  t.Reasoning,
		Cash:       v.Cash,
		TotalValue: v.TotalValue,
	}
	if t.Type == model.TradeSell {
		notice.PnL = t.Profit
		notice.Tax = t.Tax
	}
	for _, p := range v.Positions {
		notice.Holdings = append(notice.Holdings, notifier.HoldingLine{CoinID: p.CoinID, Amount: p.Amount})
	}
	text := notice.RenderMarkdown()

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("trade notification panic: %v", r)
			}
		}()
		sendCtx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notify.SendText(sendCtx, text); err != nil {
			logger.Warnf("trade notification failed: %v", err)
		}
	}()
}

func displayName(name, id string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return id
}
