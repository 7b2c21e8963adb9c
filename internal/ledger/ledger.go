// Package ledger derives cash and portfolio value from the transaction log.
// Cash is never stored: it is folded from the round's transactions on every
// read so it cannot drift from the audit trail.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"papertrader/internal/store"
	"papertrader/internal/store/model"

	"github.com/shopspring/decimal"
)

// Rules are the bookkeeping constants applied to every trade.
type Rules struct {
	Fee         float64
	TaxRate     float64
	MinTrade    float64
	DustEpsilon float64
}

// Position is one holding marked to market.
type Position struct {
	CoinID      string  `json:"coinId"`
	CoinName    string  `json:"coinName"`
	Amount      float64 `json:"amount"`
	AvgBuyPrice float64 `json:"avgBuyPrice"`
	Price       float64 `json:"price"`
	Priced      bool    `json:"priced"`
	Value       float64 `json:"value"`
	PnL         float64 `json:"pnl"`
	PnLPercent  float64 `json:"pnlPercent"`
}

// Valuation is the portfolio state of one round at one instant.
type Valuation struct {
	RoundID       int64      `json:"roundId"`
	StartBalance  float64    `json:"startBalance"`
	Cash          float64    `json:"cash"`
	HoldingsValue float64    `json:"holdingsValue"`
	TotalValue    float64    `json:"totalValue"`
	PnL           float64    `json:"pnl"`
	PnLPercent    float64    `json:"pnlPercent"`
	Positions     []Position `json:"positions"`
}

// AllPriced reports whether every position had a market price.
func (v Valuation) AllPriced() bool {
	for _, p := range v.Positions {
		if !p.Priced {
			return false
		}
	}
	return true
}

// Cash folds txs over start: buys subtract total+fee, sells add total-fee-tax.
func Cash(start float64, txs []model.Transaction) float64 {
	cash := decimal.NewFromFloat(start)
	for _, tx := range txs {
		total := decimal.NewFromFloat(tx.Total)
		fee := decimal.NewFromFloat(tx.Fee)
		switch tx.Type {
		case model.TradeBuy:
			cash = cash.Sub(total.Add(fee))
		case model.TradeSell:
			cash = cash.Add(total.Sub(fee).Sub(decimal.NewFromFloat(tx.Tax)))
		}
	}
	f, _ := cash.Float64()
	return f
}

// Value marks holdings to prices, falling back to the average buy price for
// coins without a quote.
func Value(round model.Round, txs []model.Transaction, holdings []model.Holding, prices map[string]float64) Valuation {
	cash := Cash(round.StartBalance, txs)
	holdingsValue := decimal.Zero
	positions := make([]Position, 0, len(holdings))
	for _, h := range holdings {
		price, ok := prices[h.CoinID]
		priced := ok && price > 0
		if !priced {
			price = h.AvgBuyPrice
		}
		amount := decimal.NewFromFloat(h.Amount)
		value := amount.Mul(decimal.NewFromFloat(price))
		cost := amount.Mul(decimal.NewFromFloat(h.AvgBuyPrice))
		pnl := value.Sub(cost)
		holdingsValue = holdingsValue.Add(value)
		positions = append(positions, Position{
			CoinID:      h.CoinID,
			CoinName:    h.CoinName,
			Amount:      h.Amount,
			AvgBuyPrice: h.AvgBuyPrice,
			Price:       price,
			Priced:      priced,
			Value:       toFloat(value),
			PnL:         toFloat(pnl),
			PnLPercent:  percent(pnl, cost),
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Value > positions[j].Value })
	total := decimal.NewFromFloat(cash).Add(holdingsValue)
	start := decimal.NewFromFloat(round.StartBalance)
	pnl := total.Sub(start)
	return Valuation{
		RoundID:       round.ID,
		StartBalance:  round.StartBalance,
		Cash:          cash,
		HoldingsValue: toFloat(holdingsValue),
		TotalValue:    toFloat(total),
		PnL:           toFloat(pnl),
		PnLPercent:    percent(pnl, start),
		Positions:     positions,
	}
}

// Load reads the round's transactions and holdings from st and values them.
func Load(ctx context.Context, st store.Store, round model.Round, prices map[string]float64) (Valuation, error) {
	txs, err := st.Transactions().ListByRound(ctx, round.ID)
	if err != nil {
		return Valuation{}, fmt.Errorf("load transactions: %w", err)
	}
	holdings, err := st.Holdings().List(ctx, round.ID)
	if err != nil {
		return Valuation{}, fmt.Errorf("load holdings: %w", err)
	}
	return Value(round, txs, holdings, prices), nil
}

// CurrentCash derives the round's cash straight from the store.
func CurrentCash(ctx context.Context, st store.Store, round model.Round) (float64, error) {
	txs, err := st.Transactions().ListByRound(ctx, round.ID)
	if err != nil {
		return 0, fmt.Errorf("load transactions: %w", err)
	}
	return Cash(round.StartBalance, txs), nil
}

// WeightedAverage is the cost basis after adding addQty at price to a
// position of qty at avg.
func WeightedAverage(qty, avg, addQty, price float64) float64 {
	q := decimal.NewFromFloat(qty)
	a := decimal.NewFromFloat(addQty)
	sum := q.Add(a)
	if sum.IsZero() {
		return 0
	}
	cost := q.Mul(decimal.NewFromFloat(avg)).Add(a.Mul(decimal.NewFromFloat(price)))
	return toFloat(cost.Div(sum))
}

// Profit is the realized gain of selling qty at price against avg.
func Profit(price, avg, qty float64) float64 {
	return toFloat(decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(avg)).Mul(decimal.NewFromFloat(qty)))
}

// Tax applies rate to positive profit only. Losses are neither taxed nor offset.
func Tax(profit, rate float64) float64 {
	if profit <= 0 {
		return 0
	}
	return toFloat(decimal.NewFromFloat(profit).Mul(decimal.NewFromFloat(rate)))
}

// Mul multiplies through decimal to keep trade totals exact at cent scale.
func Mul(a, b float64) float64 {
	return toFloat(decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(b)))
}

// Div returns a/b, or 0 when b is zero.
func Div(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return toFloat(decimal.NewFromFloat(a).Div(decimal.NewFromFloat(b)))
}

// Money renders v with two decimals.
func Money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func percent(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	return toFloat(part.Div(whole).Mul(decimal.NewFromInt(100)))
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
