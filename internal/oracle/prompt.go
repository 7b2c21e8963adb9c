package oracle

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"papertrader/internal/analysis/indicator"
	"papertrader/internal/ledger"
	"papertrader/internal/market"
	"papertrader/internal/store/model"
)

const maxPromptHeadlines = 5

// DecisionInput is everything the model sees for one tick.
type DecisionInput struct {
	Currency   string
	Rules      ledger.Rules
	Portfolio  ledger.Valuation
	Market     []market.Coin
	Indicators map[string]indicator.Indicators
	Sentiment  market.Sentiment
	Lessons    []string
	Trending   []string
	RoundAge   time.Duration
	RoundLimit time.Duration
}

// AnalysisInput is the history a retrospective is written from.
type AnalysisInput struct {
	Kind         model.AnalysisType
	Currency     string
	StartBalance float64
	FinalValue   float64
	Window       time.Duration
	Transactions []model.Transaction
	Snapshots    []model.Snapshot
	Lessons      []string
}

func decisionSystemPrompt(in DecisionInput) string {
	var sb strings.Builder
	sb.WriteString("You are an experienced crypto trader managing a simulated paper-trading portfolio.\n")
	sb.WriteString("Rules:\n")
	fmt.Fprintf(&sb, "- Starting capital: %s %s per round\n", ledger.Money(in.Portfolio.StartBalance), in.Currency)
	fmt.Fprintf(&sb, "- Transaction fee: %s %s per trade\n", ledger.Money(in.Rules.Fee), in.Currency)
	fmt.Fprintf(&sb, "- %.1f%% tax on realized gains\n", in.Rules.TaxRate*100)
	fmt.Fprintf(&sb, "- Minimum trade: %s %s\n", ledger.Money(in.Rules.MinTrade), in.Currency)
	sb.WriteString("- Goal: grow the capital and avoid a total loss\n")
	sb.WriteString("- Besides the standard coins, currently trending coins are tradable (marked TRENDING). They can offer short-term chances but are more volatile.\n")
	if len(in.Lessons) > 0 {
		sb.WriteString("\nLessons from earlier analyses, newest first. [LATEST] has the highest priority; when lessons conflict, the newer one wins.\n")
		for i, l := range in.Lessons {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, l)
		}
	}
	sb.WriteString(`
Answer ONLY with valid JSON in this format:
{
  "decisions": [
    {"action": "buy"|"sell"|"hold", "coinId": "bitcoin", "coinName": "Bitcoin", "amount": 50, "reasoning": "..."}
  ],
  "marketAnalysis": "short market assessment"
}
`)
	fmt.Fprintf(&sb, "For \"buy\": amount = %s amount to invest\n", in.Currency)
	sb.WriteString("For \"sell\": amount = number of coins to sell\n")
	sb.WriteString("For \"hold\": amount = 0\n\n")
	sb.WriteString("You may return several decisions or a single \"hold\".")
	return sb.String()
}

func decisionUserPrompt(in DecisionInput) string {
	var sb strings.Builder
	p := in.Portfolio
	cur := in.Currency

	sb.WriteString("## Portfolio\n")
	fmt.Fprintf(&sb, "Cash: %s %s\n", ledger.Money(p.Cash), cur)
	fmt.Fprintf(&sb, "Total value: %s %s\n", ledger.Money(p.TotalValue), cur)
	fmt.Fprintf(&sb, "P&L: %s %s (%.1f%%)\n", ledger.Money(p.PnL), cur, p.PnLPercent)
	if in.RoundLimit > 0 {
		fmt.Fprintf(&sb, "Round age: %s of %s\n", formatAge(in.RoundAge), formatAge(in.RoundLimit))
	}

	sb.WriteString("\n### Holdings\n")
	if len(p.Positions) == 0 {
		sb.WriteString("No holdings\n")
	}
	for _, pos := range p.Positions {
		fmt.Fprintf(&sb, "- %s (%s): %.6f @ avg %s (now: %s, P&L: %s)\n",
			pos.CoinName, pos.CoinID, pos.Amount, ledger.Money(pos.AvgBuyPrice), ledger.Money(pos.Price), ledger.Money(pos.PnL))
	}

	trending := make(map[string]bool, len(in.Trending))
	for _, id := range in.Trending {
		trending[id] = true
	}
	sb.WriteString("\n## Market data\n")
	for _, c := range in.Market {
		flag := ""
		if trending[c.ID] {
			flag = "TRENDING "
		}
		fmt.Fprintf(&sb, "- %s%s (%s, id=%s): %s %s | 24h: %.1f%% | Vol: %.1fM %s\n",
			flag, c.Name, strings.ToUpper(c.Symbol), c.ID, ledger.Money(c.CurrentPrice), cur, c.PriceChange24h, c.TotalVolume/1e6, cur)
	}

	if len(in.Indicators) > 0 {
		sb.WriteString("\n## Technical indicators\n")
		ids := make([]string, 0, len(in.Indicators))
		for id := range in.Indicators {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			writeIndicators(&sb, id, in.Indicators[id])
		}
	}

	sb.WriteString("\n## Sentiment\n")
	if fg := in.Sentiment.FearGreed; fg != nil {
		fmt.Fprintf(&sb, "Fear & Greed: %d (%s)\n", fg.Value, fg.Classification)
	} else {
		sb.WriteString("Fear & Greed: N/A\n")
	}
	names := make([]string, 0, len(in.Sentiment.Trending))
	for _, t := range in.Sentiment.Trending {
		names = append(names, t.Name)
	}
	fmt.Fprintf(&sb, "Trending: %s\n", orNA(strings.Join(names, ", ")))
	headlines := in.Sentiment.Headlines
	if len(headlines) > maxPromptHeadlines {
		headlines = headlines[:maxPromptHeadlines]
	}
	fmt.Fprintf(&sb, "News: %s", orNA(strings.Join(headlines, " | ")))
	return sb.String()
}

func writeIndicators(sb *strings.Builder, id string, ind indicator.Indicators) {
	fmt.Fprintf(sb, "### %s\n", id)
	fmt.Fprintf(sb, "RSI: %s | SMA20: %s | SMA50: %s | EMA12: %s | EMA26: %s\n",
		fmtPtr(ind.RSI, 1), fmtPtr(ind.SMA20, 2), fmtPtr(ind.SMA50, 2), fmtPtr(ind.EMA12, 2), fmtPtr(ind.EMA26, 2))
	if m := ind.MACD; m != nil {
		fmt.Fprintf(sb, "MACD: %.2f (Signal: %.2f, Hist: %.2f)\n", m.MACD, m.Signal, m.Histogram)
	} else {
		sb.WriteString("MACD: N/A\n")
	}
	if b := ind.Bollinger; b != nil {
		fmt.Fprintf(sb, "Bollinger: Upper: %.2f | Mid: %.2f | Lower: %.2f\n", b.Upper, b.Middle, b.Lower)
	} else {
		sb.WriteString("Bollinger: N/A\n")
	}
}

var analysisFraming = map[model.AnalysisType]string{
	model.AnalysisPeriodic: "Analyse the last %s of a running crypto paper-trading round. The round continues afterwards, so focus on what to adjust now.",
	model.AnalysisBust:     "Analyse a crypto paper-trading round that went bust. Explain why the capital was lost.",
	model.AnalysisFinal:    "Analyse a finished crypto paper-trading round (time limit or target reached).",
}

func analysisSystemPrompt(in AnalysisInput) string {
	framing, ok := analysisFraming[in.Kind]
	if !ok {
		framing = analysisFraming[model.AnalysisFinal]
	}
	if in.Kind == model.AnalysisPeriodic {
		framing = fmt.Sprintf(framing, formatAge(in.Window))
	}
	return "You are a trading analyst. " + framing + `
Write a thorough analysis.

Answer ONLY with valid JSON:
{
  "summary": "summary of the round (2-3 sentences)",
  "lessons": ["lesson 1", "lesson 2"],
  "mistakes": ["mistake 1", "mistake 2"],
  "strategies": ["strategy 1", "strategy 2"]
}`
}

// RoundStats is the numeric header of an analysis prompt.
type RoundStats struct {
	Trades          int
	Buys            int
	Sells           int
	ProfitableSells int
	PnL             float64
	PnLPercent      float64
}

// WinRate is the share of profitable sells in percent, 0 without sells.
func (s RoundStats) WinRate() float64 {
	if s.Sells == 0 {
		return 0
	}
	return float64(s.ProfitableSells) / float64(s.Sells) * 100
}

func Stats(in AnalysisInput) RoundStats {
	st := RoundStats{Trades: len(in.Transactions)}
	for _, tx := range in.Transactions {
		switch tx.Type {
		case model.TradeBuy:
			st.Buys++
		case model.TradeSell:
			st.Sells++
			if tx.Profit != nil && *tx.Profit > 0 {
				st.ProfitableSells++
			}
		}
	}
	st.PnL = in.FinalValue - in.StartBalance
	if in.StartBalance != 0 {
		st.PnLPercent = st.PnL / in.StartBalance * 100
	}
	return st
}

func analysisUserPrompt(in AnalysisInput) string {
	var sb strings.Builder
	st := Stats(in)
	cur := in.Currency
	sb.WriteString("## Round statistics\n")
	fmt.Fprintf(&sb, "Starting capital: %s %s\n", ledger.Money(in.StartBalance), cur)
	fmt.Fprintf(&sb, "Final value: %s %s\n", ledger.Money(in.FinalValue), cur)
	fmt.Fprintf(&sb, "P&L: %s %s (%.1f%%)\n", ledger.Money(st.PnL), cur, st.PnLPercent)
	fmt.Fprintf(&sb, "Trades: %d (%d buys, %d sells)\n", st.Trades, st.Buys, st.Sells)
	fmt.Fprintf(&sb, "Win rate: %.0f%%\n", st.WinRate())
	if n := len(in.Snapshots); n > 0 {
		lo, hi := in.Snapshots[0].TotalValue, in.Snapshots[0].TotalValue
		for _, s := range in.Snapshots[1:] {
			lo = min(lo, s.TotalValue)
			hi = max(hi, s.TotalValue)
		}
		fmt.Fprintf(&sb, "Value range: %s - %s %s over %d snapshots\n", ledger.Money(lo), ledger.Money(hi), cur, n)
	}

	sb.WriteString("\n## Transactions\n")
	if len(in.Transactions) == 0 {
		sb.WriteString("None\n")
	}
	for _, tx := range in.Transactions {
		line := fmt.Sprintf("- %s %s: %s %s", strings.ToUpper(string(tx.Type)), tx.CoinName, ledger.Money(tx.Total), cur)
		if tx.Profit != nil {
			line += fmt.Sprintf(" (P&L: %s %s)", ledger.Money(*tx.Profit), cur)
		}
		if r := strings.TrimSpace(tx.Reasoning); r != "" {
			line += ": " + r
		}
		sb.WriteString(line + "\n")
	}
	if len(in.Lessons) > 0 {
		sb.WriteString("\n## Earlier lessons\n")
		sb.WriteString(strings.Join(in.Lessons, "\n"))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Helper functions

func fmtPtr(v *float64, prec int) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.*f", prec, *v)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func formatAge(d time.Duration) string {
	if d <= 0 {
		return "0h"
	}
	days := int(d / (24 * time.Hour))
	hours := int((d % (24 * time.Hour)) / time.Hour)
	if days == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dd%dh", days, hours)
}
