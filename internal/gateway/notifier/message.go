package notifier

import (
	"fmt"
	"strings"

	"papertrader/internal/pkg/text"

	"github.com/shopspring/decimal"
)

const maxMessageLen = 3800

// HoldingLine is one entry of the compact holdings footer.
type HoldingLine struct {
	CoinID string
	Amount float64
}

// TradeNotice describes an executed trade and the portfolio right after it.
type TradeNotice struct {
	Side       string
	CoinName   string
	Quantity   float64
	Price      float64
	Total      float64
	Currency   string
	PnL        *float64
	Tax        float64
	Reasoning  string
	Cash       float64
	TotalValue float64
	Holdings   []HoldingLine
}

// RenderMarkdown renders the notice for Telegram's Markdown mode, trimmed to
// the message size limit.
func (n TradeNotice) RenderMarkdown() string {
	var b strings.Builder
	icon := "🟢 BUY"
	if strings.EqualFold(n.Side, "sell") {
		icon = "🔴 SELL"
	}
	cur := n.Currency
	fmt.Fprintf(&b, "%s %s\n", icon, sanitize(n.CoinName))
	fmt.Fprintf(&b, "%s @ %s %s = %s %s\n",
		decimal.NewFromFloat(n.Quantity).StringFixed(6), money(n.Price), cur, money(n.Total), cur)
	if n.PnL != nil {
		sign := ""
		if *n.PnL >= 0 {
			sign = "+"
		}
		fmt.Fprintf(&b, "%s%s %s P&L", sign, money(*n.PnL), cur)
		if n.Tax > 0 {
			fmt.Fprintf(&b, " · %s %s tax", money(n.Tax), cur)
		}
		b.WriteString("\n")
	}
	if r := strings.TrimSpace(n.Reasoning); r != "" {
		b.WriteString(sanitize(r) + "\n")
	}
	fmt.Fprintf(&b, "\n💼 Cash: %s %s | Total: %s %s", money(n.Cash), cur, money(n.TotalValue), cur)
	if len(n.Holdings) > 0 {
		parts := make([]string, 0, len(n.Holdings))
		for _, h := range n.Holdings {
			code := strings.ToUpper(h.CoinID)
			if len(code) > 4 {
				code = code[:4]
			}
			parts = append(parts, code+" "+decimal.NewFromFloat(h.Amount).StringFixed(4))
		}
		b.WriteString("\n" + strings.Join(parts, " · "))
	}
	body := strings.TrimSpace(b.String())
	body = text.Truncate(body, maxMessageLen)
	return body
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// sanitize strips characters that break Telegram's legacy Markdown parser.
func sanitize(s string) string {
	return strings.NewReplacer("```", "'''", "*", "", "_", " ", "`", "'").Replace(s)
}
