package oracle

import (
	"errors"
	"strings"
)

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

func parseAction(s string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionBuy:
		return ActionBuy, true
	case ActionSell:
		return ActionSell, true
	case ActionHold:
		return ActionHold, true
	default:
		return "", false
	}
}

// Decision is one validated instruction from the model. Amount is a currency
// amount for buys and a coin quantity for sells.
type Decision struct {
	Action    Action  `json:"action"`
	CoinID    string  `json:"coinId"`
	CoinName  string  `json:"coinName"`
	Amount    float64 `json:"amount"`
	Reasoning string  `json:"reasoning"`
}

// ParseResult is the usable part of a decision response.
type ParseResult struct {
	Decisions      []Decision `json:"decisions"`
	MarketAnalysis string     `json:"marketAnalysis"`
	// Dropped counts entries discarded for missing or unknown fields.
	Dropped int    `json:"dropped"`
	Model   string `json:"model"`
	RawJSON string `json:"-"`
}

// RoundAnalysis is a retrospective produced for a round or a window of it.
type RoundAnalysis struct {
	Summary    string   `json:"summary"`
	Lessons    []string `json:"lessons"`
	Mistakes   []string `json:"mistakes"`
	Strategies []string `json:"strategies"`
}

var (
	// ErrUnparseable marks a response without a usable JSON payload.
	ErrUnparseable = errors.New("oracle returned unparseable output")
	// ErrAllModelsFailed is returned when every configured model errored.
	ErrAllModelsFailed = errors.New("all AI models failed")
)
