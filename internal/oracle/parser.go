package oracle

import (
	"fmt"
	"strconv"
	"strings"

	"papertrader/internal/pkg/jsonutil"
	"papertrader/internal/pkg/text"

	"github.com/tidwall/gjson"
)

// ParseDecisions is the trust boundary for decision responses. Only the JSON
// payload is trusted to exist; every field is checked and coerced.
func ParseDecisions(raw string) (ParseResult, error) {
	var out ParseResult
	block, ok := jsonutil.ExtractJSON(raw)
	if !ok || !gjson.Valid(block) {
		return out, fmt.Errorf("%w: no JSON object in response %q", ErrUnparseable, text.Truncate(raw, 200))
	}
	out.RawJSON = block
	if err := validateAgainst(decisionEnvelope, block); err != nil {
		return out, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	list := decisionList(raw, block, &out)

	var candidates []Decision
	list.ForEach(func(_, node gjson.Result) bool {
		d, ok := decodeDecision(node)
		if !ok {
			out.Dropped++
			return true
		}
		candidates = append(candidates, d)
		return true
	})
	out.Decisions = dropMixedHolds(candidates, &out.Dropped)
	return out, nil
}

// decisionList accepts the documented envelope, a bare array of decisions
// or a single decision object.
func decisionList(raw, block string, out *ParseResult) gjson.Result {
	parsed := gjson.Parse(block)
	if !parsed.IsObject() {
		return parsed
	}
	if list := parsed.Get("decisions"); list.Exists() {
		out.MarketAnalysis = strings.TrimSpace(parsed.Get("marketAnalysis").String())
		return list
	}
	if !parsed.Get("action").Exists() {
		return gjson.Result{}
	}
	if arr, ok := jsonutil.ExtractArray(raw); ok && gjson.Valid(arr) {
		if first := gjson.Parse(arr).Get("0.action"); first.Exists() {
			out.RawJSON = arr
			return gjson.Parse(arr)
		}
	}
	return gjson.Parse("[" + block + "]")
}

func decodeDecision(node gjson.Result) (Decision, bool) {
	action, ok := parseAction(node.Get("action").String())
	if !ok {
		return Decision{}, false
	}
	coinID := firstString(node, "coinId", "coin_id", "coin")
	if coinID == "" {
		return Decision{}, false
	}
	return Decision{
		Action:    action,
		CoinID:    coinID,
		CoinName:  firstString(node, "coinName", "coin_name", "name"),
		Amount:    coerceFloat(node.Get("amount")),
		Reasoning: strings.TrimSpace(node.Get("reasoning").String()),
	}, true
}

// dropMixedHolds keeps a hold only when it is the sole decision.
func dropMixedHolds(in []Decision, dropped *int) []Decision {
	if len(in) <= 1 {
		return in
	}
	out := make([]Decision, 0, len(in))
	for _, d := range in {
		if d.Action == ActionHold {
			*dropped++
			continue
		}
		out = append(out, d)
	}
	return out
}

// ParseAnalysis extracts and schema-checks a retrospective payload.
func ParseAnalysis(raw string) (RoundAnalysis, error) {
	block, ok := jsonutil.ExtractJSON(raw)
	if !ok || !gjson.Valid(block) {
		return RoundAnalysis{}, fmt.Errorf("%w: no JSON object in analysis", ErrUnparseable)
	}
	if err := validateAgainst(analysisPayload, block); err != nil {
		return RoundAnalysis{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	parsed := gjson.Parse(block)
	return RoundAnalysis{
		Summary:    strings.TrimSpace(parsed.Get("summary").String()),
		Lessons:    stringList(parsed.Get("lessons")),
		Mistakes:   stringList(parsed.Get("mistakes")),
		Strategies: stringList(parsed.Get("strategies")),
	}, nil
}

// Helper functions

func firstString(node gjson.Result, keys ...string) string {
	for _, k := range keys {
		v := node.Get(k)
		if v.Type == gjson.String || v.Type == gjson.Number {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// coerceFloat accepts numbers and numeric strings such as "50", "€50" or "0.5 BTC".
func coerceFloat(v gjson.Result) float64 {
	switch v.Type {
	case gjson.Number:
		return v.Float()
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		s = strings.TrimLeft(s, "€$ ")
		if i := strings.IndexByte(s, ' '); i > 0 {
			s = s[:i]
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}

func stringList(v gjson.Result) []string {
	out := make([]string, 0)
	v.ForEach(func(_, item gjson.Result) bool {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}
