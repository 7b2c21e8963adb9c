package engine

import (
	"fmt"
	"time"

	"papertrader/internal/ledger"
	"papertrader/internal/store/model"
)

// Termination is the lifecycle transition chosen for a round.
type Termination struct {
	Status   model.RoundStatus
	Analysis model.AnalysisType
	Reason   string
}

// Evaluate picks at most one transition, in the order expired, busted,
// completed. A bust needs a market price for every held coin so a pricing
// gap cannot end a round.
func Evaluate(p Policy, round model.Round, v ledger.Valuation, now time.Time) (Termination, bool) {
	if p.MaxRoundDuration > 0 && round.Age(now) >= p.MaxRoundDuration {
		return Termination{
			Status:   model.RoundExpired,
			Analysis: model.AnalysisFinal,
			Reason:   fmt.Sprintf("EXPIRED! Round #%d ran %s, total value %s", round.ID, p.MaxRoundDuration, ledger.Money(v.TotalValue)),
		}, true
	}
	if v.TotalValue < p.BustThreshold && v.AllPriced() {
		return Termination{
			Status:   model.RoundBusted,
			Analysis: model.AnalysisBust,
			Reason:   fmt.Sprintf("BUST! Total value %s below %s", ledger.Money(v.TotalValue), ledger.Money(p.BustThreshold)),
		}, true
	}
	if p.TargetMultiplier > 0 && v.TotalValue >= round.StartBalance*p.TargetMultiplier {
		return Termination{
			Status:   model.RoundCompleted,
			Analysis: model.AnalysisFinal,
			Reason:   fmt.Sprintf("TARGET! Total value %s reached %.2gx the start balance", ledger.Money(v.TotalValue), p.TargetMultiplier),
		}, true
	}
	return Termination{}, false
}
