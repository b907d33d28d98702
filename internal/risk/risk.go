// Package risk gates trade signals behind the portfolio risk policy.
package risk

import (
	"math"

	"github.com/tern-labs/swarmd/internal/schema"
	"github.com/tern-labs/swarmd/internal/state"
)

// Config holds the policy thresholds. Defaults mirror a conservative
// exposure guardian: no single position above a quarter of the portfolio,
// no active signal below 40% conviction.
type Config struct {
	MaxPositionPct float64
	MinConfidence  float64
}

func DefaultConfig() Config {
	return Config{
		MaxPositionPct: 0.25,
		MinConfidence:  0.4,
	}
}

// PortfolioContext is the slice of portfolio state the policy needs.
type PortfolioContext struct {
	PortfolioValue         float64
	ProjectedPositionValue float64
}

// ProjectedPositionPct is the fraction of the portfolio the signal's
// position would occupy if executed.
func (p PortfolioContext) ProjectedPositionPct() float64 {
	if p.PortfolioValue <= 0 {
		return 0
	}
	return p.ProjectedPositionValue / p.PortfolioValue
}

// Assessment is the outcome of one policy evaluation.
type Assessment struct {
	Verdict  schema.Verdict
	Approved bool
	Warnings []string
}

// Warning messages. Rejection warnings are fixed strings; flag warnings
// compose.
const (
	WarnLowConfidence  = "confidence below threshold"
	WarnPositionSize   = "position size exceeds limit"
	WarnNoStopLoss     = "stop loss not set"
	WarnWideTargetGap  = "price target more than 25% from current price"
	targetGapTolerance = 0.25
)

// Evaluate classifies a signal against the policy. It is a pure function;
// rules apply in precedence order and the first rejection wins, so exactly
// one of REJECTED, FLAGGED, APPROVED applies per evaluation.
func Evaluate(signal state.TradeSignal, portfolio PortfolioContext, cfg Config) Assessment {
	if signal.Confidence < cfg.MinConfidence {
		return Assessment{Verdict: schema.VerdictRejected, Warnings: []string{WarnLowConfidence}}
	}
	if portfolio.ProjectedPositionPct() > cfg.MaxPositionPct {
		return Assessment{Verdict: schema.VerdictRejected, Warnings: []string{WarnPositionSize}}
	}

	var warnings []string
	if signal.Action != schema.ActionHold && signal.StopLoss == 0 {
		warnings = append(warnings, WarnNoStopLoss)
	}
	if signal.PriceTarget > 0 && signal.CurrentPrice > 0 {
		gap := math.Abs(signal.PriceTarget-signal.CurrentPrice) / signal.CurrentPrice
		if gap > targetGapTolerance {
			warnings = append(warnings, WarnWideTargetGap)
		}
	}
	if len(warnings) > 0 {
		return Assessment{Verdict: schema.VerdictFlagged, Approved: true, Warnings: warnings}
	}
	return Assessment{Verdict: schema.VerdictApproved, Approved: true, Warnings: []string{}}
}
