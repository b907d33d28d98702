// Package synth merges technical, fundamental, and sentiment findings into
// a single recommendation. Missing inputs are excluded and the remaining
// weights renormalized, so a failed upstream agent shifts emphasis instead
// of silently dragging the result toward HOLD.
package synth

import (
	"errors"
	"math"

	"github.com/tern-labs/swarmd/internal/schema"
)

var ErrNoInputs = errors.New("no synthesis inputs available")

// Weights is the blend across the three analysis dimensions. They are
// configuration; Blend renormalizes whatever subset is present.
type Weights struct {
	Technical   float64
	Fundamental float64
	Sentiment   float64
}

func DefaultWeights() Weights {
	return Weights{Technical: 0.4, Fundamental: 0.3, Sentiment: 0.3}
}

// Thresholds convert the blended score into an action.
type Thresholds struct {
	Buy  float64
	Sell float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Buy: 0.55, Sell: 0.45}
}

// Input is one normalized analysis score in [0,1]. OK marks availability;
// an agent that errored or timed out leaves its input unavailable.
type Input struct {
	Score float64
	OK    bool
}

type Inputs struct {
	Technical   Input
	Fundamental Input
	Sentiment   Input
}

// Result is the synthesized recommendation.
type Result struct {
	Score            float64
	Action           schema.Action
	Confidence       float64
	EffectiveWeights Weights
	Missing          []string
}

// Blend renormalizes weights over the available inputs, combines them, and
// maps the score through the thresholds. It errors only when every input is
// missing.
func Blend(in Inputs, w Weights, th Thresholds) (Result, error) {
	var total float64
	var missing []string

	if in.Technical.OK {
		total += w.Technical
	} else {
		missing = append(missing, "technical")
	}
	if in.Fundamental.OK {
		total += w.Fundamental
	} else {
		missing = append(missing, "fundamental")
	}
	if in.Sentiment.OK {
		total += w.Sentiment
	} else {
		missing = append(missing, "sentiment")
	}
	if total <= 0 {
		return Result{}, ErrNoInputs
	}

	var effective Weights
	var score float64
	if in.Technical.OK {
		effective.Technical = w.Technical / total
		score += effective.Technical * clamp01(in.Technical.Score)
	}
	if in.Fundamental.OK {
		effective.Fundamental = w.Fundamental / total
		score += effective.Fundamental * clamp01(in.Fundamental.Score)
	}
	if in.Sentiment.OK {
		effective.Sentiment = w.Sentiment / total
		score += effective.Sentiment * clamp01(in.Sentiment.Score)
	}

	action := schema.ActionHold
	switch {
	case score > th.Buy:
		action = schema.ActionBuy
	case score < th.Sell:
		action = schema.ActionSell
	}

	return Result{
		Score:            score,
		Action:           action,
		Confidence:       conviction(action, score),
		EffectiveWeights: effective,
		Missing:          missing,
	}, nil
}

// conviction maps the score onto [0,1] so it reads as strength of the
// chosen action rather than raw bullishness: a strong SELL has a low score
// but high conviction.
func conviction(action schema.Action, score float64) float64 {
	switch action {
	case schema.ActionBuy:
		return clamp01(score)
	case schema.ActionSell:
		return clamp01(1 - score)
	default:
		return clamp01(1 - 2*math.Abs(score-0.5))
	}
}

// TechnicalScore normalizes a technical bias and its confidence onto [0,1].
func TechnicalScore(bias string, confidence float64) float64 {
	confidence = clamp01(confidence)
	switch bias {
	case "bullish":
		return 0.5 + confidence/2
	case "bearish":
		return 0.5 - confidence/2
	default:
		return 0.5
	}
}

// FundamentalScore grades gross margin the way the ingestion pipeline does:
// above 50% is strong, below 30% is weak.
func FundamentalScore(grossMargin float64) float64 {
	switch {
	case grossMargin > 0.5:
		return 0.7
	case grossMargin < 0.3:
		return 0.3
	default:
		return 0.5
	}
}

// SentimentScore maps a [-1,1] sentiment reading onto [0,1].
func SentimentScore(sentiment float64) float64 {
	return clamp01(0.5 + sentiment/2)
}

// Targets derives a price target and stop loss from the action and score.
func Targets(action schema.Action, currentPrice, score float64) (priceTarget, stopLoss float64) {
	switch action {
	case schema.ActionBuy:
		return round2(currentPrice * (1 + score*0.12)), round2(currentPrice * 0.96)
	case schema.ActionSell:
		return round2(currentPrice * (1 - (1-score)*0.10)), round2(currentPrice * 1.04)
	default:
		return round2(currentPrice), round2(currentPrice * 0.95)
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
