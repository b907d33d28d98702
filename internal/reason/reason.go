// Package reason produces the qualitative reasoning text attached to trade
// signals. The numeric decision (action, confidence) is always computed by
// the synthesis blend; this package only narrates it.
package reason

import (
	"context"
	"fmt"
	"strings"
)

// Request carries everything the narrator may cite.
type Request struct {
	Symbol         string
	Action         string
	Score          float64
	TechnicalBias  string
	SentimentLabel string
	GrossMargin    float64
	MissingInputs  []string
}

// Client turns a synthesis result into reasoning text.
type Client interface {
	Reason(ctx context.Context, req Request) (string, error)
}

// RuleBased composes deterministic reasoning without any external service.
// It is the fallback when no LLM key is configured, and the error fallback
// when the LLM call fails.
type RuleBased struct{}

func NewRuleBased() *RuleBased {
	return &RuleBased{}
}

func (r *RuleBased) Reason(_ context.Context, req Request) (string, error) {
	parts := []string{
		fmt.Sprintf("Technical bias is %s", orUnknown(req.TechnicalBias)),
		fmt.Sprintf("sentiment reads %s", orUnknown(req.SentimentLabel)),
	}
	if req.GrossMargin > 0 {
		parts = append(parts, fmt.Sprintf("gross margin at %.1f%%", req.GrossMargin*100))
	}
	text := fmt.Sprintf("%s. Combined conviction of %.0f%% favors %s on %s.",
		strings.Join(parts, ", "), req.Score*100, req.Action, req.Symbol)
	if len(req.MissingInputs) > 0 {
		text += fmt.Sprintf(" Note: %s unavailable this run; remaining inputs were reweighted.",
			strings.Join(req.MissingInputs, ", "))
	}
	return text, nil
}

func orUnknown(v string) string {
	if v == "" {
		return "neutral"
	}
	return v
}
