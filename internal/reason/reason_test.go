package reason

import (
	"context"
	"strings"
	"testing"
)

func TestRuleBasedNarration(t *testing.T) {
	text, err := NewRuleBased().Reason(context.Background(), Request{
		Symbol:         "AAPL",
		Action:         "BUY",
		Score:          0.71,
		TechnicalBias:  "bullish",
		SentimentLabel: "positive",
		GrossMargin:    0.448,
	})
	if err != nil {
		t.Fatalf("Reason: %v", err)
	}
	for _, want := range []string{"bullish", "positive", "44.8%", "71%", "BUY", "AAPL"} {
		if !strings.Contains(text, want) {
			t.Fatalf("narration %q missing %q", text, want)
		}
	}
	if strings.Contains(text, "reweighted") {
		t.Fatalf("narration %q mentions reweighting with no missing inputs", text)
	}
}

func TestRuleBasedNotesMissingInputs(t *testing.T) {
	text, err := NewRuleBased().Reason(context.Background(), Request{
		Symbol:        "NVDA",
		Action:        "HOLD",
		Score:         0.52,
		MissingInputs: []string{"sentiment"},
	})
	if err != nil {
		t.Fatalf("Reason: %v", err)
	}
	if !strings.Contains(text, "sentiment unavailable") {
		t.Fatalf("narration %q should note the missing input", text)
	}
	if !strings.Contains(text, "neutral") {
		t.Fatalf("narration %q should default empty dimensions to neutral", text)
	}
}
