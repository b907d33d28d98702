package pipeline

import "context"

// Analysis dimensions the ANALYZING stage fans out to.
const (
	KindTechnical   = "technical"
	KindSentiment   = "sentiment"
	KindFundamental = "fundamental"
)

// Finding is one collector's contribution to a synthesis run.
type Finding struct {
	Kind  string
	Agent string

	// Score is the normalized [0,1] contribution to the blend.
	Score float64

	// Narrative hints for the reasoning layer.
	Bias           string
	SentimentLabel string
	GrossMargin    float64

	// Data is the raw analysis, snapshotted into the report.
	Data map[string]any
}

// Collector produces one analysis dimension for a symbol. Implementations
// live with the agents; the orchestrator only sees this surface.
type Collector interface {
	Agent() string
	Kind() string
	Collect(ctx context.Context, symbol string) (Finding, error)
}
