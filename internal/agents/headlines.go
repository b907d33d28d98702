package agents

import (
	"context"
	"math"
	"math/rand"
	"sync"
)

// Headline is one scored news item. Sentiment is in [-1, 1].
type Headline struct {
	Text      string  `json:"headline"`
	Source    string  `json:"source"`
	Sentiment float64 `json:"sentiment"`
}

// HeadlineProvider supplies recent headlines for a symbol.
type HeadlineProvider interface {
	Headlines(ctx context.Context, symbol string) ([]Headline, error)
}

var newsSources = []string{"Reuters", "Bloomberg", "CNBC", "WSJ", "MarketWatch"}

type scoredHeadline struct {
	text  string
	score float64
}

var simulatedHeadlines = map[string][]scoredHeadline{
	"AAPL": {
		{"Apple reports record Q1 revenue, beats estimates", 0.72},
		{"Apple delays mixed-reality headset to late 2026", -0.31},
		{"Warren Buffett increases Apple stake by 12%", 0.65},
		{"Apple supply chain faces disruption in Asia", -0.45},
		{"Apple Intelligence drives iPhone upgrade cycle", 0.55},
	},
	"NVDA": {
		{"NVIDIA Blackwell GPUs see unprecedented demand", 0.85},
		{"NVIDIA warns of export control headwinds", -0.40},
		{"Major cloud providers triple NVIDIA orders for 2026", 0.78},
		{"NVIDIA faces antitrust scrutiny in the EU", -0.35},
		{"NVIDIA partners with Tesla on autonomous compute", 0.60},
	},
	"MSFT": {
		{"Microsoft Azure growth accelerates to 34% YoY", 0.68},
		{"Microsoft faces FTC probe over AI bundling", -0.38},
		{"Copilot adoption surpasses 100M monthly users", 0.72},
		{"Microsoft gaming division reports declining revenue", -0.28},
	},
	"TSLA": {
		{"Tesla Full Self-Driving approved in 5 new states", 0.75},
		{"Tesla recalls 200K vehicles over software bug", -0.52},
		{"Tesla Cybertruck demand exceeds production capacity", 0.48},
		{"Elon Musk's tweets cause stock volatility", -0.30},
	},
	"GOOGL": {
		{"Google Gemini 2.5 benchmarks outperform GPT-5", 0.65},
		{"DOJ pushes for Chrome divestiture", -0.55},
		{"YouTube ad revenue hits $12B quarterly record", 0.58},
	},
	"META": {
		{"Meta AI assistant reaches 500M weekly users", 0.70},
		{"EU fines Meta €1.2B for data practices", -0.48},
		{"Instagram Reels overtakes TikTok in engagement", 0.62},
	},
}

var defaultHeadlines = []scoredHeadline{
	{"Sector shows resilience amid macro uncertainty", 0.15},
	{"Analysts upgrade stock to Outperform", 0.42},
	{"Company misses earnings expectations by 3%", -0.35},
	{"New product launch receives positive reviews", 0.38},
}

// SimulatedHeadlines draws from a per-symbol pool of scored headlines with
// light score jitter, so the swarm runs end to end without a news feed.
type SimulatedHeadlines struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedHeadlines(seed int64) *SimulatedHeadlines {
	return &SimulatedHeadlines{rng: rand.New(rand.NewSource(seed))}
}

func (s *SimulatedHeadlines) Headlines(_ context.Context, symbol string) ([]Headline, error) {
	pool, ok := simulatedHeadlines[symbol]
	if !ok {
		pool = defaultHeadlines
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	count := 2 + s.rng.Intn(min(3, len(pool)-1))
	picks := s.rng.Perm(len(pool))[:count]

	out := make([]Headline, 0, count)
	for _, i := range picks {
		out = append(out, Headline{
			Text:      pool[i].text,
			Source:    newsSources[s.rng.Intn(len(newsSources))],
			Sentiment: pool[i].score + (s.rng.Float64()-0.5)*0.2,
		})
	}
	return out, nil
}

// AggregateSentiment averages headline scores; no headlines reads neutral.
func AggregateSentiment(headlines []Headline) float64 {
	if len(headlines) == 0 {
		return 0
	}
	var sum float64
	for _, h := range headlines {
		sum += h.Sentiment
	}
	return round3(sum / float64(len(headlines)))
}

// SentimentLabel buckets a [-1,1] score into the labels the dashboard shows.
func SentimentLabel(score float64) string {
	switch {
	case score > 0.3:
		return "very_bullish"
	case score > 0.1:
		return "bullish"
	case score < -0.3:
		return "very_bearish"
	case score < -0.1:
		return "bearish"
	default:
		return "neutral"
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
