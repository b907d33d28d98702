package agents

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/pipeline"
	"github.com/tern-labs/swarmd/internal/schema"
	"github.com/tern-labs/swarmd/internal/state"
	"github.com/tern-labs/swarmd/internal/synth"
)

const NewsHoundID = "NewsHound-N1"

const sentimentShiftThreshold = 0.35

// NewsHound scans headline flow per symbol and publishes sentiment readings.
// A reading past the shift threshold goes out as sentiment_shift; everything
// else as news_alert, so the Strategist can weigh both.
//
// It also serves as the research pipeline's sentiment collector.
type NewsHound struct {
	bus       *eventbus.Bus
	store     *state.Store
	headlines HeadlineProvider
	symbols   []string
	interval  time.Duration
	log       zerolog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	history map[string][]float64
}

func NewNewsHound(bus *eventbus.Bus, store *state.Store, headlines HeadlineProvider, symbols []string, interval time.Duration, log zerolog.Logger) *NewsHound {
	return &NewsHound{
		bus:       bus,
		store:     store,
		headlines: headlines,
		symbols:   symbols,
		interval:  interval,
		log:       log.With().Str("agent", NewsHoundID).Logger(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		history:   map[string][]float64{},
	}
}

func (n *NewsHound) ID() string              { return NewsHoundID }
func (n *NewsHound) Role() schema.AgentRole  { return schema.RoleNewsHound }
func (n *NewsHound) Interval() time.Duration { return n.interval }

func (n *NewsHound) RunCycle(ctx context.Context) error {
	batch := n.sampleSymbols(4)
	var firstErr error
	for _, symbol := range batch {
		if _, err := n.scan(ctx, symbol, true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// scan fetches headlines, aggregates sentiment, and (when publish is set)
// pushes the reading to the bus and context store.
func (n *NewsHound) scan(ctx context.Context, symbol string, publish bool) (schema.SentimentPayload, error) {
	headlines, err := n.headlines.Headlines(ctx, symbol)
	if err != nil {
		return schema.SentimentPayload{}, fmt.Errorf("headlines %s: %w", symbol, err)
	}

	score := AggregateSentiment(headlines)
	n.recordScore(symbol, score)

	top := make([]string, 0, 3)
	for _, h := range headlines {
		top = append(top, h.Text)
		if len(top) == 3 {
			break
		}
	}
	payload := schema.SentimentPayload{
		SentimentScore:   score,
		SentimentLabel:   SentimentLabel(score),
		ArticlesAnalyzed: len(headlines),
		TopHeadlines:     top,
	}
	if !publish {
		return payload, nil
	}

	eventType := schema.EventNewsAlert
	if math.Abs(score) >= sentimentShiftThreshold {
		eventType = schema.EventSentimentShift
	}
	if _, err := n.bus.Publish(ctx, eventbus.Input{
		Type:        eventType,
		SourceAgent: NewsHoundID,
		TargetAgent: StrategistID,
		Symbol:      symbol,
		Payload:     payload,
	}); err != nil {
		return payload, fmt.Errorf("publish sentiment: %w", err)
	}

	err = n.store.PutContext(ctx, NewsHoundID, symbol, "news_sentiment", map[string]any{
		"sentiment_score":   payload.SentimentScore,
		"sentiment_label":   payload.SentimentLabel,
		"articles_analyzed": payload.ArticlesAnalyzed,
		"top_headlines":     payload.TopHeadlines,
	})
	if err != nil {
		n.log.Warn().Err(err).Str("symbol", symbol).Msg("store sentiment context failed")
	}
	return payload, nil
}

func (n *NewsHound) sampleSymbols(limit int) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.symbols) <= limit {
		return n.symbols
	}
	picks := n.rng.Perm(len(n.symbols))[:limit]
	out := make([]string, 0, limit)
	for _, i := range picks {
		out = append(out, n.symbols[i])
	}
	return out
}

func (n *NewsHound) recordScore(symbol string, score float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h := append(n.history[symbol], score)
	if len(h) > 30 {
		h = h[len(h)-30:]
	}
	n.history[symbol] = h
}

// Kind and Collect make the NewsHound the pipeline's sentiment collector.
func (n *NewsHound) Kind() string { return pipeline.KindSentiment }

func (n *NewsHound) Agent() string { return NewsHoundID }

func (n *NewsHound) Collect(ctx context.Context, symbol string) (pipeline.Finding, error) {
	payload, err := n.scan(ctx, symbol, false)
	if err != nil {
		return pipeline.Finding{}, err
	}
	return pipeline.Finding{
		Kind:           pipeline.KindSentiment,
		Agent:          NewsHoundID,
		Score:          synth.SentimentScore(payload.SentimentScore),
		SentimentLabel: payload.SentimentLabel,
		Data: map[string]any{
			"sentiment_score":   payload.SentimentScore,
			"sentiment_label":   payload.SentimentLabel,
			"articles_analyzed": payload.ArticlesAnalyzed,
			"top_headlines":     payload.TopHeadlines,
		},
	}, nil
}
