package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/pipeline"
	"github.com/tern-labs/swarmd/internal/quotes"
	"github.com/tern-labs/swarmd/internal/schema"
	"github.com/tern-labs/swarmd/internal/state"
	"github.com/tern-labs/swarmd/internal/synth"
)

const StrategistID = "Strategist-C1"

// indicatorSignal is one indicator's vote, kept in the analysis snapshot.
type indicatorSignal struct {
	Indicator string  `json:"indicator"`
	Signal    string  `json:"signal"`
	Value     float64 `json:"value"`
}

// TechnicalAnalysis is one full pass over a symbol's price window.
type TechnicalAnalysis struct {
	Symbol       string            `json:"symbol"`
	CurrentPrice float64           `json:"current_price"`
	RSI          float64           `json:"rsi"`
	SMA20        float64           `json:"sma_20,omitempty"`
	SMA50        float64           `json:"sma_50,omitempty"`
	MACD         MACDResult        `json:"macd"`
	Bollinger    [3]float64        `json:"bollinger"`
	Signals      []indicatorSignal `json:"signals"`
	Bias         string            `json:"bias"`
	Confidence   float64           `json:"confidence"`
}

// Analyst turns scout alerts into technical analysis. It watches the bus for
// price_spike and volume_anomaly events, queues their symbols, and each
// cycle analyzes the queue (or a default slice of the universe when quiet),
// handing results to the Strategist.
//
// It also serves as the research pipeline's technical collector.
type Analyst struct {
	bus      *eventbus.Bus
	store    *state.Store
	quotes   quotes.Service
	history  *PriceHistory
	symbols  []string
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	pending []string
}

func NewAnalyst(bus *eventbus.Bus, store *state.Store, quoteSvc quotes.Service, history *PriceHistory, symbols []string, interval time.Duration, log zerolog.Logger) *Analyst {
	return &Analyst{
		bus:      bus,
		store:    store,
		quotes:   quoteSvc,
		history:  history,
		symbols:  symbols,
		interval: interval,
		log:      log.With().Str("agent", AnalystID).Logger(),
	}
}

func (a *Analyst) ID() string              { return AnalystID }
func (a *Analyst) Role() schema.AgentRole  { return schema.RoleAnalyst }
func (a *Analyst) Interval() time.Duration { return a.interval }

// Watch subscribes to scout alerts until ctx is cancelled. Run it once on a
// dedicated goroutine alongside the cycle loop.
func (a *Analyst) Watch(ctx context.Context) {
	events := a.bus.Subscribe(ctx, eventbus.Filter{
		Types: []schema.EventType{schema.EventPriceSpike, schema.EventVolumeAnomaly},
	})
	for event := range events {
		if event.Symbol == "" {
			continue
		}
		a.queue(event.Symbol)
		a.log.Info().Str("symbol", event.Symbol).Str("via", string(event.Type)).Msg("queued for analysis")
	}
}

func (a *Analyst) queue(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.pending {
		if s == symbol {
			return
		}
	}
	a.pending = append(a.pending, symbol)
}

func (a *Analyst) drain() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pending
	a.pending = nil
	return out
}

func (a *Analyst) RunCycle(ctx context.Context) error {
	symbols := a.drain()
	if len(symbols) == 0 {
		// Quiet tape: keep a rolling baseline on the first few symbols.
		n := min(3, len(a.symbols))
		symbols = a.symbols[:n]
	}

	var firstErr error
	for _, symbol := range symbols {
		analysis, err := a.analyze(ctx, symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if _, err := a.bus.Publish(ctx, eventbus.Input{
			Type:        schema.EventTechnicalSignal,
			SourceAgent: AnalystID,
			TargetAgent: StrategistID,
			Symbol:      symbol,
			Payload:     analysis.payload(),
		}); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish technical signal: %w", err)
		}

		if err := a.store.PutContext(ctx, AnalystID, symbol, "technical_analysis", analysis.Map()); err != nil {
			a.log.Warn().Err(err).Str("symbol", symbol).Msg("store analysis context failed")
		}
	}
	return firstErr
}

// analyze computes the indicator suite over the symbol's observed price
// window, topping up the window from the live feed when it is thin.
func (a *Analyst) analyze(ctx context.Context, symbol string) (TechnicalAnalysis, error) {
	price, err := a.quotes.Price(ctx, symbol)
	if err != nil {
		return TechnicalAnalysis{}, fmt.Errorf("price %s: %w", symbol, err)
	}
	a.history.Append(symbol, price)
	prices := a.history.Snapshot(symbol)
	current := prices[len(prices)-1]

	analysis := TechnicalAnalysis{
		Symbol:       symbol,
		CurrentPrice: current,
		RSI:          RSI(prices, rsiPeriod),
	}

	switch {
	case analysis.RSI > 70:
		analysis.Signals = append(analysis.Signals, indicatorSignal{"RSI", "OVERBOUGHT", analysis.RSI})
	case analysis.RSI < 30:
		analysis.Signals = append(analysis.Signals, indicatorSignal{"RSI", "OVERSOLD", analysis.RSI})
	default:
		analysis.Signals = append(analysis.Signals, indicatorSignal{"RSI", "NEUTRAL", analysis.RSI})
	}

	sma20, ok20 := SMA(prices, 20)
	sma50, ok50 := SMA(prices, 50)
	if ok20 && ok50 {
		analysis.SMA20, analysis.SMA50 = sma20, sma50
		if sma20 > sma50 {
			analysis.Signals = append(analysis.Signals, indicatorSignal{"SMA_CROSS", "GOLDEN_CROSS", round2(sma20 - sma50)})
		} else {
			analysis.Signals = append(analysis.Signals, indicatorSignal{"SMA_CROSS", "DEATH_CROSS", round2(sma20 - sma50)})
		}
	}

	if macd, ok := MACD(prices); ok {
		analysis.MACD = macd
		direction := "BULLISH"
		if macd.Histogram <= 0 {
			direction = "BEARISH"
		}
		analysis.Signals = append(analysis.Signals, indicatorSignal{"MACD", direction, macd.Histogram})
	}

	if upper, middle, lower, ok := Bollinger(prices, bollingerPeriod); ok {
		analysis.Bollinger = [3]float64{upper, middle, lower}
		if current > upper {
			analysis.Signals = append(analysis.Signals, indicatorSignal{"BOLLINGER", "ABOVE_UPPER", current})
		} else if current < lower {
			analysis.Signals = append(analysis.Signals, indicatorSignal{"BOLLINGER", "BELOW_LOWER", current})
		}
	}

	analysis.Bias, analysis.Confidence = classify(analysis.Signals)
	return analysis, nil
}

// classify tallies bullish versus bearish indicator votes.
func classify(signals []indicatorSignal) (string, float64) {
	bullishSignals := map[string]bool{"OVERSOLD": true, "GOLDEN_CROSS": true, "BULLISH": true, "BELOW_LOWER": true}
	bearishSignals := map[string]bool{"OVERBOUGHT": true, "DEATH_CROSS": true, "BEARISH": true, "ABOVE_UPPER": true}

	var bullish, bearish int
	for _, s := range signals {
		if bullishSignals[s.Signal] {
			bullish++
		}
		if bearishSignals[s.Signal] {
			bearish++
		}
	}
	total := max(len(signals), 1)
	confidence := round2(float64(max(bullish, bearish)) / float64(total))
	switch {
	case bullish > bearish:
		return "bullish", confidence
	case bearish > bullish:
		return "bearish", confidence
	default:
		return "neutral", confidence
	}
}

func (t TechnicalAnalysis) payload() schema.TechnicalSignalPayload {
	return schema.TechnicalSignalPayload{
		CurrentPrice: t.CurrentPrice,
		RSI:          t.RSI,
		SMA20:        t.SMA20,
		SMA50:        t.SMA50,
		MACDLine:     t.MACD.Line,
		MACDSignal:   t.MACD.Signal,
		Bollinger: &schema.BollingerBand{
			Upper:  t.Bollinger[0],
			Middle: t.Bollinger[1],
			Lower:  t.Bollinger[2],
		},
		Bias:       t.Bias,
		Confidence: t.Confidence,
	}
}

func (t TechnicalAnalysis) Map() map[string]any {
	return map[string]any{
		"symbol":        t.Symbol,
		"current_price": t.CurrentPrice,
		"rsi":           t.RSI,
		"sma_20":        t.SMA20,
		"sma_50":        t.SMA50,
		"macd_line":     t.MACD.Line,
		"macd_signal":   t.MACD.Signal,
		"macd_hist":     t.MACD.Histogram,
		"boll_upper":    t.Bollinger[0],
		"boll_middle":   t.Bollinger[1],
		"boll_lower":    t.Bollinger[2],
		"bias":          t.Bias,
		"confidence":    t.Confidence,
	}
}

// Kind and Collect make the Analyst the pipeline's technical collector.
func (a *Analyst) Kind() string { return pipeline.KindTechnical }

func (a *Analyst) Agent() string { return AnalystID }

func (a *Analyst) Collect(ctx context.Context, symbol string) (pipeline.Finding, error) {
	analysis, err := a.analyze(ctx, symbol)
	if err != nil {
		return pipeline.Finding{}, err
	}
	return pipeline.Finding{
		Kind:  pipeline.KindTechnical,
		Agent: AnalystID,
		Score: synth.TechnicalScore(analysis.Bias, analysis.Confidence),
		Bias:  analysis.Bias,
		Data:  analysis.Map(),
	}, nil
}
