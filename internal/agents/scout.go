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
	"github.com/tern-labs/swarmd/internal/quotes"
	"github.com/tern-labs/swarmd/internal/schema"
	"github.com/tern-labs/swarmd/internal/state"
)

const (
	ScoutID   = "Scout-S1"
	AnalystID = "Analyst-A1"

	priceSpikeThreshold   = 0.02
	highAlertThreshold    = 0.04
	volumeSpikeMultiplier = 1.5
)

// Scout is the swarm's first line: it samples live prices across every
// tracked symbol and raises price_spike and volume_anomaly events for the
// Analyst to pick up.
type Scout struct {
	bus      *eventbus.Bus
	store    *state.Store
	quotes   quotes.Service
	history  *PriceHistory
	symbols  []string
	interval time.Duration
	log      zerolog.Logger

	mu         sync.Mutex
	rng        *rand.Rand
	avgVolumes map[string]float64
}

func NewScout(bus *eventbus.Bus, store *state.Store, quoteSvc quotes.Service, symbols []string, interval time.Duration, log zerolog.Logger) *Scout {
	avg := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		avg[s] = 10 // millions of shares, baseline until real volume data lands
	}
	return &Scout{
		bus:        bus,
		store:      store,
		quotes:     quoteSvc,
		history:    NewPriceHistory(),
		symbols:    symbols,
		interval:   interval,
		log:        log.With().Str("agent", ScoutID).Logger(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		avgVolumes: avg,
	}
}

func (s *Scout) ID() string              { return ScoutID }
func (s *Scout) Role() schema.AgentRole  { return schema.RoleScout }
func (s *Scout) Interval() time.Duration { return s.interval }

// History exposes the scout's price window so the Analyst can analyze real
// observed prices instead of resampling.
func (s *Scout) History() *PriceHistory { return s.history }

func (s *Scout) RunCycle(ctx context.Context) error {
	var firstErr error
	for _, symbol := range s.symbols {
		price, err := s.quotes.Price(ctx, symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("price %s: %w", symbol, err)
			}
			continue
		}
		s.history.Append(symbol, price)

		if err := s.checkPriceSpike(ctx, symbol, price); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.checkVolumeAnomaly(ctx, symbol); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scout) checkPriceSpike(ctx context.Context, symbol string, current float64) error {
	series := s.history.Snapshot(symbol)
	if len(series) < 3 {
		return nil
	}
	prev := series[len(series)-3]
	if prev == 0 {
		return nil
	}
	changePct := (current - prev) / prev
	if math.Abs(changePct) < priceSpikeThreshold {
		return nil
	}

	direction := "up"
	if changePct < 0 {
		direction = "down"
	}
	alertLevel := "medium"
	if math.Abs(changePct) > highAlertThreshold {
		alertLevel = "high"
	}
	s.log.Info().Str("symbol", symbol).Float64("change_pct", changePct*100).Str("direction", direction).Msg("price spike detected")

	recent := series
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	if _, err := s.bus.Publish(ctx, eventbus.Input{
		Type:        schema.EventPriceSpike,
		SourceAgent: ScoutID,
		TargetAgent: AnalystID,
		Symbol:      symbol,
		Payload: schema.PriceSpikePayload{
			CurrentPrice: current,
			ChangePct:    round2(changePct * 100),
			Direction:    direction,
			RecentPrices: recent,
			AlertLevel:   alertLevel,
		},
	}); err != nil {
		return fmt.Errorf("publish price spike: %w", err)
	}

	err := s.store.PutContext(ctx, ScoutID, symbol, "price_spike", map[string]any{
		"price":      current,
		"change_pct": round2(changePct * 100),
		"direction":  direction,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("store spike context failed")
	}
	return nil
}

// checkVolumeAnomaly compares a sampled volume against the rolling baseline.
// Without a real volume feed the sample is drawn around the baseline, which
// still exercises the anomaly path end to end.
func (s *Scout) checkVolumeAnomaly(ctx context.Context, symbol string) error {
	s.mu.Lock()
	avg := s.avgVolumes[symbol]
	current := avg * (0.6 + s.rng.Float64()*1.6)
	s.mu.Unlock()
	if avg == 0 || current <= avg*volumeSpikeMultiplier {
		return nil
	}

	s.log.Info().Str("symbol", symbol).Float64("volume", current).Float64("avg", avg).Msg("volume anomaly")
	_, err := s.bus.Publish(ctx, eventbus.Input{
		Type:        schema.EventVolumeAnomaly,
		SourceAgent: ScoutID,
		TargetAgent: AnalystID,
		Symbol:      symbol,
		Payload: schema.VolumeAnomalyPayload{
			CurrentVolume: round2(current),
			AverageVolume: round2(avg),
			SpikeRatio:    round2(current / avg),
		},
	})
	if err != nil {
		return fmt.Errorf("publish volume anomaly: %w", err)
	}
	return nil
}
