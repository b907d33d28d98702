package agents

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/pipeline"
	"github.com/tern-labs/swarmd/internal/schema"
)

// Strategist is the decision point of the swarm. It watches the bus for
// technical and sentiment hand-offs and, each cycle, runs a full research
// request through the pipeline for every symbol with fresh intelligence.
type Strategist struct {
	bus          *eventbus.Bus
	orchestrator *pipeline.Orchestrator
	interval     time.Duration
	log          zerolog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewStrategist(bus *eventbus.Bus, orchestrator *pipeline.Orchestrator, interval time.Duration, log zerolog.Logger) *Strategist {
	return &Strategist{
		bus:          bus,
		orchestrator: orchestrator,
		interval:     interval,
		log:          log.With().Str("agent", StrategistID).Logger(),
		pending:      map[string]struct{}{},
	}
}

func (s *Strategist) ID() string              { return StrategistID }
func (s *Strategist) Role() schema.AgentRole  { return schema.RoleStrategist }
func (s *Strategist) Interval() time.Duration { return s.interval }

// Watch subscribes to upstream hand-offs until ctx is cancelled. Run it once
// on a dedicated goroutine alongside the cycle loop.
func (s *Strategist) Watch(ctx context.Context) {
	events := s.bus.Subscribe(ctx, eventbus.Filter{
		Types: []schema.EventType{
			schema.EventTechnicalSignal,
			schema.EventSentimentShift,
			schema.EventNewsAlert,
		},
	})
	for event := range events {
		if event.Symbol == "" {
			continue
		}
		s.mu.Lock()
		s.pending[event.Symbol] = struct{}{}
		s.mu.Unlock()
	}
}

func (s *Strategist) RunCycle(ctx context.Context) error {
	symbols := s.drain()
	if len(symbols) == 0 {
		return nil
	}

	var firstErr error
	for _, symbol := range symbols {
		result, err := s.orchestrator.Analyze(ctx, symbol)
		if err != nil {
			if pipeline.IsStale(err) {
				continue
			}
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("research request failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.log.Info().
			Str("symbol", symbol).
			Str("action", string(result.Signal.Action)).
			Str("verdict", string(result.Verdict.Verdict)).
			Msg("recommendation issued")
	}
	return firstErr
}

func (s *Strategist) drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for symbol := range s.pending {
		out = append(out, symbol)
	}
	s.pending = map[string]struct{}{}
	return out
}
