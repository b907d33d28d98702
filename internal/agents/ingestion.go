package agents

import (
	"context"
	"fmt"
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

const IngestionID = "Ingestion-I1"

// Ingestion parses filing summaries into the context store so Synthesis can
// merge fundamentals with technicals. It runs on the slowest cadence in the
// swarm since filings barely move intraday.
//
// It also serves as the research pipeline's fundamental collector.
type Ingestion struct {
	bus      *eventbus.Bus
	store    *state.Store
	filings  FilingProvider
	symbols  []string
	interval time.Duration
	log      zerolog.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	cache map[string]Filing
}

func NewIngestion(bus *eventbus.Bus, store *state.Store, filings FilingProvider, symbols []string, interval time.Duration, log zerolog.Logger) *Ingestion {
	return &Ingestion{
		bus:      bus,
		store:    store,
		filings:  filings,
		symbols:  symbols,
		interval: interval,
		log:      log.With().Str("agent", IngestionID).Logger(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:    map[string]Filing{},
	}
}

func (i *Ingestion) ID() string              { return IngestionID }
func (i *Ingestion) Role() schema.AgentRole  { return schema.RoleIngestion }
func (i *Ingestion) Interval() time.Duration { return i.interval }

func (i *Ingestion) RunCycle(ctx context.Context) error {
	batch := i.sampleSymbols(2)
	var firstErr error
	for _, symbol := range batch {
		filing, err := i.ingest(ctx, symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if _, err := i.bus.Publish(ctx, eventbus.Input{
			Type:        schema.EventAgentHandoff,
			SourceAgent: IngestionID,
			TargetAgent: SynthesisID,
			Symbol:      symbol,
			Payload: schema.HandoffPayload{
				Stage: "FUNDAMENTALS",
				Note:  fmt.Sprintf("10-K ingested, gross margin %.1f%%", filing.GrossMargin*100),
			},
		}); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish filing handoff: %w", err)
		}
	}
	return firstErr
}

// ingest fetches, caches, and stores the latest filing for a symbol.
func (i *Ingestion) ingest(ctx context.Context, symbol string) (Filing, error) {
	filing, err := i.filings.LatestFiling(ctx, symbol)
	if err != nil {
		return Filing{}, fmt.Errorf("filing %s: %w", symbol, err)
	}

	i.mu.Lock()
	i.cache[symbol] = filing
	i.mu.Unlock()

	if err := i.store.PutContext(ctx, IngestionID, symbol, "fundamental_data", filing.Map()); err != nil {
		i.log.Warn().Err(err).Str("symbol", symbol).Msg("store filing context failed")
	}
	return filing, nil
}

// Cached returns the last ingested filing for a symbol, if any.
func (i *Ingestion) Cached(symbol string) (Filing, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	filing, ok := i.cache[symbol]
	return filing, ok
}

func (i *Ingestion) sampleSymbols(limit int) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.symbols) <= limit {
		return i.symbols
	}
	picks := i.rng.Perm(len(i.symbols))[:limit]
	out := make([]string, 0, limit)
	for _, idx := range picks {
		out = append(out, i.symbols[idx])
	}
	return out
}

// Kind and Collect make Ingestion the pipeline's fundamental collector.
// Collect serves from cache when possible so on-demand research does not
// refetch filings.
func (i *Ingestion) Kind() string { return pipeline.KindFundamental }

func (i *Ingestion) Agent() string { return IngestionID }

func (i *Ingestion) Collect(ctx context.Context, symbol string) (pipeline.Finding, error) {
	filing, ok := i.Cached(symbol)
	if !ok {
		var err error
		filing, err = i.ingest(ctx, symbol)
		if err != nil {
			return pipeline.Finding{}, err
		}
	}
	return pipeline.Finding{
		Kind:        pipeline.KindFundamental,
		Agent:       IngestionID,
		Score:       synth.FundamentalScore(filing.GrossMargin),
		GrossMargin: filing.GrossMargin,
		Data:        filing.Map(),
	}, nil
}
