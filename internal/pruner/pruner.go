// Package pruner enforces event-log and context retention. Trade signals,
// reports, and risk verdicts are the audit trail and are never pruned.
package pruner

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/state"
)

// Pruner deletes events and context entries strictly older than the
// retention window, on a fixed interval. A failed sweep is logged and
// retried next interval; it never stops the loop.
type Pruner struct {
	bus      *eventbus.Bus
	store    *state.Store
	maxAge   time.Duration
	interval time.Duration
	log      zerolog.Logger

	nowFn func() time.Time
}

func New(bus *eventbus.Bus, store *state.Store, maxAge, interval time.Duration, log zerolog.Logger) *Pruner {
	return &Pruner{
		bus:      bus,
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		log:      log.With().Str("component", "pruner").Logger(),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately, then on every interval until ctx is
// cancelled.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep prunes both stores once. Idempotent: a second sweep at the same
// cutoff removes nothing.
func (p *Pruner) Sweep(ctx context.Context) (events, contexts int64) {
	cutoff := p.nowFn().Add(-p.maxAge)

	events, err := p.bus.Prune(ctx, cutoff)
	if err != nil {
		p.log.Warn().Err(err).Time("cutoff", cutoff).Msg("event prune failed")
	}
	contexts, err = p.store.PruneContext(ctx, cutoff)
	if err != nil {
		p.log.Warn().Err(err).Time("cutoff", cutoff).Msg("context prune failed")
	}

	if events > 0 || contexts > 0 {
		p.log.Info().Int64("events", events).Int64("contexts", contexts).Time("cutoff", cutoff).Msg("retention sweep")
	}
	return events, contexts
}
