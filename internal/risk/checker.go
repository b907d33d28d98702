package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/schema"
	"github.com/tern-labs/swarmd/internal/state"
)

// CheckedBy identifies the guardian on every verdict row.
const CheckedBy = "RiskGuardrail-R1"

// Checker evaluates signals and persists the verdict exactly once per
// signal. The store's unique constraint is the arbiter under concurrency.
type Checker struct {
	store *state.Store
	bus   *eventbus.Bus
	cfg   Config
	log   zerolog.Logger
}

func NewChecker(store *state.Store, bus *eventbus.Bus, cfg Config, log zerolog.Logger) *Checker {
	return &Checker{
		store: store,
		bus:   bus,
		cfg:   cfg,
		log:   log.With().Str("component", "risk").Logger(),
	}
}

// Check evaluates and records the verdict for a signal. A duplicate attempt
// (retry, concurrent caller) returns the verdict that already exists plus
// state.ErrDuplicateVerdict, which callers treat as informational.
func (c *Checker) Check(ctx context.Context, signal state.TradeSignal, portfolio PortfolioContext) (state.RiskVerdict, error) {
	assessment := Evaluate(signal, portfolio, c.cfg)

	verdict := state.RiskVerdict{
		SignalID:           signal.ID,
		Symbol:             signal.Symbol,
		Action:             signal.Action,
		OriginalConfidence: signal.Confidence,
		Approved:           assessment.Approved,
		Verdict:            assessment.Verdict,
		Warnings:           assessment.Warnings,
		CheckedBy:          CheckedBy,
	}

	if err := c.store.SaveVerdict(ctx, &verdict); err != nil {
		if errors.Is(err, state.ErrDuplicateVerdict) {
			c.log.Warn().Str("signal_id", signal.ID).Msg("duplicate verdict attempt ignored")
			existing, lookupErr := c.store.VerdictForSignal(ctx, signal.ID)
			if lookupErr != nil {
				return state.RiskVerdict{}, fmt.Errorf("load existing verdict: %w", lookupErr)
			}
			return existing, state.ErrDuplicateVerdict
		}
		return state.RiskVerdict{}, fmt.Errorf("save verdict: %w", err)
	}

	if _, err := c.bus.Publish(ctx, eventbus.Input{
		Type:        schema.EventRiskAlert,
		SourceAgent: CheckedBy,
		Symbol:      signal.Symbol,
		Payload: schema.RiskAlertPayload{
			SignalID:           signal.ID,
			Verdict:            verdict.Verdict,
			Approved:           verdict.Approved,
			Warnings:           verdict.Warnings,
			OriginalConfidence: signal.Confidence,
		},
	}); err != nil {
		// The verdict row is already durable; the alert is best effort.
		c.log.Warn().Err(err).Str("signal_id", signal.ID).Msg("publish risk alert failed")
	}

	c.log.Info().
		Str("signal_id", signal.ID).
		Str("symbol", signal.Symbol).
		Str("verdict", string(verdict.Verdict)).
		Strs("warnings", verdict.Warnings).
		Msg("risk check complete")
	return verdict, nil
}
