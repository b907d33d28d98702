package readmodel

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/registry"
	"github.com/tern-labs/swarmd/internal/schema"
	"github.com/tern-labs/swarmd/internal/state"
	"github.com/tern-labs/swarmd/internal/testutil"
)

func newViews(t *testing.T) (*Views, *eventbus.Bus, *state.Store, *registry.Registry, func()) {
	t.Helper()
	db, closeFn := testutil.OpenTestDB(t)
	bus := eventbus.NewBus(db, zerolog.Nop())
	store := state.NewStore(db)
	reg := registry.New(bus, zerolog.Nop())
	return New(bus, store, reg), bus, store, reg, closeFn
}

func saveSignal(t *testing.T, store *state.Store, symbol string, action schema.Action) state.TradeSignal {
	t.Helper()
	signal := state.TradeSignal{
		Symbol:     symbol,
		Action:     action,
		Confidence: 0.7,
	}
	if err := store.SaveSignal(context.Background(), &signal); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}
	return signal
}

func saveVerdict(t *testing.T, store *state.Store, signal state.TradeSignal, verdict schema.Verdict) {
	t.Helper()
	v := state.RiskVerdict{
		SignalID:  signal.ID,
		Symbol:    signal.Symbol,
		Action:    signal.Action,
		Approved:  verdict.Approved(),
		Verdict:   verdict,
		CheckedBy: "RiskGuardrail-R1",
	}
	if err := store.SaveVerdict(context.Background(), &v); err != nil {
		t.Fatalf("SaveVerdict: %v", err)
	}
}

func TestActionableHidesUnvettedAndRejected(t *testing.T) {
	views, _, store, _, closeFn := newViews(t)
	defer closeFn()
	ctx := context.Background()

	approved := saveSignal(t, store, "AAPL", schema.ActionBuy)
	saveVerdict(t, store, approved, schema.VerdictApproved)

	flagged := saveSignal(t, store, "NVDA", schema.ActionBuy)
	saveVerdict(t, store, flagged, schema.VerdictFlagged)

	rejected := saveSignal(t, store, "TSLA", schema.ActionSell)
	saveVerdict(t, store, rejected, schema.VerdictRejected)

	saveSignal(t, store, "MSFT", schema.ActionHold) // no verdict yet

	actionable, err := views.Actionable(ctx, 0)
	if err != nil {
		t.Fatalf("Actionable: %v", err)
	}
	if len(actionable) != 2 {
		t.Fatalf("got %d actionable signals, want 2", len(actionable))
	}
	for _, s := range actionable {
		if s.Symbol == "TSLA" || s.Symbol == "MSFT" {
			t.Fatalf("%s should be hidden from the actionable view", s.Symbol)
		}
		if s.Verdict == nil {
			t.Fatalf("actionable signal %s missing its verdict", s.Symbol)
		}
	}
}

func TestDashboardSnapshot(t *testing.T) {
	views, bus, store, reg, closeFn := newViews(t)
	defer closeFn()
	ctx := context.Background()

	if err := reg.Register(ctx, registry.Descriptor{ID: "Scout-S1", Role: schema.RoleScout}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	signal := saveSignal(t, store, "AAPL", schema.ActionBuy)
	saveVerdict(t, store, signal, schema.VerdictApproved)

	for i := 0; i < 2; i++ {
		_, err := bus.Publish(ctx, eventbus.Input{
			Type:        schema.EventPriceSpike,
			SourceAgent: "Scout-S1",
			Symbol:      "AAPL",
			Payload:     schema.PriceSpikePayload{CurrentPrice: 180, ChangePct: 2.1, Direction: "up"},
		})
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	dash, err := views.Dashboard(ctx)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if len(dash.Signals) != 1 {
		t.Fatalf("got %d signals, want 1", len(dash.Signals))
	}
	if len(dash.Actionable) != 1 {
		t.Fatalf("got %d actionable signals, want 1", len(dash.Actionable))
	}
	if dash.RiskSummary.Checked != 1 || dash.RiskSummary.Approved != 1 {
		t.Fatalf("risk summary = %+v, want 1 checked, 1 approved", dash.RiskSummary)
	}
	if dash.EventCounts[schema.EventPriceSpike] < 2 {
		t.Fatalf("event counts = %v, want at least 2 price spikes", dash.EventCounts)
	}

	var scout *AgentSummary
	for i := range dash.Agents {
		if dash.Agents[i].ID == "Scout-S1" {
			scout = &dash.Agents[i]
		}
	}
	if scout == nil {
		t.Fatal("registered agent missing from dashboard")
	}
	if scout.EventsLastHour < 2 {
		t.Fatalf("scout events last hour = %d, want at least 2", scout.EventsLastHour)
	}
}
