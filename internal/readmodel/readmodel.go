// Package readmodel assembles the dashboard views. Every snapshot is built
// fresh from the stores at query time; nothing here is cached or mutated
// after assembly.
package readmodel

import (
	"context"
	"time"

	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/registry"
	"github.com/tern-labs/swarmd/internal/schema"
	"github.com/tern-labs/swarmd/internal/state"
)

const (
	signalLimit = 20
	eventLimit  = 50
	reportLimit = 10

	agentActivityWindow = time.Hour
	eventSummaryWindow  = 24 * time.Hour
)

// AgentSummary is one agent's registry snapshot plus its recent bus
// activity.
type AgentSummary struct {
	registry.AgentStatus
	EventsLastHour int `json:"events_last_hour"`
}

// Dashboard is the full landing-page snapshot.
type Dashboard struct {
	GeneratedAt  time.Time                 `json:"generated_at"`
	Agents       []AgentSummary            `json:"agents"`
	Signals      []state.SignalWithVerdict `json:"signals"`
	Actionable   []state.SignalWithVerdict `json:"actionable_signals"`
	Reports      []state.Report            `json:"reports"`
	RiskSummary  state.RiskSummary         `json:"risk_summary"`
	EventCounts  map[schema.EventType]int  `json:"event_counts_24h"`
	RecentEvents []eventbus.Event          `json:"recent_events"`
}

// Views serves read-only dashboard queries.
type Views struct {
	bus      *eventbus.Bus
	store    *state.Store
	registry *registry.Registry

	nowFn func() time.Time
}

func New(bus *eventbus.Bus, store *state.Store, reg *registry.Registry) *Views {
	return &Views{
		bus:      bus,
		store:    store,
		registry: reg,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Dashboard assembles the full snapshot. Each section degrades
// independently: a failing store read empties its section rather than
// failing the whole view, except for signals, which the dashboard is
// useless without.
func (v *Views) Dashboard(ctx context.Context) (Dashboard, error) {
	now := v.nowFn()
	out := Dashboard{GeneratedAt: now}

	signals, err := v.store.RecentSignals(ctx, signalLimit)
	if err != nil {
		return Dashboard{}, err
	}
	out.Signals = signals

	if actionable, err := v.store.ActionableSignals(ctx, signalLimit); err == nil {
		out.Actionable = actionable
	}
	if reports, err := v.store.RecentReports(ctx, reportLimit); err == nil {
		out.Reports = reports
	}
	if summary, err := v.store.RecentRiskSummary(ctx, signalLimit); err == nil {
		out.RiskSummary = summary
	}
	if counts, err := v.bus.CountsByType(ctx, now.Add(-eventSummaryWindow)); err == nil {
		out.EventCounts = counts
	}
	if events, err := v.bus.Query(ctx, eventbus.Filter{Limit: eventLimit}); err == nil {
		out.RecentEvents = events
	}
	out.Agents = v.agentSummaries(ctx, now)
	return out, nil
}

// Agents returns the registry snapshot enriched with per-agent event counts
// over the trailing hour.
func (v *Views) Agents(ctx context.Context) []AgentSummary {
	return v.agentSummaries(ctx, v.nowFn())
}

func (v *Views) agentSummaries(ctx context.Context, now time.Time) []AgentSummary {
	statuses := v.registry.Snapshot()
	counts, err := v.bus.CountsBySource(ctx, now.Add(-agentActivityWindow))
	if err != nil {
		counts = nil
	}
	out := make([]AgentSummary, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, AgentSummary{
			AgentStatus:    status,
			EventsLastHour: counts[status.ID],
		})
	}
	return out
}

// Actionable returns only signals a verdict has cleared for action:
// APPROVED or FLAGGED. Unvetted and REJECTED signals are hidden.
func (v *Views) Actionable(ctx context.Context, limit int) ([]state.SignalWithVerdict, error) {
	if limit <= 0 {
		limit = signalLimit
	}
	return v.store.ActionableSignals(ctx, limit)
}
