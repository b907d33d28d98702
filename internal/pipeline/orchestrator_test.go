package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/reason"
	"github.com/tern-labs/swarmd/internal/registry"
	"github.com/tern-labs/swarmd/internal/risk"
	"github.com/tern-labs/swarmd/internal/schema"
	"github.com/tern-labs/swarmd/internal/state"
	"github.com/tern-labs/swarmd/internal/synth"
	"github.com/tern-labs/swarmd/internal/testutil"
)

type stubCollector struct {
	kind    string
	agent   string
	finding Finding
	err     error

	// fail the first n calls, then succeed.
	failFirst int32
	calls     int32
}

func (s *stubCollector) Agent() string { return s.agent }
func (s *stubCollector) Kind() string  { return s.kind }

func (s *stubCollector) Collect(_ context.Context, _ string) (Finding, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return Finding{}, s.err
	}
	if n <= atomic.LoadInt32(&s.failFirst) {
		return Finding{}, fmt.Errorf("transient collect failure %d", n)
	}
	return s.finding, nil
}

func technicalStub(price float64) *stubCollector {
	return &stubCollector{
		kind:  KindTechnical,
		agent: "Analyst-A1",
		finding: Finding{
			Kind:  KindTechnical,
			Agent: "Analyst-A1",
			Score: 0.80,
			Bias:  "bullish",
			Data:  map[string]any{"current_price": price, "rsi": 61.2},
		},
	}
}

func sentimentStub() *stubCollector {
	return &stubCollector{
		kind:  KindSentiment,
		agent: "NewsHound-N1",
		finding: Finding{
			Kind:           KindSentiment,
			Agent:          "NewsHound-N1",
			Score:          0.70,
			SentimentLabel: "positive",
			Data:           map[string]any{"headline_count": 4},
		},
	}
}

func fundamentalStub() *stubCollector {
	return &stubCollector{
		kind:  KindFundamental,
		agent: "Quant-Q1",
		finding: Finding{
			Kind:        KindFundamental,
			Agent:       "Quant-Q1",
			Score:       0.60,
			GrossMargin: 0.42,
			Data:        map[string]any{"gross_margin": 0.42},
		},
	}
}

func newTestOrchestrator(t *testing.T, collectors []Collector, opts ...Option) (*Orchestrator, *eventbus.Bus, *state.Store, func()) {
	t.Helper()
	db, closeFn := testutil.OpenTestDB(t)
	store := state.NewStore(db)
	bus := eventbus.NewBus(db, zerolog.Nop())
	checker := risk.NewChecker(store, bus, risk.DefaultConfig(), zerolog.Nop())
	o := New(bus, store, checker, reason.NewRuleBased(), collectors,
		synth.DefaultWeights(), synth.DefaultThresholds(), zerolog.Nop(), opts...)
	return o, bus, store, closeFn
}

func TestAnalyzeHappyPath(t *testing.T) {
	collectors := []Collector{technicalStub(210.50), sentimentStub(), fundamentalStub()}
	o, bus, store, closeFn := newTestOrchestrator(t, collectors)
	defer closeFn()

	ctx := context.Background()
	if err := store.PutContext(ctx, "Quant-Q1", "AAPL", "quantitative_analysis", map[string]any{"atr": 3.2}); err != nil {
		t.Fatalf("PutContext: %v", err)
	}

	result, err := o.Analyze(ctx, "aapl")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Request.Stage != StageDone {
		t.Fatalf("stage = %s, want %s", result.Request.Stage, StageDone)
	}
	if result.Request.Symbol != "AAPL" {
		t.Fatalf("symbol = %q, want normalized AAPL", result.Request.Symbol)
	}

	sig := result.Signal
	if sig.Action != schema.ActionBuy {
		t.Fatalf("action = %s, want BUY for blended score 0.71", sig.Action)
	}
	if sig.CurrentPrice != 210.50 {
		t.Fatalf("current price = %v, want 210.50", sig.CurrentPrice)
	}
	if sig.PriceTarget <= sig.CurrentPrice {
		t.Fatalf("BUY price target %v must exceed current price %v", sig.PriceTarget, sig.CurrentPrice)
	}
	if sig.StopLoss >= sig.CurrentPrice {
		t.Fatalf("BUY stop loss %v must be below current price %v", sig.StopLoss, sig.CurrentPrice)
	}

	// Exactly one verdict, persisted against the signal.
	verdict, err := store.VerdictForSignal(ctx, sig.ID)
	if err != nil {
		t.Fatalf("VerdictForSignal: %v", err)
	}
	if verdict.ID != result.Verdict.ID {
		t.Fatalf("returned verdict %s does not match stored %s", result.Verdict.ID, verdict.ID)
	}

	// Report stored and linked to the signal.
	reports, err := store.RecentReports(ctx, 10)
	if err != nil {
		t.Fatalf("RecentReports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	if reports[0].SignalID != sig.ID {
		t.Fatalf("report signal id = %q, want %q", reports[0].SignalID, sig.ID)
	}
	if got := reports[0].RiskVerdict["verdict"]; got != string(result.Verdict.Verdict) {
		t.Fatalf("report verdict snapshot = %v, want %s", got, result.Verdict.Verdict)
	}
	if got := reports[0].QuantitativeData["atr"]; got != 3.2 {
		t.Fatalf("report quantitative data = %v, want the quant desk's latest context", reports[0].QuantitativeData)
	}

	// Hand-offs recorded for every stage transition plus the cycle marker.
	handoffs, err := bus.Query(ctx, eventbus.Filter{Types: []schema.EventType{schema.EventAgentHandoff}})
	if err != nil {
		t.Fatalf("Query handoffs: %v", err)
	}
	if len(handoffs) != 4 {
		t.Fatalf("got %d handoff events, want 4", len(handoffs))
	}
	cycle, err := bus.Query(ctx, eventbus.Filter{Types: []schema.EventType{schema.EventSwarmCycleComplete}})
	if err != nil {
		t.Fatalf("Query cycle: %v", err)
	}
	if len(cycle) != 1 {
		t.Fatalf("got %d cycle events, want 1", len(cycle))
	}
}

func TestAnalyzeHeartbeatsStageAgents(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()
	store := state.NewStore(db)
	bus := eventbus.NewBus(db, zerolog.Nop())
	checker := risk.NewChecker(store, bus, risk.DefaultConfig(), zerolog.Nop())
	reg := registry.New(bus, zerolog.Nop())

	o := New(bus, store, checker, reason.NewRuleBased(),
		[]Collector{technicalStub(95.0), sentimentStub(), fundamentalStub()},
		synth.DefaultWeights(), synth.DefaultThresholds(), zerolog.Nop(),
		WithRegistry(reg))

	if _, err := o.Analyze(context.Background(), "NVDA"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for _, id := range []string{"Synthesis-B1", "RiskGuardrail-R1"} {
		status, err := reg.Status(id)
		if err != nil {
			t.Fatalf("Status(%s): %v", id, err)
		}
		if status.TasksCompleted != 1 {
			t.Fatalf("%s completed %d tasks, want 1", id, status.TasksCompleted)
		}
	}
}

func TestAnalyzeRejectsEmptySymbol(t *testing.T) {
	o, _, _, closeFn := newTestOrchestrator(t, []Collector{technicalStub(100)})
	defer closeFn()

	if _, err := o.Analyze(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty symbol")
	}
}

func TestAnalyzeContinuesWithMissingCollector(t *testing.T) {
	broken := &stubCollector{kind: KindFundamental, agent: "Quant-Q1", err: errors.New("feed down")}
	collectors := []Collector{technicalStub(95.00), sentimentStub(), broken}
	o, bus, store, closeFn := newTestOrchestrator(t, collectors)
	defer closeFn()

	ctx := context.Background()
	result, err := o.Analyze(ctx, "TSLA")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	found := false
	for _, f := range result.Report.KeyFindings {
		if f == "Input unavailable: fundamental" {
			found = true
		}
	}
	if !found {
		t.Fatalf("key findings %v should note the missing fundamental input", result.Report.KeyFindings)
	}

	// The failed collector published an error status once its retries ran out.
	statuses, err := bus.Query(ctx, eventbus.Filter{
		Types:       []schema.EventType{schema.EventAgentStatus},
		SourceAgent: "Quant-Q1",
	})
	if err != nil {
		t.Fatalf("Query statuses: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("got %d error status events, want 1", len(statuses))
	}

	signals, err := store.RecentSignals(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSignals: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("got %d signals, want 1", len(signals))
	}
}

func TestAnalyzeContinuesWithoutTechnicalInput(t *testing.T) {
	dead := &stubCollector{kind: KindTechnical, agent: "Analyst-A1", err: errors.New("quote feed down")}
	collectors := []Collector{dead, sentimentStub(), fundamentalStub()}
	o, _, store, closeFn := newTestOrchestrator(t, collectors)
	defer closeFn()

	ctx := context.Background()
	result, err := o.Analyze(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Request.Stage != StageDone {
		t.Fatalf("stage = %s, want %s", result.Request.Stage, StageDone)
	}

	// Sentiment 0.70 and fundamental 0.60 reweighted 50/50 blend to 0.65.
	if result.Signal.Action != schema.ActionBuy {
		t.Fatalf("action = %s, want BUY from the reweighted blend", result.Signal.Action)
	}
	if result.Signal.CurrentPrice != 0 {
		t.Fatalf("current price = %v, want 0 with no live quote", result.Signal.CurrentPrice)
	}
	found := false
	for _, f := range result.Report.KeyFindings {
		if f == "Input unavailable: technical" {
			found = true
		}
	}
	if !found {
		t.Fatalf("key findings %v should note the missing technical input", result.Report.KeyFindings)
	}

	// The degraded run still completes risk review.
	if _, err := store.VerdictForSignal(ctx, result.Signal.ID); err != nil {
		t.Fatalf("VerdictForSignal: %v", err)
	}
}

func TestAnalyzeFailsWhenAllCollectorsFail(t *testing.T) {
	collectors := []Collector{
		&stubCollector{kind: KindTechnical, agent: "Analyst-A1", err: errors.New("quote feed down")},
		&stubCollector{kind: KindSentiment, agent: "NewsHound-N1", err: errors.New("news feed down")},
	}
	o, _, store, closeFn := newTestOrchestrator(t, collectors)
	defer closeFn()

	ctx := context.Background()
	_, err := o.Analyze(ctx, "NVDA")
	if err == nil {
		t.Fatal("expected failure when every collector fails")
	}
	stageErr, ok := AsStageError(err)
	if !ok {
		t.Fatalf("error %v should carry stage detail", err)
	}
	if stageErr.Stage != StageAnalyzing {
		t.Fatalf("failed stage = %s, want ANALYZING: availability is the fan-out's call", stageErr.Stage)
	}

	// A failed run leaves nothing durable behind.
	signals, err := store.RecentSignals(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSignals: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("failed run wrote %d signals, want 0", len(signals))
	}
}

func TestAnalyzeRetriesTransientCollectorFailure(t *testing.T) {
	flaky := sentimentStub()
	flaky.failFirst = 1
	collectors := []Collector{technicalStub(50.00), flaky}
	o, _, _, closeFn := newTestOrchestrator(t, collectors, WithMaxAttempts(2))
	defer closeFn()

	result, err := o.Analyze(context.Background(), "AMD")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(result.Request.Symbol) == 0 {
		t.Fatal("missing request")
	}
	for _, missing := range result.Report.KeyFindings {
		if missing == "Input unavailable: sentiment" {
			t.Fatal("sentiment should have recovered on retry")
		}
	}
}

func TestAnalyzeStaleRequestDiscarded(t *testing.T) {
	release := make(chan struct{})
	gated := &gatedCollector{inner: technicalStub(120.00), release: release, entered: make(chan struct{})}
	o, _, store, closeFn := newTestOrchestrator(t, []Collector{gated})
	defer closeFn()

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() {
		_, err := o.Analyze(ctx, "MSFT")
		errCh <- err
	}()

	// Wait for the first run to enter its collector, then supersede it.
	gated.waitEntered(t)
	o.nextVersion("MSFT")
	close(release)

	err := <-errCh
	if !IsStale(err) {
		t.Fatalf("err = %v, want stale request", err)
	}

	// The superseded run must not have persisted a signal.
	signals, err := store.RecentSignals(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSignals: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("stale run wrote %d signals, want 0", len(signals))
	}
}

// gatedCollector blocks inside Collect until released, so a test can
// supersede the request mid-flight.
type gatedCollector struct {
	inner   *stubCollector
	release <-chan struct{}
	entered chan struct{}
	once    atomic.Bool
}

func (g *gatedCollector) Agent() string { return g.inner.Agent() }
func (g *gatedCollector) Kind() string  { return g.inner.Kind() }

func (g *gatedCollector) Collect(ctx context.Context, symbol string) (Finding, error) {
	if g.once.CompareAndSwap(false, true) {
		close(g.entered)
	}
	<-g.release
	return g.inner.Collect(ctx, symbol)
}

func (g *gatedCollector) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("collector never entered")
	}
}
