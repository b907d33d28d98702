// Package pipeline drives a symbol research request through its stages,
// from first scouting to a risk-checked trade signal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/idgen"
	"github.com/tern-labs/swarmd/internal/reason"
	"github.com/tern-labs/swarmd/internal/registry"
	"github.com/tern-labs/swarmd/internal/risk"
	"github.com/tern-labs/swarmd/internal/schema"
	"github.com/tern-labs/swarmd/internal/state"
	"github.com/tern-labs/swarmd/internal/synth"
)

// Stage is a research request's position in the pipeline.
type Stage string

const (
	StageScouting     Stage = "SCOUTING"
	StageAnalyzing    Stage = "ANALYZING"
	StageStrategizing Stage = "STRATEGIZING"
	StageSynthesizing Stage = "SYNTHESIZING"
	StageRiskCheck    Stage = "RISK_CHECK"
	StageDone         Stage = "DONE"
	StageFailed       Stage = "FAILED"
)

// Agent names the pipeline stages act as. They match the swarm roster so
// hand-off events line up with the live agents.
const (
	agentScout      = "Scout-S1"
	agentAnalyst    = "Analyst-A1"
	agentStrategist = "Strategist-C1"
	agentSynthesis  = "Synthesis-B1"
	agentRisk       = "RiskGuardrail-R1"
)

// Request is one research run for a symbol. Version is the monotonic token
// used to detect and discard superseded runs.
type Request struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Version   uint64    `json:"version"`
	Stage     Stage     `json:"stage"`
	StartedAt time.Time `json:"started_at"`
}

// Result is the durable outcome of a completed run.
type Result struct {
	Request Request           `json:"request"`
	Signal  state.TradeSignal `json:"signal"`
	Report  state.Report      `json:"report"`
	Verdict state.RiskVerdict `json:"verdict"`
}

// PortfolioFunc supplies the portfolio context the risk check needs for a
// given signal.
type PortfolioFunc func(ctx context.Context, signal state.TradeSignal) risk.PortfolioContext

type Option func(*Orchestrator)

// WithClock overrides the time source, for tests.
func WithClock(nowFn func() time.Time) Option {
	return func(o *Orchestrator) {
		o.nowFn = nowFn
	}
}

// WithIDGenerator overrides request id generation, for tests.
func WithIDGenerator(newIDFn func() string) Option {
	return func(o *Orchestrator) {
		o.newIDFn = newIDFn
	}
}

// WithMaxAttempts bounds per-stage retries.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithPortfolio sets the portfolio context provider for risk checks.
func WithPortfolio(fn PortfolioFunc) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.portfolio = fn
		}
	}
}

// WithRegistry registers the synthesis and risk-guardrail agents, which run
// as pipeline stages rather than free loops, so their status still shows up
// alongside the cadence-driven agents.
func WithRegistry(reg *registry.Registry) Option {
	return func(o *Orchestrator) {
		o.registry = reg
	}
}

// Orchestrator runs research requests. Failure of one request never blocks
// another: each Analyze call owns its request end to end, and shared state
// is limited to the per-symbol version counter.
type Orchestrator struct {
	bus        *eventbus.Bus
	store      *state.Store
	checker    *risk.Checker
	reasoner   reason.Client
	collectors []Collector
	weights    synth.Weights
	thresholds synth.Thresholds
	portfolio  PortfolioFunc
	registry   *registry.Registry
	log        zerolog.Logger

	nowFn       func() time.Time
	newIDFn     func() string
	maxAttempts int

	mu       sync.Mutex
	versions map[string]uint64
}

func New(bus *eventbus.Bus, store *state.Store, checker *risk.Checker, reasoner reason.Client, collectors []Collector, weights synth.Weights, thresholds synth.Thresholds, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		bus:        bus,
		store:      store,
		checker:    checker,
		reasoner:   reasoner,
		collectors: collectors,
		weights:    weights,
		thresholds: thresholds,
		portfolio: func(context.Context, state.TradeSignal) risk.PortfolioContext {
			return risk.PortfolioContext{}
		},
		log:         log.With().Str("component", "pipeline").Logger(),
		nowFn:       func() time.Time { return time.Now().UTC() },
		newIDFn:     idgen.New,
		maxAttempts: 2,
		versions:    map[string]uint64{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry != nil {
		ctx := context.Background()
		for _, d := range []registry.Descriptor{
			{ID: agentSynthesis, Role: schema.RoleSynthesis},
			{ID: agentRisk, Role: schema.RoleRisk},
		} {
			if err := o.registry.Register(ctx, d); err != nil {
				o.log.Warn().Err(err).Str("agent", d.ID).Msg("register stage agent failed")
			}
		}
	}
	return o
}

// Analyze runs one full research request for a symbol. If a newer request
// for the same symbol starts before this one finishes, this one's results
// are discarded on arrival and ErrStaleRequest is returned.
func (o *Orchestrator) Analyze(ctx context.Context, symbol string) (Result, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Result{}, fmt.Errorf("symbol is required")
	}

	req := Request{
		ID:        o.newIDFn(),
		Symbol:    symbol,
		Version:   o.nextVersion(symbol),
		Stage:     StageScouting,
		StartedAt: o.nowFn(),
	}
	log := o.log.With().Str("request_id", req.ID).Str("symbol", symbol).Uint64("version", req.Version).Logger()
	log.Info().Msg("research request started")

	result, err := o.run(ctx, &req, log)
	if err != nil {
		if IsStale(err) {
			log.Info().Msg("request superseded, results discarded")
			return Result{}, err
		}
		req.Stage = StageFailed
		log.Warn().Err(err).Msg("research request failed")
		return Result{}, err
	}
	req.Stage = StageDone
	result.Request = req
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, req *Request, log zerolog.Logger) (Result, error) {
	// SCOUTING: establish the live price the rest of the run keys off. A dead
	// technical feed here is not fatal: input availability is decided by the
	// ANALYZING fan-out, and the blend reweights over whatever arrives.
	var currentPrice float64
	if err := o.runStage(ctx, req, StageScouting, agentScout, func(ctx context.Context) error {
		price, err := o.scout(ctx, req.Symbol)
		if err != nil {
			return err
		}
		currentPrice = price
		return nil
	}); err != nil {
		log.Warn().Err(err).Msg("no live price at scouting, continuing without one")
	}
	o.advance(ctx, req, StageAnalyzing, agentScout, agentAnalyst)

	// ANALYZING: fan out to the collectors concurrently. The stage advances
	// once every collector has completed or been marked unavailable.
	findings := o.collect(ctx, req, log)
	if len(findings) == 0 {
		return Result{}, &StageError{Stage: StageAnalyzing, Attempts: o.maxAttempts, Err: ErrNoFindings}
	}
	if err := o.checkCurrent(req); err != nil {
		return Result{}, err
	}
	o.advance(ctx, req, StageStrategizing, agentAnalyst, agentStrategist)

	// STRATEGIZING: persist each finding as retrievable context.
	for _, f := range findings {
		if len(f.Data) == 0 {
			continue
		}
		if err := o.store.PutContext(ctx, f.Agent, req.Symbol, f.Kind+"_analysis", f.Data); err != nil {
			log.Warn().Err(err).Str("kind", f.Kind).Msg("store context failed")
		}
	}
	o.advance(ctx, req, StageSynthesizing, agentStrategist, agentSynthesis)

	// SYNTHESIZING: blend, narrate, persist the signal, and assemble the
	// report.
	o.stageBusy(agentSynthesis, "synthesizing "+req.Symbol)
	signal, report, err := o.synthesize(ctx, req, currentPrice, findings, log)
	if err != nil {
		o.stageFailed(ctx, agentSynthesis, err)
		return Result{}, err
	}
	o.stageComplete(agentSynthesis)
	o.advance(ctx, req, StageRiskCheck, agentSynthesis, agentRisk)

	// RISK_CHECK: exactly one verdict per signal; a duplicate attempt means
	// someone beat us to it, which still satisfies the run.
	o.stageBusy(agentRisk, "checking "+req.Symbol)
	verdict, err := o.checker.Check(ctx, signal, o.portfolio(ctx, signal))
	if err != nil && !errors.Is(err, state.ErrDuplicateVerdict) {
		o.stageFailed(ctx, agentRisk, err)
		return Result{}, &StageError{Stage: StageRiskCheck, Attempts: 1, Err: err}
	}
	o.stageComplete(agentRisk)

	// The report snapshots the verdict, so it is persisted only once the
	// risk check has produced one.
	report.RiskVerdict = map[string]any{
		"verdict":    string(verdict.Verdict),
		"approved":   verdict.Approved,
		"warnings":   verdict.Warnings,
		"checked_by": verdict.CheckedBy,
	}
	if err := o.store.SaveReport(ctx, &report); err != nil {
		return Result{}, &StageError{Stage: StageRiskCheck, Attempts: 1, Err: err}
	}

	elapsed := o.nowFn().Sub(req.StartedAt)
	if _, err := o.bus.Publish(ctx, eventbus.Input{
		Type:        schema.EventSwarmCycleComplete,
		SourceAgent: agentStrategist,
		Symbol:      req.Symbol,
		Payload: schema.CycleCompletePayload{
			RequestID: req.ID,
			SignalID:  signal.ID,
			ReportID:  report.ID,
			Verdict:   verdict.Verdict,
			Elapsed:   elapsed.String(),
		},
	}); err != nil {
		log.Warn().Err(err).Msg("publish cycle complete failed")
	}

	log.Info().Str("verdict", string(verdict.Verdict)).Dur("elapsed", elapsed).Msg("research request done")
	return Result{Signal: signal, Report: report, Verdict: verdict}, nil
}

// scout fetches the current price through the technical collector's data
// source; historically the Scout agent owned the first look at the tape.
func (o *Orchestrator) scout(ctx context.Context, symbol string) (float64, error) {
	for _, c := range o.collectors {
		if c.Kind() != KindTechnical {
			continue
		}
		finding, err := c.Collect(ctx, symbol)
		if err != nil {
			return 0, err
		}
		if price, ok := finding.Data["current_price"].(float64); ok && price > 0 {
			return price, nil
		}
		return 0, nil
	}
	return 0, nil
}

func (o *Orchestrator) collect(ctx context.Context, req *Request, log zerolog.Logger) map[string]Finding {
	type outcome struct {
		finding Finding
		err     error
	}
	results := make(chan outcome, len(o.collectors))

	var wg sync.WaitGroup
	for _, collector := range o.collectors {
		wg.Add(1)
		go func(c Collector) {
			defer wg.Done()
			var finding Finding
			var err error
			for attempt := 1; attempt <= o.maxAttempts; attempt++ {
				finding, err = c.Collect(ctx, req.Symbol)
				if err == nil {
					break
				}
				log.Warn().Err(err).Str("agent", c.Agent()).Int("attempt", attempt).Msg("collector attempt failed")
			}
			if err != nil {
				o.publishAgentError(ctx, c.Agent(), err)
			}
			results <- outcome{finding: finding, err: err}
		}(collector)
	}
	wg.Wait()
	close(results)

	findings := map[string]Finding{}
	for out := range results {
		if out.err != nil {
			continue
		}
		findings[out.finding.Kind] = out.finding
	}
	return findings
}

func (o *Orchestrator) synthesize(ctx context.Context, req *Request, currentPrice float64, findings map[string]Finding, log zerolog.Logger) (state.TradeSignal, state.Report, error) {
	inputs := synth.Inputs{}
	if f, ok := findings[KindTechnical]; ok {
		inputs.Technical = synth.Input{Score: f.Score, OK: true}
	}
	if f, ok := findings[KindFundamental]; ok {
		inputs.Fundamental = synth.Input{Score: f.Score, OK: true}
	}
	if f, ok := findings[KindSentiment]; ok {
		inputs.Sentiment = synth.Input{Score: f.Score, OK: true}
	}

	blended, err := synth.Blend(inputs, o.weights, o.thresholds)
	if err != nil {
		return state.TradeSignal{}, state.Report{}, &StageError{Stage: StageSynthesizing, Attempts: 1, Err: err}
	}

	technical := findings[KindTechnical]
	sentiment := findings[KindSentiment]
	fundamental := findings[KindFundamental]

	reasoning, err := o.reasoner.Reason(ctx, reason.Request{
		Symbol:         req.Symbol,
		Action:         string(blended.Action),
		Score:          blended.Score,
		TechnicalBias:  technical.Bias,
		SentimentLabel: sentiment.SentimentLabel,
		GrossMargin:    fundamental.GrossMargin,
		MissingInputs:  blended.Missing,
	})
	if err != nil {
		log.Warn().Err(err).Msg("reasoning unavailable")
		reasoning = ""
	}

	priceTarget, stopLoss := synth.Targets(blended.Action, currentPrice, blended.Score)
	signal := state.TradeSignal{
		ID:           o.newIDFn(),
		Symbol:       req.Symbol,
		Action:       blended.Action,
		Confidence:   blended.Confidence,
		PriceTarget:  priceTarget,
		StopLoss:     stopLoss,
		CurrentPrice: currentPrice,
		Reasoning:    reasoning,
		SourceAgent:  agentSynthesis,
	}

	// Last stale check before any durable write: a superseded run must
	// leave no rows behind.
	if err := o.checkCurrent(req); err != nil {
		return state.TradeSignal{}, state.Report{}, err
	}
	if err := o.store.SaveSignal(ctx, &signal); err != nil {
		return state.TradeSignal{}, state.Report{}, &StageError{Stage: StageSynthesizing, Attempts: 1, Err: err}
	}

	// The quant desk never enters the blend, but its latest context still
	// belongs in the report.
	var quantData map[string]any
	if entries, err := o.store.LatestContext(ctx, req.Symbol); err != nil {
		log.Warn().Err(err).Msg("load context failed")
	} else {
		for _, entry := range entries {
			if entry.Category == "quantitative_analysis" {
				quantData = entry.Content
			}
		}
	}

	// Assembled here, persisted by the caller once the verdict is in.
	report := state.Report{
		Symbol:           req.Symbol,
		Summary:          reasoning,
		Sentiment:        sentiment.SentimentLabel,
		Recommendation:   blended.Action,
		Confidence:       blended.Confidence,
		KeyFindings:      keyFindings(findings, blended),
		TechnicalData:    technical.Data,
		FundamentalData:  fundamental.Data,
		SentimentData:    sentiment.Data,
		QuantitativeData: quantData,
		SignalID:         signal.ID,
		AgentName:        agentSynthesis,
	}

	if _, err := o.bus.Publish(ctx, eventbus.Input{
		Type:        schema.EventTradeRecommendation,
		SourceAgent: agentSynthesis,
		TargetAgent: agentRisk,
		Symbol:      req.Symbol,
		Payload: schema.RecommendationPayload{
			SignalID:    signal.ID,
			Action:      signal.Action,
			Confidence:  signal.Confidence,
			PriceTarget: signal.PriceTarget,
			StopLoss:    signal.StopLoss,
			Reasoning:   signal.Reasoning,
		},
	}); err != nil {
		log.Warn().Err(err).Msg("publish recommendation failed")
	}

	return signal, report, nil
}

func keyFindings(findings map[string]Finding, blended synth.Result) []string {
	var out []string
	if f, ok := findings[KindTechnical]; ok {
		out = append(out, fmt.Sprintf("Technical bias: %s (score %.2f)", f.Bias, f.Score))
	}
	if f, ok := findings[KindFundamental]; ok {
		out = append(out, fmt.Sprintf("Gross margin: %.1f%%", f.GrossMargin*100))
	}
	if f, ok := findings[KindSentiment]; ok {
		out = append(out, fmt.Sprintf("Sentiment: %s (score %.2f)", f.SentimentLabel, f.Score))
	}
	for _, missing := range blended.Missing {
		out = append(out, fmt.Sprintf("Input unavailable: %s", missing))
	}
	return out
}

// runStage executes fn with bounded retries, publishing an agent_status
// error event per failed attempt.
func (o *Orchestrator) runStage(ctx context.Context, req *Request, stage Stage, agent string, fn func(context.Context) error) error {
	req.Stage = stage
	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		o.publishAgentError(ctx, agent, lastErr)
	}
	return &StageError{Stage: stage, Attempts: o.maxAttempts, Err: lastErr}
}

// advance moves the request to the next stage, recording the hand-off.
func (o *Orchestrator) advance(ctx context.Context, req *Request, next Stage, from, to string) {
	req.Stage = next
	if _, err := o.bus.Publish(ctx, eventbus.Input{
		Type:        schema.EventAgentHandoff,
		SourceAgent: from,
		TargetAgent: to,
		Symbol:      req.Symbol,
		Payload: schema.HandoffPayload{
			Stage:     string(next),
			RequestID: req.ID,
			Version:   req.Version,
		},
	}); err != nil {
		o.log.Warn().Err(err).Str("stage", string(next)).Msg("publish handoff failed")
	}
}

func (o *Orchestrator) publishAgentError(ctx context.Context, agent string, cause error) {
	if _, err := o.bus.Publish(ctx, eventbus.Input{
		Type:        schema.EventAgentStatus,
		SourceAgent: agent,
		Payload: schema.AgentStatusPayload{
			State: schema.StateError,
			Error: cause.Error(),
		},
	}); err != nil {
		o.log.Warn().Err(err).Str("agent", agent).Msg("publish agent error failed")
	}
}

// The synthesis and risk stages heartbeat through the registry like the
// cadence-driven agents do, when a registry is attached.
func (o *Orchestrator) stageBusy(agent, task string) {
	if o.registry == nil {
		return
	}
	if err := o.registry.Heartbeat(agent, schema.StateProcessing, task); err != nil {
		o.log.Warn().Err(err).Str("agent", agent).Msg("heartbeat failed")
	}
}

func (o *Orchestrator) stageComplete(agent string) {
	if o.registry == nil {
		return
	}
	if err := o.registry.RecordCompletion(agent); err != nil {
		o.log.Warn().Err(err).Str("agent", agent).Msg("record completion failed")
	}
}

func (o *Orchestrator) stageFailed(ctx context.Context, agent string, cause error) {
	if o.registry == nil {
		return
	}
	if err := o.registry.RecordError(ctx, agent, cause.Error()); err != nil {
		o.log.Warn().Err(err).Str("agent", agent).Msg("record error failed")
	}
}

func (o *Orchestrator) nextVersion(symbol string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.versions[symbol]++
	return o.versions[symbol]
}

// checkCurrent compares the request's version token against the symbol's
// latest. Results carrying an older token are discarded, never merged.
func (o *Orchestrator) checkCurrent(req *Request) error {
	o.mu.Lock()
	current := o.versions[req.Symbol]
	o.mu.Unlock()
	if req.Version < current {
		return fmt.Errorf("%w: version %d, current %d", ErrStaleRequest, req.Version, current)
	}
	return nil
}
