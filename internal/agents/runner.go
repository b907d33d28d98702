package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/registry"
	"github.com/tern-labs/swarmd/internal/schema"
)

// Agent is one member of the swarm. RunCycle executes a single pass of the
// agent's work; the Runner owns the cadence around it.
type Agent interface {
	ID() string
	Role() schema.AgentRole
	Interval() time.Duration
	RunCycle(ctx context.Context) error
}

// Runner drives a set of agents, each on its own goroutine and cadence.
// A failing cycle is recorded against the agent and retried on the next
// tick; one agent's failure never stalls another.
type Runner struct {
	registry *registry.Registry
	log      zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewRunner(reg *registry.Registry, log zerolog.Logger) *Runner {
	return &Runner{
		registry: reg,
		log:      log.With().Str("component", "agents").Logger(),
	}
}

// Start registers every agent and launches its cycle loop. Idempotent while
// running.
func (r *Runner) Start(ctx context.Context, roster ...Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	for _, agent := range roster {
		descriptor := registry.Descriptor{
			ID:            agent.ID(),
			Role:          agent.Role(),
			CycleInterval: agent.Interval(),
		}
		if err := r.registry.Register(runCtx, descriptor); err != nil {
			cancel()
			return fmt.Errorf("register %s: %w", agent.ID(), err)
		}
	}
	r.cancel = cancel
	r.running = true

	for _, agent := range roster {
		r.wg.Add(1)
		go r.loop(runCtx, agent)
	}
	r.log.Info().Int("agents", len(roster)).Msg("swarm started")
	return nil
}

// Stop cancels every loop and waits for them to drain.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info().Msg("swarm stopped")
}

func (r *Runner) loop(ctx context.Context, agent Agent) {
	defer r.wg.Done()
	log := r.log.With().Str("agent", agent.ID()).Logger()

	// First cycle runs immediately; the ticker paces the rest.
	ticker := time.NewTicker(agent.Interval())
	defer ticker.Stop()

	for {
		r.cycle(ctx, agent, log)
		select {
		case <-ctx.Done():
			if err := r.registry.Heartbeat(agent.ID(), schema.StateIdle, ""); err != nil {
				log.Warn().Err(err).Msg("final heartbeat failed")
			}
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) cycle(ctx context.Context, agent Agent, log zerolog.Logger) {
	if err := r.registry.Heartbeat(agent.ID(), schema.StateProcessing, "running cycle"); err != nil {
		log.Warn().Err(err).Msg("heartbeat failed")
	}

	if err := agent.RunCycle(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("cycle failed")
		if recErr := r.registry.RecordError(ctx, agent.ID(), err.Error()); recErr != nil {
			log.Warn().Err(recErr).Msg("record error failed")
		}
		return
	}

	if err := r.registry.RecordCompletion(agent.ID()); err != nil {
		log.Warn().Err(err).Msg("record completion failed")
	}
}
