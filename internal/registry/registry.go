// Package registry tracks the identity, cadence, and self-reported status of
// every agent in the swarm. Each agent is the only writer of its own row;
// dashboards read immutable snapshots.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/schema"
)

const errorLogLimit = 10

var ErrUnknownAgent = errors.New("unknown agent")

// Descriptor is the registration record for an agent.
type Descriptor struct {
	ID            string
	Role          schema.AgentRole
	CycleInterval time.Duration
	Config        map[string]any
}

// AgentStatus is an immutable snapshot of one agent's state.
type AgentStatus struct {
	ID             string            `json:"id"`
	Role           schema.AgentRole  `json:"role"`
	State          schema.AgentState `json:"status"`
	TasksCompleted uint64            `json:"tasks_completed"`
	CurrentTask    string            `json:"current_task,omitempty"`
	CycleInterval  float64           `json:"cycle_interval"`
	LastActive     time.Time         `json:"last_active"`
	ErrorLog       []string          `json:"error_log,omitempty"`
	Config         map[string]any    `json:"config,omitempty"`
}

type entry struct {
	mu sync.Mutex

	descriptor     Descriptor
	state          schema.AgentState
	tasksCompleted uint64
	currentTask    string
	lastActive     time.Time
	errorLog       []string
}

type Registry struct {
	bus *eventbus.Bus
	log zerolog.Logger

	mu     sync.RWMutex
	agents map[string]*entry
}

func New(bus *eventbus.Bus, log zerolog.Logger) *Registry {
	return &Registry{
		bus:    bus,
		log:    log.With().Str("component", "registry").Logger(),
		agents: map[string]*entry{},
	}
}

// Register adds an agent. Registering an id twice is a no-op, so agents can
// re-register safely on restart of their loop.
func (r *Registry) Register(ctx context.Context, descriptor Descriptor) error {
	if descriptor.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if !descriptor.Role.Valid() {
		return fmt.Errorf("invalid role %q", descriptor.Role)
	}

	r.mu.Lock()
	if _, exists := r.agents[descriptor.ID]; exists {
		r.mu.Unlock()
		return nil
	}
	r.agents[descriptor.ID] = &entry{
		descriptor: descriptor,
		state:      schema.StateIdle,
		lastActive: time.Now().UTC(),
	}
	r.mu.Unlock()

	r.publishStatus(ctx, descriptor.ID, schema.AgentStatusPayload{
		Role:   descriptor.Role,
		State:  schema.StateIdle,
		Action: "registered",
	})
	r.log.Info().Str("agent", descriptor.ID).Str("role", string(descriptor.Role)).Msg("agent registered")
	return nil
}

// Heartbeat updates an agent's state and current task.
func (r *Registry) Heartbeat(id string, state schema.AgentState, currentTask string) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	if !state.Valid() {
		return fmt.Errorf("invalid state %q", state)
	}
	e.mu.Lock()
	e.state = state
	e.currentTask = currentTask
	e.lastActive = time.Now().UTC()
	e.mu.Unlock()
	return nil
}

// RecordCompletion increments the agent's completed-task counter and clears
// its current task.
func (r *Registry) RecordCompletion(id string) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.tasksCompleted++
	e.currentTask = ""
	e.state = schema.StateActive
	e.lastActive = time.Now().UTC()
	e.mu.Unlock()
	return nil
}

// RecordError appends to the agent's bounded error log, marks it errored,
// and publishes an agent_status event so the failure is visible in the live
// stream.
func (r *Registry) RecordError(ctx context.Context, id string, message string) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.state = schema.StateError
	e.errorLog = append(e.errorLog, message)
	if len(e.errorLog) > errorLogLimit {
		e.errorLog = e.errorLog[len(e.errorLog)-errorLogLimit:]
	}
	e.lastActive = time.Now().UTC()
	role := e.descriptor.Role
	completed := e.tasksCompleted
	e.mu.Unlock()

	r.publishStatus(ctx, id, schema.AgentStatusPayload{
		Role:           role,
		State:          schema.StateError,
		TasksCompleted: completed,
		Error:          message,
	})
	return nil
}

// Status returns a snapshot of a single agent.
func (r *Registry) Status(id string) (AgentStatus, error) {
	e, err := r.entry(id)
	if err != nil {
		return AgentStatus{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), nil
}

// Snapshot returns an immutable copy of every agent's status. Callers never
// see live mutable state.
func (r *Registry) Snapshot() []AgentStatus {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.agents))
	for _, e := range r.agents {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]AgentStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.snapshotLocked())
		e.mu.Unlock()
	}
	return out
}

func (e *entry) snapshotLocked() AgentStatus {
	status := AgentStatus{
		ID:             e.descriptor.ID,
		Role:           e.descriptor.Role,
		State:          e.state,
		TasksCompleted: e.tasksCompleted,
		CurrentTask:    e.currentTask,
		CycleInterval:  e.descriptor.CycleInterval.Seconds(),
		LastActive:     e.lastActive,
	}
	if len(e.errorLog) > 0 {
		status.ErrorLog = append([]string(nil), e.errorLog...)
	}
	if len(e.descriptor.Config) > 0 {
		config := make(map[string]any, len(e.descriptor.Config))
		for k, v := range e.descriptor.Config {
			config[k] = v
		}
		status.Config = config
	}
	return status
}

func (r *Registry) entry(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return e, nil
}

func (r *Registry) publishStatus(ctx context.Context, id string, payload schema.AgentStatusPayload) {
	if r.bus == nil {
		return
	}
	if _, err := r.bus.Publish(ctx, eventbus.Input{
		Type:        schema.EventAgentStatus,
		SourceAgent: id,
		Payload:     payload,
	}); err != nil {
		r.log.Warn().Err(err).Str("agent", id).Msg("publish agent status failed")
	}
}
