package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/schema"
	"github.com/tern-labs/swarmd/internal/testutil"
)

func newTestRegistry(t *testing.T) (*Registry, *eventbus.Bus, func()) {
	t.Helper()
	db, closeFn := testutil.OpenTestDB(t)
	bus := eventbus.NewBus(db, zerolog.Nop())
	return New(bus, zerolog.Nop()), bus, closeFn
}

func TestRegisterIdempotent(t *testing.T) {
	reg, _, closeFn := newTestRegistry(t)
	defer closeFn()
	ctx := context.Background()

	descriptor := Descriptor{ID: "Scout-S1", Role: schema.RoleScout, CycleInterval: 8 * time.Second}
	if err := reg.Register(ctx, descriptor); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.RecordCompletion("Scout-S1"); err != nil {
		t.Fatalf("completion: %v", err)
	}
	// Re-registering must not reset counters.
	if err := reg.Register(ctx, descriptor); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	status, err := reg.Status("Scout-S1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.TasksCompleted != 1 {
		t.Fatalf("re-register reset counters: %+v", status)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg, _, closeFn := newTestRegistry(t)
	defer closeFn()
	ctx := context.Background()

	if err := reg.Register(ctx, Descriptor{Role: schema.RoleScout}); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if err := reg.Register(ctx, Descriptor{ID: "x", Role: "janitor"}); err == nil {
		t.Fatalf("expected error for invalid role")
	}
	if err := reg.Heartbeat("ghost", schema.StateActive, ""); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestErrorLogBoundedAndStatusEventPublished(t *testing.T) {
	reg, bus, closeFn := newTestRegistry(t)
	defer closeFn()
	ctx := context.Background()

	if err := reg.Register(ctx, Descriptor{ID: "Quant-Q1", Role: schema.RoleQuantitative}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 15; i++ {
		if err := reg.RecordError(ctx, "Quant-Q1", fmt.Sprintf("cycle error %d", i)); err != nil {
			t.Fatalf("record error: %v", err)
		}
	}

	status, err := reg.Status("Quant-Q1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != schema.StateError {
		t.Fatalf("expected error state, got %s", status.State)
	}
	if len(status.ErrorLog) != 10 {
		t.Fatalf("error log should be bounded at 10, got %d", len(status.ErrorLog))
	}
	if status.ErrorLog[len(status.ErrorLog)-1] != "cycle error 14" {
		t.Fatalf("expected newest errors kept: %v", status.ErrorLog)
	}

	events, err := bus.Query(ctx, eventbus.Filter{
		Types:       []schema.EventType{schema.EventAgentStatus},
		SourceAgent: "Quant-Q1",
		Limit:       100,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// 1 registration + 15 errors.
	if len(events) != 16 {
		t.Fatalf("expected 16 status events, got %d", len(events))
	}
}

func TestConcurrentMutationsSameAgent(t *testing.T) {
	reg, _, closeFn := newTestRegistry(t)
	defer closeFn()
	ctx := context.Background()

	if err := reg.Register(ctx, Descriptor{ID: "Analyst-A1", Role: schema.RoleAnalyst}); err != nil {
		t.Fatalf("register: %v", err)
	}

	const workers = 4
	const perWorker = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = reg.Heartbeat("Analyst-A1", schema.StateProcessing, "analyzing")
				_ = reg.RecordCompletion("Analyst-A1")
			}
		}()
	}
	wg.Wait()

	status, err := reg.Status("Analyst-A1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.TasksCompleted != workers*perWorker {
		t.Fatalf("lost completions: got %d want %d", status.TasksCompleted, workers*perWorker)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	reg, _, closeFn := newTestRegistry(t)
	defer closeFn()
	ctx := context.Background()

	if err := reg.Register(ctx, Descriptor{
		ID:     "NewsHound-N1",
		Role:   schema.RoleNewsHound,
		Config: map[string]any{"batch": 4},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.RecordError(ctx, "NewsHound-N1", "feed down"); err != nil {
		t.Fatalf("record error: %v", err)
	}

	snapshot := reg.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(snapshot))
	}
	snapshot[0].ErrorLog[0] = "mutated"
	snapshot[0].Config["batch"] = 99

	status, _ := reg.Status("NewsHound-N1")
	if status.ErrorLog[0] != "feed down" {
		t.Fatalf("snapshot mutation leaked into registry")
	}
	if status.Config["batch"] != 4 {
		t.Fatalf("config mutation leaked into registry")
	}
}
