package api

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/eventbus"
	"github.com/tern-labs/swarmd/internal/schema"
	"github.com/tern-labs/swarmd/internal/testutil"
)

type fakeWSWriter struct {
	mu       sync.Mutex
	messages [][]byte
}

func (f *fakeWSWriter) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeWSWriter) first() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil, false
	}
	return f.messages[0], true
}

func TestStreamEventsWriter(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	bus := eventbus.NewBus(db, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := &fakeWSWriter{}
	filter := eventbus.Filter{Types: []schema.EventType{schema.EventRiskAlert}}
	go func() {
		_ = streamEvents(ctx, bus, filter, writer)
	}()

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	_, err := bus.Publish(context.Background(), eventbus.Input{
		Type:        schema.EventRiskAlert,
		SourceAgent: "RiskGuardrail-R1",
		Symbol:      "AAPL",
		Payload: schema.RiskAlertPayload{
			SignalID: "sig-1",
			Verdict:  schema.VerdictApproved,
			Approved: true,
		},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// An event outside the filter must not be forwarded.
	_, err = bus.Publish(context.Background(), eventbus.Input{
		Type:        schema.EventAgentStatus,
		SourceAgent: "Scout-S1",
		Payload:     schema.AgentStatusPayload{State: schema.StateActive},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if raw, ok := writer.first(); ok {
			var event eventbus.Event
			if err := json.Unmarshal(raw, &event); err != nil {
				t.Fatalf("decode ws payload: %v", err)
			}
			if event.Type != schema.EventRiskAlert {
				t.Fatalf("forwarded %s, want risk_alert", event.Type)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for ws message")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
