package eventbus

import (
	"encoding/json"
	"time"

	"github.com/tern-labs/swarmd/internal/schema"
)

// Event is one immutable row of the append-only swarm log.
type Event struct {
	ID          string           `json:"id"`
	Type        schema.EventType `json:"event_type"`
	SourceAgent string           `json:"source_agent"`
	TargetAgent string           `json:"target_agent,omitempty"`
	Symbol      string           `json:"symbol,omitempty"`
	Payload     json.RawMessage  `json:"data,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// DecodePayload returns the typed payload for the event's type.
func (e Event) DecodePayload() (any, error) {
	return schema.DecodePayload(e.Type, e.Payload)
}

// Input describes an event to publish. Payload may be any of the schema
// payload structs, or raw JSON (validated against the type before insert).
type Input struct {
	Type        schema.EventType
	SourceAgent string
	TargetAgent string
	Symbol      string
	Payload     any

	// DedupeKey, when set, makes the publish idempotent: a second publish
	// with the same key returns the already-stored event.
	DedupeKey string
}

// Filter selects events for Subscribe and Query. Zero fields match
// everything.
type Filter struct {
	Types       []schema.EventType
	Symbol      string
	SourceAgent string
	TargetAgent string
	Since       time.Time
	Until       time.Time
	Limit       int
}

func (f Filter) matches(e Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Symbol != "" && e.Symbol != f.Symbol {
		return false
	}
	if f.SourceAgent != "" && e.SourceAgent != f.SourceAgent {
		return false
	}
	if f.TargetAgent != "" && e.TargetAgent != f.TargetAgent {
		return false
	}
	return true
}
