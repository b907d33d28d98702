package idgen

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns a UUIDv7 identifier string, used for durable entities
// (signals, verdicts, reports, pipeline requests).
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewEvent returns a ULID string for event ids. ULIDs sort by creation
// time, which keeps the event log's id order aligned with created_at.
func NewEvent() string {
	return ulid.Make().String()
}
