package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tern-labs/swarmd/internal/idgen"
	"github.com/tern-labs/swarmd/internal/schema"
)

// timeLayout is RFC3339 with a fixed-width fractional second. RFC3339Nano
// trims trailing zeros, which breaks lexicographic ordering of the stored
// strings at second boundaries ('Z' sorts after '.').
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Bus is the durable append-only event log with best-effort live fan-out.
// Publishes hit sqlite first; delivery to subscribers never blocks the
// publisher, and a slow subscriber simply misses events (it resynchronizes
// via Query).
type Bus struct {
	db  *sql.DB
	log zerolog.Logger

	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	filter Filter
	ch     chan Event
}

func NewBus(db *sql.DB, log zerolog.Logger) *Bus {
	return &Bus{
		db:   db,
		log:  log.With().Str("component", "eventbus").Logger(),
		subs: map[string]*subscriber{},
	}
}

// Publish validates, assigns id and timestamp, durably appends, then fans
// out. It returns before any subscriber has consumed the event.
func (b *Bus) Publish(ctx context.Context, input Input) (Event, error) {
	if !input.Type.Valid() {
		return Event{}, fmt.Errorf("invalid event type %q", input.Type)
	}
	if strings.TrimSpace(input.SourceAgent) == "" {
		return Event{}, fmt.Errorf("source_agent is required")
	}
	payloadJSON, err := encodePayload(input.Type, input.Payload)
	if err != nil {
		return Event{}, err
	}

	event := Event{
		ID:          idgen.NewEvent(),
		Type:        input.Type,
		SourceAgent: input.SourceAgent,
		TargetAgent: input.TargetAgent,
		Symbol:      input.Symbol,
		Payload:     payloadJSON,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO events (id, event_type, source_agent, target_agent, symbol, payload, dedupe_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, string(event.Type), event.SourceAgent, nullString(event.TargetAgent),
		nullString(event.Symbol), string(payloadJSON), nullString(input.DedupeKey),
		event.CreatedAt.Format(timeLayout))
	if err != nil {
		if input.DedupeKey != "" && strings.Contains(err.Error(), "UNIQUE constraint failed") {
			// Idempotent retry: the earlier publish won; hand back its row.
			return b.byDedupeKey(ctx, input.DedupeKey)
		}
		return Event{}, fmt.Errorf("insert event: %w", err)
	}

	b.broadcast(event)
	return event, nil
}

func (b *Bus) byDedupeKey(ctx context.Context, key string) (Event, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, event_type, source_agent, target_agent, symbol, payload, created_at
		FROM events WHERE dedupe_key = ?
	`, key)
	event, err := scanEvent(row)
	if err != nil {
		return Event{}, fmt.Errorf("load deduplicated event: %w", err)
	}
	return event, nil
}

// Subscribe delivers matching events as they arrive until ctx is cancelled.
// Delivery is best effort: the channel is buffered and full channels drop.
func (b *Bus) Subscribe(ctx context.Context, filter Filter) <-chan Event {
	ch := make(chan Event, 64)
	id := idgen.NewEvent()

	b.mu.Lock()
	b.subs[id] = &subscriber{filter: filter, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// SubscriberCount reports live subscribers, for diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Drop if subscriber is slow.
		}
	}
}

// Query reads the durable log, newest first. It is a pure read and safe to
// call concurrently with publishes.
func (b *Bus) Query(ctx context.Context, filter Filter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	where, args := buildWhere(filter)
	query := fmt.Sprintf(`
		SELECT id, event_type, source_agent, target_agent, symbol, payload, created_at
		FROM events %s ORDER BY created_at DESC LIMIT ?
	`, where)
	args = append(args, limit)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Prune deletes events strictly older than cutoff. Rows inside the window
// are never touched, and repeating a call with the same cutoff is a no-op.
func (b *Bus) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		b.log.Debug().Int64("deleted", n).Time("cutoff", cutoff).Msg("pruned events")
	}
	return n, nil
}

// CountsByType tallies events per type since the given time, for the
// dashboard's trailing-window summary.
func (b *Bus) CountsByType(ctx context.Context, since time.Time) (map[schema.EventType]int, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*) FROM events WHERE created_at >= ? GROUP BY event_type
	`, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("count events by type: %w", err)
	}
	defer rows.Close()

	out := map[schema.EventType]int{}
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[schema.EventType(eventType)] = count
	}
	return out, rows.Err()
}

// CountsBySource tallies events per source agent since the given time.
func (b *Bus) CountsBySource(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT source_agent, COUNT(*) FROM events WHERE created_at >= ? GROUP BY source_agent
	`, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("count events by source: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[source] = count
	}
	return out, rows.Err()
}

func buildWhere(filter Filter) (string, []any) {
	var clauses []string
	var args []any

	if len(filter.Types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Types)), ",")
		clauses = append(clauses, fmt.Sprintf("event_type IN (%s)", placeholders))
		for _, t := range filter.Types {
			args = append(args, string(t))
		}
	}
	if filter.Symbol != "" {
		clauses = append(clauses, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.SourceAgent != "" {
		clauses = append(clauses, "source_agent = ?")
		args = append(args, filter.SourceAgent)
	}
	if filter.TargetAgent != "" {
		clauses = append(clauses, "target_agent = ?")
		args = append(args, filter.TargetAgent)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, filter.Until.UTC().Format(timeLayout))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var e Event
	var targetAgent, symbol, payloadStr sql.NullString
	var createdAtStr string
	if err := row.Scan(&e.ID, &e.Type, &e.SourceAgent, &targetAgent, &symbol, &payloadStr, &createdAtStr); err != nil {
		return Event{}, err
	}
	e.TargetAgent = targetAgent.String
	e.Symbol = symbol.String
	if payloadStr.Valid && payloadStr.String != "" {
		e.Payload = json.RawMessage(payloadStr.String)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	return e, nil
}

func encodePayload(t schema.EventType, payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	var raw json.RawMessage
	switch v := payload.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		raw = data
	}
	// Validate against the type's schema at the boundary.
	if _, err := schema.DecodePayload(t, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
