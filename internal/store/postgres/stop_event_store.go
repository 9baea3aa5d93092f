package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketgate/internal/emergency"
)

// StopEventStore persists emergency stop events for audit. The controller
// writes the same event twice (persist-first, then with final counts) so
// saves are upserts keyed on the event id.
type StopEventStore struct {
	pool *pgxpool.Pool
}

// NewStopEventStore creates a StopEventStore backed by the given pool.
func NewStopEventStore(pool *pgxpool.Pool) *StopEventStore {
	return &StopEventStore{pool: pool}
}

// SaveStopEvent inserts or updates a stop event.
func (s *StopEventStore) SaveStopEvent(ctx context.Context, event emergency.StopEvent) error {
	const query = `
		INSERT INTO stop_events (
			id, triggered_at, reason, description, triggered_by,
			agents_stopped, orders_cancelled, websockets_closed,
			auto_resume_at, resumed_at, resumed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			agents_stopped = EXCLUDED.agents_stopped,
			orders_cancelled = EXCLUDED.orders_cancelled,
			websockets_closed = EXCLUDED.websockets_closed,
			auto_resume_at = EXCLUDED.auto_resume_at,
			resumed_at = EXCLUDED.resumed_at,
			resumed_by = EXCLUDED.resumed_by`

	var resumedBy any
	if event.ResumedBy != "" {
		resumedBy = event.ResumedBy
	}

	_, err := s.pool.Exec(ctx, query,
		event.ID, event.Timestamp, string(event.Reason), event.Description,
		event.TriggeredBy, event.AgentsStopped, event.OrdersCancelled,
		event.WebsocketsClosed, event.AutoResumeAt, event.ResumedAt, resumedBy,
	)
	if err != nil {
		return fmt.Errorf("postgres: save stop event %s: %w", event.ID, err)
	}
	return nil
}

// ListStopEvents returns the most recent stop events, newest first.
func (s *StopEventStore) ListStopEvents(ctx context.Context, limit int) ([]emergency.StopEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT id, triggered_at, reason, description, triggered_by,
		       agents_stopped, orders_cancelled, websockets_closed,
		       auto_resume_at, resumed_at, COALESCE(resumed_by, '')
		FROM stop_events
		ORDER BY triggered_at DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stop events: %w", err)
	}
	defer rows.Close()

	var events []emergency.StopEvent
	for rows.Next() {
		var ev emergency.StopEvent
		var reason string
		if err := rows.Scan(
			&ev.ID, &ev.Timestamp, &reason, &ev.Description, &ev.TriggeredBy,
			&ev.AgentsStopped, &ev.OrdersCancelled, &ev.WebsocketsClosed,
			&ev.AutoResumeAt, &ev.ResumedAt, &ev.ResumedBy,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan stop event: %w", err)
		}
		ev.Reason = emergency.StopReason(reason)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list stop events rows: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ emergency.EventStore = (*StopEventStore)(nil)
