// Package timeline keeps the append-only per-project event log. Writes happen
// inside the caller's transaction so an event exists exactly when the state
// change it describes was committed.
package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bidflow/db"
)

const (
	EventProjectPosted    = "PROJECT_POSTED"
	EventProjectUpdated   = "PROJECT_UPDATED"
	EventBidSubmitted     = "BID_SUBMITTED"
	EventBidAccepted      = "BID_ACCEPTED"
	EventBidRejected      = "BID_REJECTED"
	EventDepositInitiated = "DEPOSIT_INITIATED"
	EventDepositCompleted = "DEPOSIT_COMPLETED"
	EventDepositFailed    = "DEPOSIT_FAILED"
)

type Event struct {
	ID        int64
	ProjectID string
	Type      string
	ActorID   *string
	Payload   map[string]any
	CreatedAt time.Time
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append writes one event within tx. An empty actorID is stored as NULL.
func (s *Store) Append(ctx context.Context, tx pgx.Tx, projectID, eventType, actorID string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	const q = `
INSERT INTO timeline_events (project_id, type, payload, actor_id)
VALUES ($1, $2, $3::jsonb, $4::uuid)
`
	if _, err := tx.Exec(ctx, q, projectID, eventType, body, actor); err != nil {
		return fmt.Errorf("timeline: insert event: %w", err)
	}
	return nil
}

// ListByProject returns events oldest first.
func (s *Store) ListByProject(ctx context.Context, projectID string) ([]Event, error) {
	const q = `
SELECT id, project_id, type, actor_id, payload, created_at
FROM timeline_events
WHERE project_id = $1
ORDER BY id ASC
`
	out := make([]Event, 0, 16)
	rows, err := s.pool.Query(ctx, q, projectID)
	if db.IsInvalidText(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("timeline: list: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev   Event
			body []byte
		)
		if err := rows.Scan(&ev.ID, &ev.ProjectID, &ev.Type, &ev.ActorID, &body, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("timeline: scan: %w", err)
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &ev.Payload); err != nil {
				return nil, fmt.Errorf("timeline: decode payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		if db.IsInvalidText(err) {
			return out[:0], nil
		}
		return nil, fmt.Errorf("timeline: iterate: %w", err)
	}
	return out, nil
}
