// Package outbox stores integration events next to the business rows that
// produced them and relays them to a Publisher afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"bidflow/db"
)

const (
	TopicBidAccepted      = "bid.accepted"
	TopicDepositCompleted = "deposit.completed"
)

// Writer enqueues messages inside the caller's transaction.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}

type Message struct {
	ID       string
	Topic    string
	Payload  json.RawMessage
	Attempts int
}

// Publisher delivers one message downstream.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// LogPublisher writes messages to the structured log. It is the default sink
// until a broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, msg Message) error {
	p.Logger.InfoContext(ctx, "outbox message", "id", msg.ID, "topic", msg.Topic, "payload", string(msg.Payload))
	return nil
}

// Relay drains pending rows with FOR UPDATE SKIP LOCKED so several relays can
// run side by side.
type Relay struct {
	pool        db.TxBeginner
	publisher   Publisher
	logger      *slog.Logger
	batchSize   int
	maxAttempts int
	interval    time.Duration
}

func NewRelay(pool db.TxBeginner, publisher Publisher, logger *slog.Logger) *Relay {
	return &Relay{
		pool:        pool,
		publisher:   publisher,
		logger:      logger,
		batchSize:   10,
		maxAttempts: 5,
		interval:    time.Second,
	}
}

func (r *Relay) WithInterval(d time.Duration) *Relay {
	r.interval = d
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "outbox relay", "error", err)
			}
		}
	}
}

// Drain processes one batch and returns how many messages were published.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
SELECT id, topic, payload, attempts
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
FOR UPDATE SKIP LOCKED
LIMIT $1
`, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim batch: %w", err)
	}
	batch := make([]Message, 0, r.batchSize)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate: %w", err)
	}

	published := 0
	for _, m := range batch {
		if err := r.publisher.Publish(ctx, m); err != nil {
			status := "pending"
			if m.Attempts+1 >= r.maxAttempts {
				status = "dead"
			}
			r.logger.WarnContext(ctx, "outbox publish failed", "id", m.ID, "topic", m.Topic, "attempt", m.Attempts+1, "error", err)
			if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, status = $2, last_attempt = now() WHERE id = $1`, m.ID, status); err != nil {
				return published, fmt.Errorf("outbox: record attempt: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', last_attempt = now() WHERE id = $1`, m.ID); err != nil {
			return published, fmt.Errorf("outbox: mark processed: %w", err)
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit: %w", err)
	}
	return published, nil
}
