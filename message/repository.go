package message

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bidflow/apperr"
	"bidflow/db"
)

var (
	ErrNotFound           = apperr.New(apperr.ErrNotFound, "message: not found")
	ErrUnknownParticipant = apperr.New(apperr.ErrValidation, "message: project, sender or receiver does not exist")
)

type Repository interface {
	Create(ctx context.Context, m Message) (Message, error)
	MarkRead(ctx context.Context, id string) (Message, error)
	ListForProject(ctx context.Context, projectID string) ([]Thread, error)
	ListBetween(ctx context.Context, userA, userB string) ([]Thread, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const messageColumns = `id, project_id, sender_id, receiver_id, content, is_read, created_at`

func (r *PGRepository) Create(ctx context.Context, m Message) (Message, error) {
	query := `
		INSERT INTO messages (project_id, sender_id, receiver_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + messageColumns

	created, err := scanMessage(r.pool.QueryRow(ctx, query, m.ProjectID, m.SenderID, m.ReceiverID, m.Content))
	if err != nil {
		if db.IsForeignKeyViolation(err) || db.IsInvalidText(err) {
			return Message{}, ErrUnknownParticipant
		}
		if db.IsCheckViolation(err) {
			return Message{}, apperr.Validation("message: content must be between 1 and 4000 characters")
		}
		return Message{}, fmt.Errorf("message: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) MarkRead(ctx context.Context, id string) (Message, error) {
	query := `UPDATE messages SET is_read = true WHERE id = $1 RETURNING ` + messageColumns
	m, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if db.NoMatch(err) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("message: mark read: %w", err)
	}
	return m, nil
}

const threadSelect = `
	SELECT m.id, m.project_id, m.sender_id, m.receiver_id, m.content, m.is_read, m.created_at,
	       s.id, s.username, s.first_name, s.last_name,
	       rc.id, rc.username, rc.first_name, rc.last_name
	FROM messages m
	JOIN users s ON s.id = m.sender_id
	JOIN users rc ON rc.id = m.receiver_id
`

func (r *PGRepository) ListForProject(ctx context.Context, projectID string) ([]Thread, error) {
	query := threadSelect + ` WHERE m.project_id = $1 ORDER BY m.created_at ASC, m.seq ASC`
	return r.queryThreads(ctx, query, projectID)
}

func (r *PGRepository) ListBetween(ctx context.Context, userA, userB string) ([]Thread, error) {
	query := threadSelect + `
		WHERE (m.sender_id = $1 AND m.receiver_id = $2)
		   OR (m.sender_id = $2 AND m.receiver_id = $1)
		ORDER BY m.created_at ASC, m.seq ASC`
	return r.queryThreads(ctx, query, userA, userB)
}

func (r *PGRepository) queryThreads(ctx context.Context, query string, args ...any) ([]Thread, error) {
	out := []Thread{}
	rows, err := r.pool.Query(ctx, query, args...)
	if db.IsInvalidText(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("message: list: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t  Thread
			m  = &t.Message
			s  = &t.Sender
			rc = &t.Receiver
		)
		if err := rows.Scan(
			&m.ID, &m.ProjectID, &m.SenderID, &m.ReceiverID, &m.Content, &m.IsRead, &m.CreatedAt,
			&s.ID, &s.Username, &s.FirstName, &s.LastName,
			&rc.ID, &rc.Username, &rc.FirstName, &rc.LastName,
		); err != nil {
			return nil, fmt.Errorf("message: scan thread: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		if db.IsInvalidText(err) {
			return out[:0], nil
		}
		return nil, fmt.Errorf("message: iterate: %w", err)
	}
	return out, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ProjectID, &m.SenderID, &m.ReceiverID, &m.Content, &m.IsRead, &m.CreatedAt)
	return m, err
}
