package deposit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bidflow/apperr"
	"bidflow/db"
)

var (
	ErrNotFound           = apperr.New(apperr.ErrNotFound, "deposit: not found")
	ErrDuplicateIntent    = apperr.New(apperr.ErrConflict, "deposit: payment intent already recorded")
	ErrUnknownParticipant = apperr.New(apperr.ErrValidation, "deposit: referenced project, bid, contractor or payer does not exist")
	ErrNotOpen            = apperr.New(apperr.ErrInvalidTransition, "deposit: no longer open")
	ErrActiveDeposit      = apperr.New(apperr.ErrInvalidTransition, "deposit: bid already has an open or completed deposit")
)

const (
	intentIndex       = "deposits_payment_intent_key"
	activePerBidIndex = "deposits_one_active_per_bid"
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, d Deposit) (Deposit, error)
	GetByID(ctx context.Context, id string) (Deposit, error)
	GetByPaymentIntent(ctx context.Context, intentID string) (Deposit, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Deposit, error)
	FindActiveForBid(ctx context.Context, bidID string) (Deposit, bool, error)
	MarkCompleted(ctx context.Context, tx pgx.Tx, id string, paidAt time.Time, chargeID string) (Deposit, error)
	MarkFailed(ctx context.Context, tx pgx.Tx, id string) (Deposit, error)
	ListByProject(ctx context.Context, projectID string) ([]Deposit, error)
	ListByContractor(ctx context.Context, contractorID string) ([]Deposit, error)
	ListByPayer(ctx context.Context, payerID string) ([]Deposit, error)
	ClaimWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error)
	ReleaseWebhookEvent(ctx context.Context, eventID string) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const depositColumns = `id, project_id, contractor_id, bid_id, payer_id, amount, currency, status, payment_intent_id,
	charge_id, description, due_date, paid_at, refunded_at, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, d Deposit) (Deposit, error) {
	query := `
		INSERT INTO deposits (id, project_id, contractor_id, bid_id, payer_id, amount, currency, status, payment_intent_id, description, due_date)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + depositColumns

	created, err := scanDeposit(tx.QueryRow(ctx, query,
		d.ID,
		d.ProjectID,
		d.ContractorID,
		d.BidID,
		d.PayerID,
		d.Amount,
		d.Currency,
		d.Status,
		d.PaymentIntentID,
		d.Description,
		d.DueDate,
	))
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, intentIndex):
			return Deposit{}, ErrDuplicateIntent
		case db.IsUniqueViolation(err, activePerBidIndex):
			return Deposit{}, ErrActiveDeposit
		case db.IsForeignKeyViolation(err), db.IsInvalidText(err):
			return Deposit{}, ErrUnknownParticipant
		}
		return Deposit{}, fmt.Errorf("deposit: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Deposit, error) {
	return r.getOne(ctx, r.pool, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id)
}

func (r *PGRepository) GetByPaymentIntent(ctx context.Context, intentID string) (Deposit, error) {
	return r.getOne(ctx, r.pool, `SELECT `+depositColumns+` FROM deposits WHERE payment_intent_id = $1`, intentID)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Deposit, error) {
	return r.getOne(ctx, tx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, id)
}

// FindActiveForBid returns the bid's pending, processing or completed
// deposit, if any.
func (r *PGRepository) FindActiveForBid(ctx context.Context, bidID string) (Deposit, bool, error) {
	d, err := r.getOne(ctx, r.pool, `SELECT `+depositColumns+` FROM deposits
		WHERE bid_id = $1 AND status IN ('pending', 'processing', 'completed')`, bidID)
	switch {
	case errors.Is(err, ErrNotFound):
		return Deposit{}, false, nil
	case err != nil:
		return Deposit{}, false, err
	}
	return d, true, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PGRepository) getOne(ctx context.Context, q queryRower, query string, arg string) (Deposit, error) {
	d, err := scanDeposit(q.QueryRow(ctx, query, arg))
	if err != nil {
		if db.NoMatch(err) {
			return Deposit{}, ErrNotFound
		}
		return Deposit{}, fmt.Errorf("deposit: get: %w", err)
	}
	return d, nil
}

// MarkCompleted settles an open deposit. It returns ErrNotOpen when the row
// has already left pending/processing.
func (r *PGRepository) MarkCompleted(ctx context.Context, tx pgx.Tx, id string, paidAt time.Time, chargeID string) (Deposit, error) {
	query := `
		UPDATE deposits
		SET status = 'completed',
		    paid_at = $2,
		    charge_id = NULLIF($3, ''),
		    updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING ` + depositColumns

	d, err := scanDeposit(tx.QueryRow(ctx, query, id, paidAt, chargeID))
	if err != nil {
		if db.NoMatch(err) {
			return Deposit{}, ErrNotOpen
		}
		return Deposit{}, fmt.Errorf("deposit: mark completed: %w", err)
	}
	return d, nil
}

func (r *PGRepository) MarkFailed(ctx context.Context, tx pgx.Tx, id string) (Deposit, error) {
	query := `
		UPDATE deposits
		SET status = 'failed',
		    updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING ` + depositColumns

	d, err := scanDeposit(tx.QueryRow(ctx, query, id))
	if err != nil {
		if db.NoMatch(err) {
			return Deposit{}, ErrNotOpen
		}
		return Deposit{}, fmt.Errorf("deposit: mark failed: %w", err)
	}
	return d, nil
}

func (r *PGRepository) ListByProject(ctx context.Context, projectID string) ([]Deposit, error) {
	return r.list(ctx, "project_id", projectID)
}

func (r *PGRepository) ListByContractor(ctx context.Context, contractorID string) ([]Deposit, error) {
	return r.list(ctx, "contractor_id", contractorID)
}

func (r *PGRepository) ListByPayer(ctx context.Context, payerID string) ([]Deposit, error) {
	return r.list(ctx, "payer_id", payerID)
}

// list is only called with fixed column names.
func (r *PGRepository) list(ctx context.Context, column, value string) ([]Deposit, error) {
	query := fmt.Sprintf(`SELECT %s FROM deposits WHERE %s = $1 ORDER BY created_at DESC, id`, depositColumns, column)
	out := []Deposit{}
	rows, err := r.pool.Query(ctx, query, value)
	if db.IsInvalidText(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("deposit: list by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("deposit: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		if db.IsInvalidText(err) {
			return out[:0], nil
		}
		return nil, fmt.Errorf("deposit: iterate: %w", err)
	}
	return out, nil
}

// ClaimWebhookEvent records a processor event id. It reports false when the
// event was already claimed by an earlier delivery.
func (r *PGRepository) ClaimWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	const q = `INSERT INTO webhook_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("deposit: claim webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) ReleaseWebhookEvent(ctx context.Context, eventID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM webhook_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("deposit: release webhook event: %w", err)
	}
	return nil
}

func scanDeposit(row pgx.Row) (Deposit, error) {
	var d Deposit
	err := row.Scan(
		&d.ID,
		&d.ProjectID,
		&d.ContractorID,
		&d.BidID,
		&d.PayerID,
		&d.Amount,
		&d.Currency,
		&d.Status,
		&d.PaymentIntentID,
		&d.ChargeID,
		&d.Description,
		&d.DueDate,
		&d.PaidAt,
		&d.RefundedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	return d, err
}
