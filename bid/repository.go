package bid

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bidflow/apperr"
	"bidflow/db"
)

var (
	ErrNotFound          = apperr.New(apperr.ErrNotFound, "bid: not found")
	ErrUnknownContractor = apperr.New(apperr.ErrValidation, "bid: contractor does not exist")
	ErrAlreadyAccepted   = apperr.New(apperr.ErrInvalidTransition, "bid: project already has an accepted bid")
	ErrStaleStatus       = apperr.New(apperr.ErrInvalidTransition, "bid: status changed concurrently")
	ErrNotProjectOwner   = apperr.New(apperr.ErrForbidden, "bid: only the project owner can decide on bids")
)

const acceptedIndex = "bids_one_accepted_per_project"

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, b Bid) (Bid, error)
	GetByID(ctx context.Context, id string) (Bid, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Bid, error)
	HasAccepted(ctx context.Context, tx pgx.Tx, projectID string) (bool, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) (Bid, error)
	ListForProject(ctx context.Context, projectID string) ([]ProjectListing, error)
	ListForContractor(ctx context.Context, contractorID string) ([]ContractorListing, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const bidColumns = `id, project_id, contractor_id, amount, timeline, description, status, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, b Bid) (Bid, error) {
	query := `
		INSERT INTO bids (id, project_id, contractor_id, amount, timeline, description, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7)
		RETURNING ` + bidColumns

	created, err := scanBid(tx.QueryRow(ctx, query,
		b.ID,
		b.ProjectID,
		b.ContractorID,
		b.Amount,
		b.Timeline,
		b.Description,
		b.Status,
	))
	if err != nil {
		switch {
		case db.IsForeignKeyViolation(err):
			return Bid{}, ErrUnknownContractor
		case db.IsInvalidText(err):
			return Bid{}, apperr.Validation("bid: project id and contractor id must be valid ids")
		}
		return Bid{}, fmt.Errorf("bid: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Bid, error) {
	b, err := scanBid(r.pool.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	if err != nil {
		if db.NoMatch(err) {
			return Bid{}, ErrNotFound
		}
		return Bid{}, fmt.Errorf("bid: get: %w", err)
	}
	return b, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Bid, error) {
	b, err := scanBid(tx.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if db.NoMatch(err) {
			return Bid{}, ErrNotFound
		}
		return Bid{}, fmt.Errorf("bid: get for update: %w", err)
	}
	return b, nil
}

func (r *PGRepository) HasAccepted(ctx context.Context, tx pgx.Tx, projectID string) (bool, error) {
	var exists bool
	const q = `SELECT EXISTS (SELECT 1 FROM bids WHERE project_id = $1 AND status = 'accepted')`
	if err := tx.QueryRow(ctx, q, projectID).Scan(&exists); err != nil {
		return false, fmt.Errorf("bid: check accepted: %w", err)
	}
	return exists, nil
}

// UpdateStatus moves a bid from one status to another only if it is still in
// the expected source status.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) (Bid, error) {
	query := `
		UPDATE bids
		SET status = $3,
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + bidColumns

	b, err := scanBid(tx.QueryRow(ctx, query, id, from, to))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return Bid{}, ErrStaleStatus
		case db.IsUniqueViolation(err, acceptedIndex):
			return Bid{}, ErrAlreadyAccepted
		}
		return Bid{}, fmt.Errorf("bid: update status: %w", err)
	}
	return b, nil
}

func (r *PGRepository) ListForProject(ctx context.Context, projectID string) ([]ProjectListing, error) {
	const query = `
		SELECT b.id, b.project_id, b.contractor_id, b.amount, b.timeline, b.description, b.status, b.created_at, b.updated_at,
		       c.id, c.company_name, c.rating::float8, c.review_count, c.specialties,
		       u.id, u.first_name, u.last_name, u.username
		FROM bids b
		JOIN contractors c ON c.id = b.contractor_id
		JOIN users u ON u.id = c.user_id
		WHERE b.project_id = $1
		ORDER BY b.created_at ASC, b.id ASC
	`

	out := make([]ProjectListing, 0, 8)
	rows, err := r.pool.Query(ctx, query, projectID)
	if db.IsInvalidText(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bid: list for project: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l ProjectListing
			b = &l.Bid
			c = &l.Contractor
		)
		if err := rows.Scan(
			&b.ID, &b.ProjectID, &b.ContractorID, &b.Amount, &b.Timeline, &b.Description, &b.Status, &b.CreatedAt, &b.UpdatedAt,
			&c.ID, &c.CompanyName, &c.Rating, &c.ReviewCount, &c.Specialties,
			&c.UserID, &c.FirstName, &c.LastName, &c.Username,
		); err != nil {
			return nil, fmt.Errorf("bid: scan project listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		if db.IsInvalidText(err) {
			return out[:0], nil
		}
		return nil, fmt.Errorf("bid: iterate project listing: %w", err)
	}
	return out, nil
}

func (r *PGRepository) ListForContractor(ctx context.Context, contractorID string) ([]ContractorListing, error) {
	const query = `
		SELECT b.id, b.project_id, b.contractor_id, b.amount, b.timeline, b.description, b.status, b.created_at, b.updated_at,
		       p.id, p.owner_id, p.title, p.category, p.location, p.status
		FROM bids b
		JOIN projects p ON p.id = b.project_id
		WHERE b.contractor_id = $1
		ORDER BY b.created_at DESC, b.id ASC
	`

	out := make([]ContractorListing, 0, 8)
	rows, err := r.pool.Query(ctx, query, contractorID)
	if db.IsInvalidText(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bid: list for contractor: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l ContractorListing
			b = &l.Bid
			p = &l.Project
		)
		if err := rows.Scan(
			&b.ID, &b.ProjectID, &b.ContractorID, &b.Amount, &b.Timeline, &b.Description, &b.Status, &b.CreatedAt, &b.UpdatedAt,
			&p.ID, &p.OwnerID, &p.Title, &p.Category, &p.Location, &p.Status,
		); err != nil {
			return nil, fmt.Errorf("bid: scan contractor listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		if db.IsInvalidText(err) {
			return out[:0], nil
		}
		return nil, fmt.Errorf("bid: iterate contractor listing: %w", err)
	}
	return out, nil
}

func scanBid(row pgx.Row) (Bid, error) {
	var b Bid
	err := row.Scan(
		&b.ID,
		&b.ProjectID,
		&b.ContractorID,
		&b.Amount,
		&b.Timeline,
		&b.Description,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return b, err
}

// MarkAccepted accepts a pending bid inside tx. An already accepted bid is
// returned unchanged with changed=false; a rejected bid cannot be accepted.
func (r *PGRepository) MarkAccepted(ctx context.Context, tx pgx.Tx, id string) (Bid, bool, error) {
	current, err := r.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Bid{}, false, err
	}
	switch current.Status {
	case StatusAccepted:
		return current, false, nil
	case StatusRejected:
		return Bid{}, false, apperr.InvalidTransitionf("bid: %s was rejected and cannot be accepted", id)
	}
	updated, err := r.UpdateStatus(ctx, tx, id, StatusPending, StatusAccepted)
	if err != nil {
		return Bid{}, false, err
	}
	return updated, true, nil
}
