package contractor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bidflow/apperr"
	"bidflow/db"
)

var (
	ErrNotFound       = apperr.New(apperr.ErrNotFound, "contractor: not found")
	ErrProfileExists  = apperr.New(apperr.ErrConflict, "contractor: profile already exists for user")
	ErrUnknownUser    = apperr.New(apperr.ErrValidation, "contractor: user does not exist")
	errNegativeExpYrs = apperr.New(apperr.ErrValidation, "contractor: experience must not be negative")
)

// Repository fetches and stores contractor profiles from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a Repository backed by the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const profileColumns = `id, user_id, company_name, description, specialties, experience_years, rating::float8, review_count, licenses, insured, created_at, updated_at`

func (r *Repository) Create(ctx context.Context, params CreateParams) (Profile, error) {
	query := `
		INSERT INTO contractors (user_id, company_name, description, specialties, experience_years, licenses, insured)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + profileColumns

	p, err := scanProfile(r.pool.QueryRow(ctx, query,
		params.UserID,
		params.CompanyName,
		params.Description,
		nonNil(params.Specialties),
		params.ExperienceYears,
		nonNil(params.Licenses),
		params.Insured,
	))
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, "contractors_user_id_key"):
			return Profile{}, ErrProfileExists
		case db.IsForeignKeyViolation(err), db.IsInvalidText(err):
			return Profile{}, ErrUnknownUser
		case db.IsCheckViolation(err):
			return Profile{}, errNegativeExpYrs
		}
		return Profile{}, fmt.Errorf("contractor: create: %w", err)
	}
	return p, nil
}

// GetByID loads a profile by its identifier.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM contractors WHERE id = $1`
	p, err := scanProfile(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if db.NoMatch(err) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("contractor: get by id: %w", err)
	}
	return p, nil
}

func (r *Repository) GetByUserID(ctx context.Context, userID string) (Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM contractors WHERE user_id = $1`
	p, err := scanProfile(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if db.NoMatch(err) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("contractor: get by user: %w", err)
	}
	return p, nil
}

// List returns up to limit contractor profiles ordered by rating.
func (r *Repository) List(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT ` + profileColumns + `
		FROM contractors
		ORDER BY rating DESC, created_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("contractor: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("contractor: scan: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contractor: iterate: %w", err)
	}
	return profiles, nil
}

func (r *Repository) Update(ctx context.Context, params UpdateParams) (Profile, error) {
	query := `
		UPDATE contractors
		SET company_name     = COALESCE($2, company_name),
		    description      = COALESCE($3, description),
		    specialties      = COALESCE($4, specialties),
		    experience_years = COALESCE($5, experience_years),
		    licenses         = COALESCE($6, licenses),
		    insured          = COALESCE($7, insured),
		    updated_at       = now()
		WHERE id = $1
		RETURNING ` + profileColumns

	p, err := scanProfile(r.pool.QueryRow(ctx, query,
		params.ID,
		params.CompanyName,
		params.Description,
		params.Specialties,
		params.ExperienceYears,
		params.Licenses,
		params.Insured,
	))
	if err != nil {
		if db.NoMatch(err) {
			return Profile{}, ErrNotFound
		}
		if db.IsCheckViolation(err) {
			return Profile{}, errNegativeExpYrs
		}
		return Profile{}, fmt.Errorf("contractor: update: %w", err)
	}
	return p, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.CompanyName,
		&p.Description,
		&p.Specialties,
		&p.ExperienceYears,
		&p.Rating,
		&p.ReviewCount,
		&p.Licenses,
		&p.Insured,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
