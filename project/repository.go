package project

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bidflow/apperr"
	"bidflow/db"
)

var (
	ErrNotFound     = apperr.New(apperr.ErrNotFound, "project: not found")
	ErrUnknownOwner = apperr.New(apperr.ErrValidation, "project: owner does not exist")
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, p Project) (Project, error)
	GetByID(ctx context.Context, id string) (Project, error)
	List(ctx context.Context, filters Filters) ([]Project, int, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Project, error)
	UpdateDetails(ctx context.Context, tx pgx.Tx, params UpdateParams) (Project, error)
	MarkAwarded(ctx context.Context, tx pgx.Tx, id string) (Project, bool, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const projectColumns = `id, owner_id, title, description, category, budget_min, budget_max, timeline, location, status, deposit_percentage, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, p Project) (Project, error) {
	query := `
        INSERT INTO projects (id, owner_id, title, description, category, budget_min, budget_max, timeline, location, status, deposit_percentage)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING ` + projectColumns

	created, err := scanProject(tx.QueryRow(ctx, query,
		p.ID,
		p.OwnerID,
		p.Title,
		p.Description,
		p.Category,
		p.BudgetMin,
		p.BudgetMax,
		p.Timeline,
		p.Location,
		p.Status,
		p.DepositPercentage,
	))
	if err != nil {
		if db.IsForeignKeyViolation(err) || db.IsInvalidText(err) {
			return Project{}, ErrUnknownOwner
		}
		return Project{}, fmt.Errorf("project: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	p, err := scanProject(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if db.NoMatch(err) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("project: get: %w", err)
	}
	return p, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Project, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}
	if filters.SortKey == "" {
		filters.SortKey = "createdAt"
	}
	if filters.SortOrder == "" {
		filters.SortOrder = "desc"
	}

	base := `SELECT ` + projectColumns + ` FROM projects`
	where := []string{"1=1"}
	args := []any{}

	if filters.OwnerID != "" {
		where = append(where, fmt.Sprintf("owner_id=$%d", len(args)+1))
		args = append(args, filters.OwnerID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.Category != "" {
		where = append(where, fmt.Sprintf("lower(category)=lower($%d)", len(args)+1))
		args = append(args, filters.Category)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	sortKey := mapSortKey(filters.SortKey)
	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`%s%s ORDER BY %s %s, id LIMIT %d OFFSET %d`, base, whereClause, sortKey, sortOrder, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if db.IsInvalidText(err) {
		return []Project{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("project: query list: %w", err)
	}
	defer rows.Close()

	list := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("project: scan: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		// A malformed owner id matches nothing.
		if db.IsInvalidText(err) {
			return []Project{}, 0, nil
		}
		return nil, 0, fmt.Errorf("project: iterate: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM projects%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("project: count list: %w", err)
	}

	return list, total, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 FOR UPDATE`

	p, err := scanProject(tx.QueryRow(ctx, query, id))
	if err != nil {
		if db.NoMatch(err) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("project: get for update: %w", err)
	}
	return p, nil
}

func (r *PGRepository) UpdateDetails(ctx context.Context, tx pgx.Tx, params UpdateParams) (Project, error) {
	query := `
		UPDATE projects
		SET title              = COALESCE($2, title),
		    description        = COALESCE($3, description),
		    category           = COALESCE($4, category),
		    budget_min         = COALESCE($5, budget_min),
		    budget_max         = COALESCE($6, budget_max),
		    timeline           = COALESCE($7, timeline),
		    location           = COALESCE($8, location),
		    deposit_percentage = COALESCE($9, deposit_percentage),
		    updated_at         = now()
		WHERE id = $1
		RETURNING ` + projectColumns

	p, err := scanProject(tx.QueryRow(ctx, query,
		params.ProjectID,
		params.Title,
		params.Description,
		params.Category,
		params.BudgetMin,
		params.BudgetMax,
		params.Timeline,
		params.Location,
		params.DepositPercentage,
	))
	if err != nil {
		if db.NoMatch(err) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("project: update details: %w", err)
	}
	return p, nil
}

// MarkAwarded moves a project that is still open for bids to awarded. Projects
// already awarded or further along are returned unchanged with changed=false.
func (r *PGRepository) MarkAwarded(ctx context.Context, tx pgx.Tx, id string) (Project, bool, error) {
	query := `
		UPDATE projects
		SET status = 'awarded',
		    updated_at = now()
		WHERE id = $1 AND status IN ('posted', 'bidding')
		RETURNING ` + projectColumns

	p, err := scanProject(tx.QueryRow(ctx, query, id))
	if err == nil {
		return p, true, nil
	}
	switch {
	case db.IsInvalidText(err):
		return Project{}, false, ErrNotFound
	case !errors.Is(err, pgx.ErrNoRows):
		return Project{}, false, fmt.Errorf("project: mark awarded: %w", err)
	}

	current, err := scanProject(tx.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err != nil {
		if db.NoMatch(err) {
			return Project{}, false, ErrNotFound
		}
		return Project{}, false, fmt.Errorf("project: mark awarded fetch: %w", err)
	}
	return current, false, nil
}

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Title,
		&p.Description,
		&p.Category,
		&p.BudgetMin,
		&p.BudgetMax,
		&p.Timeline,
		&p.Location,
		&p.Status,
		&p.DepositPercentage,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func mapSortKey(key string) string {
	switch key {
	case "title":
		return "title"
	case "budgetMin":
		return "budget_min"
	case "budgetMax":
		return "budget_max"
	case "status":
		return "status"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		fallthrough
	default:
		return "created_at"
	}
}
