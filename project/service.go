package project

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"bidflow/apperr"
	"bidflow/db"
	"bidflow/timeline"
)

// ownerPageSize is the largest page the repository serves.
const ownerPageSize = 100

type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, projectID, eventType, actorID string, payload map[string]any) error
}

type Service struct {
	pool        db.TxBeginner
	repo        Repository
	timeline    TimelineWriter
	idGenerator func() string
	now         func() time.Time
}

type ListResult struct {
	Items []Project
	Total int
}

func NewService(pool db.TxBeginner, repo Repository, timeline TimelineWriter) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		timeline:    timeline,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) Create(ctx context.Context, params CreateParams) (Project, error) {
	if params.OwnerID == "" {
		return Project{}, apperr.Validation("project: owner is required")
	}
	title := strings.TrimSpace(params.Title)
	description := strings.TrimSpace(params.Description)
	category := strings.TrimSpace(params.Category)
	location := strings.TrimSpace(params.Location)
	if title == "" || description == "" || category == "" || location == "" {
		return Project{}, apperr.Validation("project: title, description, category and location are required")
	}
	if err := validateBudget(params.BudgetMin, params.BudgetMax); err != nil {
		return Project{}, err
	}
	pct := params.DepositPercentage
	if pct == 0 {
		pct = DefaultDepositPercentage
	}
	if pct < 1 || pct > 100 {
		return Project{}, apperr.Validationf("project: deposit percentage must be between 1 and 100, got %d", pct)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Project{}, fmt.Errorf("project: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, Project{
		ID:                s.idGenerator(),
		OwnerID:           params.OwnerID,
		Title:             title,
		Description:       description,
		Category:          category,
		BudgetMin:         params.BudgetMin,
		BudgetMax:         params.BudgetMax,
		Timeline:          params.Timeline,
		Location:          location,
		Status:            StatusPosted,
		DepositPercentage: pct,
	})
	if err != nil {
		return Project{}, err
	}

	if s.timeline != nil {
		payload := map[string]any{
			"title":              created.Title,
			"category":           created.Category,
			"deposit_percentage": created.DepositPercentage,
		}
		if err := s.timeline.Append(ctx, tx, created.ID, timeline.EventProjectPosted, params.OwnerID, payload); err != nil {
			return Project{}, fmt.Errorf("project: append timeline: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Project{}, fmt.Errorf("project: commit tx: %w", err)
	}
	return created, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (Project, error) {
	if id == "" {
		return Project{}, apperr.Validation("project: id is required")
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return ListResult{}, apperr.Validationf("project: unknown status %q", filters.Status)
	}
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// ListByOwner returns every project the user posted, walking the pages of
// List until the total is reached.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Project, error) {
	if ownerID == "" {
		return nil, apperr.Validation("project: owner id is required")
	}
	out := []Project{}
	for page := 1; ; page++ {
		items, total, err := s.repo.List(ctx, Filters{OwnerID: ownerID, Page: page, PageSize: ownerPageSize})
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if len(items) < ownerPageSize || len(out) >= total {
			return out, nil
		}
	}
}

// UpdateDetails edits descriptive fields. Only the owner may edit, and the
// deposit percentage only affects deposits initiated afterwards.
func (s *Service) UpdateDetails(ctx context.Context, params UpdateParams) (Project, error) {
	if params.ProjectID == "" {
		return Project{}, apperr.Validation("project: id is required")
	}
	for _, f := range []*string{params.Title, params.Description, params.Category, params.Location} {
		if f != nil {
			*f = strings.TrimSpace(*f)
			if *f == "" {
				return Project{}, apperr.Validation("project: fields must not be blank")
			}
		}
	}
	if params.DepositPercentage != nil && (*params.DepositPercentage < 1 || *params.DepositPercentage > 100) {
		return Project{}, apperr.Validationf("project: deposit percentage must be between 1 and 100, got %d", *params.DepositPercentage)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Project{}, fmt.Errorf("project: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, params.ProjectID)
	if err != nil {
		return Project{}, err
	}
	if current.OwnerID != params.ActorID {
		return Project{}, apperr.New(apperr.ErrForbidden, "project: only the owner can edit a project")
	}

	minB, maxB := current.BudgetMin, current.BudgetMax
	if params.BudgetMin != nil {
		minB = params.BudgetMin
	}
	if params.BudgetMax != nil {
		maxB = params.BudgetMax
	}
	if err := validateBudget(minB, maxB); err != nil {
		return Project{}, err
	}

	updated, err := s.repo.UpdateDetails(ctx, tx, params)
	if err != nil {
		return Project{}, err
	}

	if s.timeline != nil {
		payload := map[string]any{"deposit_percentage": updated.DepositPercentage}
		if err := s.timeline.Append(ctx, tx, updated.ID, timeline.EventProjectUpdated, params.ActorID, payload); err != nil {
			return Project{}, fmt.Errorf("project: append timeline: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Project{}, fmt.Errorf("project: commit tx: %w", err)
	}
	return updated, nil
}

func validateBudget(minB, maxB *int64) error {
	if minB != nil && *minB < 0 {
		return apperr.Validation("project: budgetMin must not be negative")
	}
	if maxB != nil && *maxB < 0 {
		return apperr.Validation("project: budgetMax must not be negative")
	}
	if minB != nil && maxB != nil && *minB > *maxB {
		return apperr.Validation("project: budgetMin must not exceed budgetMax")
	}
	return nil
}
