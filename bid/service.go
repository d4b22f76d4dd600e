package bid

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"bidflow/apperr"
	"bidflow/db"
	"bidflow/outbox"
	"bidflow/project"
	"bidflow/timeline"
)

// ProjectStore is the slice of the project repository the bid lifecycle needs.
type ProjectStore interface {
	GetByID(ctx context.Context, id string) (project.Project, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (project.Project, error)
	MarkAwarded(ctx context.Context, tx pgx.Tx, id string) (project.Project, bool, error)
}

type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, projectID, eventType, actorID string, payload map[string]any) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool        db.TxBeginner
	repo        Repository
	projects    ProjectStore
	timeline    TimelineWriter
	outbox      OutboxWriter
	idGenerator func() string
}

func NewService(pool db.TxBeginner, repo Repository, projects ProjectStore, timeline TimelineWriter, outbox OutboxWriter) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		projects:    projects,
		timeline:    timeline,
		outbox:      outbox,
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Submit places a pending bid on a project that is still open for bids. The
// project row is locked for the duration so a concurrent award cannot slip in
// between the status check and the insert.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Bid, error) {
	if params.ProjectID == "" || params.ContractorID == "" {
		return Bid{}, apperr.Validation("bid: project and contractor are required")
	}
	if params.Amount <= 0 {
		return Bid{}, apperr.Validationf("bid: amount must be positive, got %d", params.Amount)
	}
	timelineText := strings.TrimSpace(params.Timeline)
	if timelineText == "" {
		return Bid{}, apperr.Validation("bid: timeline is required")
	}
	if params.Description != nil {
		d := strings.TrimSpace(*params.Description)
		if d == "" {
			params.Description = nil
		} else {
			params.Description = &d
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.projects.GetForUpdate(ctx, tx, params.ProjectID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Bid{}, apperr.Validationf("bid: project %s does not exist", params.ProjectID)
		}
		return Bid{}, err
	}
	if !p.Status.AcceptsBids() {
		return Bid{}, apperr.InvalidTransitionf("bid: project %s is %s and no longer accepts bids", p.ID, p.Status)
	}

	created, err := s.repo.Create(ctx, tx, Bid{
		ID:           s.idGenerator(),
		ProjectID:    p.ID,
		ContractorID: params.ContractorID,
		Amount:       params.Amount,
		Timeline:     timelineText,
		Description:  params.Description,
		Status:       StatusPending,
	})
	if err != nil {
		return Bid{}, err
	}

	if s.timeline != nil {
		payload := map[string]any{
			"bid_id":        created.ID,
			"contractor_id": created.ContractorID,
			"amount":        created.Amount,
		}
		if err := s.timeline.Append(ctx, tx, p.ID, timeline.EventBidSubmitted, params.ActorID, payload); err != nil {
			return Bid{}, fmt.Errorf("bid: append timeline: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Bid{}, fmt.Errorf("bid: commit tx: %w", err)
	}
	return created, nil
}

// SetStatus accepts or rejects a pending bid. Accepting awards the project in
// the same transaction. Locks are taken bid first, then project.
func (s *Service) SetStatus(ctx context.Context, params SetStatusParams) (Bid, error) {
	if params.BidID == "" {
		return Bid{}, apperr.Validation("bid: id is required")
	}
	if params.Status != StatusAccepted && params.Status != StatusRejected {
		return Bid{}, apperr.Validationf("bid: status must be accepted or rejected, got %q", params.Status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, params.BidID)
	if err != nil {
		return Bid{}, err
	}
	p, err := s.projects.GetForUpdate(ctx, tx, current.ProjectID)
	if err != nil {
		return Bid{}, err
	}
	// Ownership first: a stranger must not learn the bid's status.
	if params.ActorID != "" && p.OwnerID != params.ActorID {
		return Bid{}, ErrNotProjectOwner
	}
	if current.Status != StatusPending {
		return Bid{}, apperr.InvalidTransitionf("bid: cannot move %s bid to %s", current.Status, params.Status)
	}

	var updated Bid
	switch params.Status {
	case StatusAccepted:
		updated, err = s.accept(ctx, tx, current, params.ActorID)
	case StatusRejected:
		updated, err = s.reject(ctx, tx, current, params.ActorID)
	}
	if err != nil {
		return Bid{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Bid{}, fmt.Errorf("bid: commit tx: %w", err)
	}
	return updated, nil
}

func (s *Service) accept(ctx context.Context, tx pgx.Tx, current Bid, actorID string) (Bid, error) {
	taken, err := s.repo.HasAccepted(ctx, tx, current.ProjectID)
	if err != nil {
		return Bid{}, err
	}
	if taken {
		return Bid{}, ErrAlreadyAccepted
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, current.ID, StatusPending, StatusAccepted)
	if err != nil {
		return Bid{}, err
	}
	if _, _, err := s.projects.MarkAwarded(ctx, tx, updated.ProjectID); err != nil {
		return Bid{}, err
	}

	payload := map[string]any{
		"bid_id":        updated.ID,
		"project_id":    updated.ProjectID,
		"contractor_id": updated.ContractorID,
		"amount":        updated.Amount,
	}
	if s.timeline != nil {
		if err := s.timeline.Append(ctx, tx, updated.ProjectID, timeline.EventBidAccepted, actorID, payload); err != nil {
			return Bid{}, fmt.Errorf("bid: append timeline: %w", err)
		}
	}
	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicBidAccepted, payload); err != nil {
			return Bid{}, fmt.Errorf("bid: enqueue outbox: %w", err)
		}
	}
	return updated, nil
}

func (s *Service) reject(ctx context.Context, tx pgx.Tx, current Bid, actorID string) (Bid, error) {
	updated, err := s.repo.UpdateStatus(ctx, tx, current.ID, StatusPending, StatusRejected)
	if err != nil {
		return Bid{}, err
	}
	if s.timeline != nil {
		payload := map[string]any{"bid_id": updated.ID, "contractor_id": updated.ContractorID}
		if err := s.timeline.Append(ctx, tx, updated.ProjectID, timeline.EventBidRejected, actorID, payload); err != nil {
			return Bid{}, fmt.Errorf("bid: append timeline: %w", err)
		}
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id string) (Bid, error) {
	if id == "" {
		return Bid{}, apperr.Validation("bid: id is required")
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListForProject(ctx context.Context, projectID string) ([]ProjectListing, error) {
	if projectID == "" {
		return nil, apperr.Validation("bid: project id is required")
	}
	if _, err := s.projects.GetByID(ctx, projectID); err != nil {
		return nil, err
	}
	return s.repo.ListForProject(ctx, projectID)
}

func (s *Service) ListForContractor(ctx context.Context, contractorID string) ([]ContractorListing, error) {
	if contractorID == "" {
		return nil, apperr.Validation("bid: contractor id is required")
	}
	return s.repo.ListForContractor(ctx, contractorID)
}
