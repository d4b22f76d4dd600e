package deposit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"bidflow/apperr"
	"bidflow/bid"
	"bidflow/db"
	"bidflow/outbox"
	"bidflow/payment"
	"bidflow/project"
	"bidflow/timeline"
)

const dueIn = 7 * 24 * time.Hour

// ErrPaymentNotCompleted is returned together with the failed deposit when the
// processor reports that the intent did not succeed.
var ErrPaymentNotCompleted = apperr.New(apperr.ErrExternalService, "Payment not completed")

// ErrUnappliedCapture means the processor took a payment for a deposit that
// can no longer settle. It carries no kind so callers treat it as a failure.
var ErrUnappliedCapture = errors.New("deposit: processor captured a payment the deposit cannot take")

type BidStore interface {
	GetByID(ctx context.Context, id string) (bid.Bid, error)
	MarkAccepted(ctx context.Context, tx pgx.Tx, id string) (bid.Bid, bool, error)
}

type ProjectStore interface {
	GetByID(ctx context.Context, id string) (project.Project, error)
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
	bids        BidStore
	projects    ProjectStore
	bridge      payment.Bridge
	timeline    TimelineWriter
	outbox      OutboxWriter
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool db.TxBeginner, repo Repository, bids BidStore, projects ProjectStore, bridge payment.Bridge, timeline TimelineWriter, outbox OutboxWriter) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		bids:        bids,
		projects:    projects,
		bridge:      bridge,
		timeline:    timeline,
		outbox:      outbox,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Initiate opens a payment intent for the deposit on a bid and records the
// pending deposit. The amount is fixed here from the project's current deposit
// percentage.
func (s *Service) Initiate(ctx context.Context, params InitiateParams) (InitiateResult, error) {
	if params.BidID == "" || params.ProjectID == "" {
		return InitiateResult{}, apperr.Validation("deposit: bid and project are required")
	}

	b, err := s.bids.GetByID(ctx, params.BidID)
	if err != nil {
		return InitiateResult{}, err
	}
	if b.ProjectID != params.ProjectID {
		return InitiateResult{}, apperr.Validationf("deposit: bid %s does not belong to project %s", b.ID, params.ProjectID)
	}
	if b.Status == bid.StatusRejected {
		return InitiateResult{}, apperr.InvalidTransitionf("deposit: bid %s was rejected", b.ID)
	}

	p, err := s.projects.GetByID(ctx, params.ProjectID)
	if err != nil {
		return InitiateResult{}, err
	}

	_, open, err := s.repo.FindActiveForBid(ctx, b.ID)
	if err != nil {
		return InitiateResult{}, err
	}
	if open {
		return InitiateResult{}, ErrActiveDeposit
	}

	contractorID := params.ContractorID
	if contractorID == "" {
		contractorID = b.ContractorID
	}
	if contractorID != b.ContractorID {
		return InitiateResult{}, apperr.Validation("deposit: contractor does not match the bid")
	}
	payerID := params.PayerID
	if payerID == "" {
		payerID = p.OwnerID
	}
	if payerID != p.OwnerID {
		return InitiateResult{}, apperr.Validation("deposit: payer must be the project owner")
	}

	amount := ComputeAmount(b.Amount, p.DepositPercentage)
	if params.Amount != 0 && params.Amount*centsPerUnit != amount {
		return InitiateResult{}, apperr.Validationf("deposit: expected amount %d does not match computed deposit %d", params.Amount, amount/centsPerUnit)
	}

	description := strings.TrimSpace(params.Description)
	if description == "" {
		description = "Deposit for project: " + p.Title
	}

	intent, err := s.bridge.CreateIntent(ctx, payment.CreateIntentParams{
		Amount:      amount,
		Currency:    payment.CurrencyUSD,
		Description: description,
		Metadata: map[string]string{
			"projectId":    p.ID,
			"bidId":        b.ID,
			"contractorId": contractorID,
			"type":         "project_deposit",
		},
	})
	if err != nil {
		if errors.Is(err, apperr.ErrExternalService) {
			return InitiateResult{}, err
		}
		return InitiateResult{}, apperr.Wrap(apperr.ErrExternalService, "deposit: create payment intent: "+err.Error(), err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("deposit: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, Deposit{
		ID:              s.idGenerator(),
		ProjectID:       p.ID,
		ContractorID:    contractorID,
		BidID:           b.ID,
		PayerID:         payerID,
		Amount:          amount,
		Currency:        payment.CurrencyUSD,
		Status:          StatusPending,
		PaymentIntentID: intent.ID,
		Description:     description,
		DueDate:         s.now().Add(dueIn),
	})
	if err != nil {
		return InitiateResult{}, err
	}

	if s.timeline != nil {
		payload := map[string]any{
			"deposit_id":         created.ID,
			"bid_id":             b.ID,
			"amount":             amount,
			"deposit_percentage": p.DepositPercentage,
		}
		if err := s.timeline.Append(ctx, tx, p.ID, timeline.EventDepositInitiated, params.ActorID, payload); err != nil {
			return InitiateResult{}, fmt.Errorf("deposit: append timeline: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return InitiateResult{}, fmt.Errorf("deposit: commit tx: %w", err)
	}
	return InitiateResult{ClientSecret: intent.ClientSecret, DepositID: created.ID, Amount: amount}, nil
}

// Confirm settles a deposit from the processor's view of its payment intent.
// A succeeded intent completes the deposit and accepts the bid and awards the
// project in one transaction; anything else fails the deposit.
func (s *Service) Confirm(ctx context.Context, params ConfirmParams) (Deposit, error) {
	if params.PaymentIntentID == "" || params.DepositID == "" {
		return Deposit{}, apperr.Validation("deposit: missing payment intent ID or deposit ID")
	}

	current, err := s.repo.GetByID(ctx, params.DepositID)
	if err != nil {
		return Deposit{}, err
	}
	if current.PaymentIntentID != params.PaymentIntentID {
		return Deposit{}, apperr.Validation("deposit: payment intent does not belong to this deposit")
	}
	switch {
	case current.Status == StatusCompleted:
		return current, nil
	case !current.Status.Open():
		return Deposit{}, apperr.InvalidTransitionf("deposit: %s is %s", current.ID, current.Status)
	}

	intent, err := s.bridge.RetrieveIntent(ctx, params.PaymentIntentID)
	if err != nil {
		if errors.Is(err, apperr.ErrExternalService) {
			return Deposit{}, err
		}
		return Deposit{}, apperr.Wrap(apperr.ErrExternalService, "deposit: retrieve payment intent: "+err.Error(), err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Deposit{}, fmt.Errorf("deposit: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	locked, err := s.repo.GetForUpdate(ctx, tx, current.ID)
	if err != nil {
		return Deposit{}, err
	}
	switch {
	case locked.Status == StatusCompleted:
		return locked, nil
	case !locked.Status.Open():
		return Deposit{}, apperr.InvalidTransitionf("deposit: %s is %s", locked.ID, locked.Status)
	}

	if !intent.Succeeded() {
		failed, err := s.fail(ctx, tx, locked, intent, params.ActorID)
		if err != nil {
			return Deposit{}, err
		}
		return failed, ErrPaymentNotCompleted
	}

	completed, err := s.complete(ctx, tx, locked, intent, params.ActorID)
	if err != nil {
		return Deposit{}, err
	}
	return completed, nil
}

func (s *Service) complete(ctx context.Context, tx pgx.Tx, d Deposit, intent payment.Intent, actorID string) (Deposit, error) {
	completed, err := s.repo.MarkCompleted(ctx, tx, d.ID, s.now().UTC(), intent.ChargeID)
	if err != nil {
		return Deposit{}, err
	}
	accepted, bidChanged, err := s.bids.MarkAccepted(ctx, tx, completed.BidID)
	if err != nil {
		return Deposit{}, err
	}
	_, projectChanged, err := s.projects.MarkAwarded(ctx, tx, completed.ProjectID)
	if err != nil {
		return Deposit{}, err
	}

	payload := map[string]any{
		"deposit_id":      completed.ID,
		"bid_id":          completed.BidID,
		"project_id":      completed.ProjectID,
		"contractor_id":   completed.ContractorID,
		"amount":          completed.Amount,
		"bid_accepted":    bidChanged,
		"project_awarded": projectChanged,
	}
	if s.timeline != nil {
		if bidChanged {
			bidPayload := map[string]any{"bid_id": accepted.ID, "contractor_id": accepted.ContractorID, "via": "deposit"}
			if err := s.timeline.Append(ctx, tx, completed.ProjectID, timeline.EventBidAccepted, actorID, bidPayload); err != nil {
				return Deposit{}, fmt.Errorf("deposit: append timeline: %w", err)
			}
		}
		if err := s.timeline.Append(ctx, tx, completed.ProjectID, timeline.EventDepositCompleted, actorID, payload); err != nil {
			return Deposit{}, fmt.Errorf("deposit: append timeline: %w", err)
		}
	}
	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, outbox.TopicDepositCompleted, payload); err != nil {
			return Deposit{}, fmt.Errorf("deposit: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Deposit{}, fmt.Errorf("deposit: commit tx: %w", err)
	}
	return completed, nil
}

func (s *Service) fail(ctx context.Context, tx pgx.Tx, d Deposit, intent payment.Intent, actorID string) (Deposit, error) {
	failed, err := s.repo.MarkFailed(ctx, tx, d.ID)
	if err != nil {
		return Deposit{}, err
	}
	if s.timeline != nil {
		payload := map[string]any{"deposit_id": failed.ID, "intent_status": intent.Status}
		if err := s.timeline.Append(ctx, tx, failed.ProjectID, timeline.EventDepositFailed, actorID, payload); err != nil {
			return Deposit{}, fmt.Errorf("deposit: append timeline: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Deposit{}, fmt.Errorf("deposit: commit tx: %w", err)
	}
	return failed, nil
}

// HandleWebhook applies a verified processor event. Each event id is
// processed at most once; the claim is released on infrastructure failures so
// the processor's retry can succeed.
//
// Only a succeeded intent settles a deposit. A declined attempt leaves the
// intent open for another payment method, so payment_failed events do not
// close the deposit.
func (s *Service) HandleWebhook(ctx context.Context, ev payment.Event) error {
	if ev.Type != payment.EventIntentSucceeded || ev.PaymentIntentID == "" {
		return nil
	}
	if ev.ID == "" {
		return apperr.Validation("deposit: webhook event id is required")
	}

	claimed, err := s.repo.ClaimWebhookEvent(ctx, ev.ID, ev.Type)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	d, err := s.repo.GetByPaymentIntent(ctx, ev.PaymentIntentID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return s.release(ctx, ev.ID, err)
	}

	_, err = s.Confirm(ctx, ConfirmParams{PaymentIntentID: d.PaymentIntentID, DepositID: d.ID})
	switch {
	case err == nil, errors.Is(err, ErrPaymentNotCompleted):
		return nil
	case errors.Is(err, apperr.ErrInvalidTransition):
		captured, cerr := s.capturedOnClosed(ctx, d.ID)
		switch {
		case cerr != nil:
			return s.release(ctx, ev.ID, cerr)
		case captured:
			// Keep redelivering until the payment is refunded by hand.
			return s.release(ctx, ev.ID, fmt.Errorf("%w: deposit %s, intent %s: %v", ErrUnappliedCapture, d.ID, d.PaymentIntentID, err))
		}
		return nil
	case isBusinessError(err):
		return nil
	default:
		return s.release(ctx, ev.ID, err)
	}
}

// capturedOnClosed reports whether the processor holds a succeeded payment
// for a deposit that was already failed or refunded.
func (s *Service) capturedOnClosed(ctx context.Context, depositID string) (bool, error) {
	d, err := s.repo.GetByID(ctx, depositID)
	if err != nil {
		return false, err
	}
	if d.Status != StatusFailed && d.Status != StatusRefunded {
		return false, nil
	}
	intent, err := s.bridge.RetrieveIntent(ctx, d.PaymentIntentID)
	if err != nil {
		return false, err
	}
	return intent.Succeeded(), nil
}

func (s *Service) release(ctx context.Context, eventID string, cause error) error {
	if err := s.repo.ReleaseWebhookEvent(ctx, eventID); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func isBusinessError(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.ErrValidation, apperr.ErrNotFound, apperr.ErrInvalidTransition, apperr.ErrConflict:
		return true
	}
	return false
}

func (s *Service) Get(ctx context.Context, id string) (Deposit, error) {
	if id == "" {
		return Deposit{}, apperr.Validation("deposit: id is required")
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListForProject(ctx context.Context, projectID string) ([]Deposit, error) {
	if projectID == "" {
		return nil, apperr.Validation("deposit: project id is required")
	}
	return s.repo.ListByProject(ctx, projectID)
}

func (s *Service) ListForContractor(ctx context.Context, contractorID string) ([]Deposit, error) {
	if contractorID == "" {
		return nil, apperr.Validation("deposit: contractor id is required")
	}
	return s.repo.ListByContractor(ctx, contractorID)
}

func (s *Service) ListForPayer(ctx context.Context, payerID string) ([]Deposit, error) {
	if payerID == "" {
		return nil, apperr.Validation("deposit: payer id is required")
	}
	return s.repo.ListByPayer(ctx, payerID)
}
