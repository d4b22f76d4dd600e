package actors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"bidflow/apperr"
	"bidflow/auth"
	"bidflow/bid"
	"bidflow/contractor"
	"bidflow/deposit"
	"bidflow/message"
	"bidflow/payment"
	"bidflow/project"
	"bidflow/test/infra"
)

const stressPassword = "stress-pass-123"

type ProjectRef struct {
	ID      string
	OwnerID string
}

type ContractorRef struct {
	ID     string
	UserID string
}

// Settlement is an intent the sandbox has settled and whose webhook may now
// be delivered.
type Settlement struct {
	DepositID string
	IntentID  string
}

// World is the seeded fixture shared by all actors.
type World struct {
	Projects    []ProjectRef
	Contractors []ContractorRef

	mu      sync.Mutex
	settled []Settlement
}

func (w *World) addSettled(s Settlement) {
	w.mu.Lock()
	w.settled = append(w.settled, s)
	w.mu.Unlock()
}

func (w *World) pickSettled(f *gofakeit.Faker) (Settlement, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.settled) == 0 {
		return Settlement{}, false
	}
	return w.settled[f.Number(0, len(w.settled)-1)], true
}

// Env is what one actor goroutine works with. Each actor owns its Faker.
type Env struct {
	H       *infra.Harness
	W       *World
	F       *gofakeit.Faker
	Chaos   bool
	Swallow *atomic.Int64
}

// tolerate filters out outcomes that are legitimate under contention.
// Infrastructure errors are only expected when chaos is killing backends.
func (e Env) tolerate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if apperr.KindOf(err) != nil {
		return nil
	}
	if e.Chaos {
		if e.Swallow != nil {
			e.Swallow.Add(1)
		}
		return nil
	}
	return err
}

func (e Env) pause(minMs, maxMs int) {
	time.Sleep(time.Duration(e.F.Number(minMs, maxMs)) * time.Millisecond)
}

func (e Env) project() ProjectRef {
	return e.W.Projects[e.F.Number(0, len(e.W.Projects)-1)]
}

func (e Env) contractor() ContractorRef {
	return e.W.Contractors[e.F.Number(0, len(e.W.Contractors)-1)]
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// Seed registers homeowners and contractors and posts projects for them.
func Seed(ctx context.Context, h *infra.Harness, f *gofakeit.Faker, owners, contractors, projects int) (*World, error) {
	w := &World{}
	ownerIDs := make([]string, 0, owners)
	for i := 0; i < owners; i++ {
		u, err := register(ctx, h, f, auth.RoleHomeowner, i)
		if err != nil {
			return nil, err
		}
		ownerIDs = append(ownerIDs, u.ID)
	}
	for i := 0; i < contractors; i++ {
		u, err := register(ctx, h, f, auth.RoleContractor, i)
		if err != nil {
			return nil, err
		}
		years := f.Number(0, 30)
		p, err := h.Contractors.Create(ctx, contractor.CreateParams{
			UserID:          u.ID,
			CompanyName:     f.Company(),
			Specialties:     []string{f.HipsterWord(), f.HipsterWord()},
			ExperienceYears: &years,
			Insured:         f.Bool(),
		})
		if err != nil {
			return nil, fmt.Errorf("seed contractor: %w", err)
		}
		w.Contractors = append(w.Contractors, ContractorRef{ID: p.ID, UserID: u.ID})
	}
	for i := 0; i < projects; i++ {
		owner := ownerIDs[i%len(ownerIDs)]
		p, err := h.Projects.Create(ctx, project.CreateParams{
			OwnerID:           owner,
			Title:             f.Sentence(4),
			Description:       f.Sentence(12),
			Category:          f.RandomString([]string{"kitchen", "roofing", "landscaping", "plumbing"}),
			Location:          f.City(),
			DepositPercentage: f.RandomInt([]int{10, 20, 25, 33, 50}),
		})
		if err != nil {
			return nil, fmt.Errorf("seed project: %w", err)
		}
		w.Projects = append(w.Projects, ProjectRef{ID: p.ID, OwnerID: owner})
	}
	return w, nil
}

func register(ctx context.Context, h *infra.Harness, f *gofakeit.Faker, role auth.Role, i int) (*auth.User, error) {
	tag := fmt.Sprintf("%s%d%d", role, i, f.Number(1000, 9999))
	u, err := h.Auth.Register(ctx, auth.RegisterRequest{
		Username:  f.Username() + tag,
		Email:     tag + "@" + f.DomainName(),
		Password:  stressPassword,
		FirstName: f.FirstName(),
		LastName:  f.LastName(),
		UserType:  role,
	})
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", role, err)
	}
	return u, nil
}

// Bidder keeps submitting bids on random projects.
func Bidder(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		p, c := env.project(), env.contractor()
		desc := env.F.Sentence(8)
		_, err := env.H.Bids.Submit(ctx, bid.SubmitParams{
			ProjectID:    p.ID,
			ContractorID: c.ID,
			Amount:       int64(env.F.Number(1000, 60000)),
			Timeline:     fmt.Sprintf("%d weeks", env.F.Number(1, 12)),
			Description:  &desc,
			ActorID:      c.UserID,
		})
		if err := env.tolerate(ctx, err); err != nil {
			return fmt.Errorf("bidder: %w", err)
		}
		env.pause(10, 30)
	}
}

// Owner accepts or rejects pending bids on the projects it owns.
func Owner(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		p := env.project()
		target, ok, err := pickBid(ctx, env, p, bid.StatusPending)
		if err := env.tolerate(ctx, err); err != nil {
			return fmt.Errorf("owner list: %w", err)
		}
		if ok {
			status := bid.StatusRejected
			if env.F.Number(0, 2) == 0 {
				status = bid.StatusAccepted
			}
			_, err := env.H.Bids.SetStatus(ctx, bid.SetStatusParams{BidID: target.ID, Status: status, ActorID: p.OwnerID})
			if err := env.tolerate(ctx, err); err != nil {
				return fmt.Errorf("owner set status: %w", err)
			}
		}
		env.pause(20, 60)
	}
}

// Payer initiates deposits on live bids, settles them in the sandbox and
// either confirms right away or leaves it to the webhook.
func Payer(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		p := env.project()
		target, ok, err := pickBid(ctx, env, p, bid.StatusPending, bid.StatusAccepted)
		if err := env.tolerate(ctx, err); err != nil {
			return fmt.Errorf("payer list: %w", err)
		}
		if ok {
			if err := env.tolerate(ctx, pay(ctx, env, p, target)); err != nil {
				return fmt.Errorf("payer: %w", err)
			}
		}
		env.pause(30, 80)
	}
}

func pay(ctx context.Context, env Env, p ProjectRef, b bid.Bid) error {
	res, err := env.H.Deposits.Initiate(ctx, deposit.InitiateParams{
		BidID:     b.ID,
		ProjectID: p.ID,
		ActorID:   p.OwnerID,
	})
	if err != nil {
		return err
	}
	d, err := env.H.Deposits.Get(ctx, res.DepositID)
	if err != nil {
		return err
	}
	if err := env.H.Sandbox.Settle(d.PaymentIntentID, env.F.Number(0, 3) > 0); err != nil {
		return err
	}
	if env.F.Bool() {
		env.W.addSettled(Settlement{DepositID: d.ID, IntentID: d.PaymentIntentID})
		return nil
	}
	_, err = env.H.Deposits.Confirm(ctx, deposit.ConfirmParams{
		PaymentIntentID: d.PaymentIntentID,
		DepositID:       d.ID,
		ActorID:         p.OwnerID,
	})
	return err
}

// WebhookReplayer delivers processor events for settled intents, reusing a
// small set of event ids so duplicates arrive concurrently.
func WebhookReplayer(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if s, ok := env.W.pickSettled(env.F); ok {
			ev := payment.Event{
				ID:              fmt.Sprintf("evt_%s_%d", s.IntentID, env.F.Number(0, 1)),
				Type:            payment.EventIntentSucceeded,
				PaymentIntentID: s.IntentID,
			}
			if err := env.tolerate(ctx, env.H.Deposits.HandleWebhook(ctx, ev)); err != nil {
				return fmt.Errorf("webhook %s: %w", ev.ID, err)
			}
		}
		env.pause(10, 40)
	}
}

// Messenger posts messages between owners and contractors. Blank content
// must always be refused.
func Messenger(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		p, c := env.project(), env.contractor()
		content := env.F.Sentence(10)
		blank := env.F.Number(0, 9) == 0
		if blank {
			content = strings.Repeat(" ", env.F.Number(0, 5))
		}
		_, err := env.H.Messages.Post(ctx, message.PostParams{
			ProjectID:  p.ID,
			SenderID:   c.UserID,
			ReceiverID: p.OwnerID,
			Content:    content,
		})
		if blank && err == nil {
			return errors.New("messenger: blank message was accepted")
		}
		if err := env.tolerate(ctx, err); err != nil {
			return fmt.Errorf("messenger: %w", err)
		}
		env.pause(20, 50)
	}
}

// OutboxWorker drains the outbox the way the server's relay does.
func OutboxWorker(ctx context.Context, env Env, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, err := env.H.Relay.Drain(ctx)
		if err := env.tolerate(ctx, err); err != nil {
			return fmt.Errorf("outbox worker: %w", err)
		}
		env.pause(50, 150)
	}
}

func pickBid(ctx context.Context, env Env, p ProjectRef, statuses ...bid.Status) (bid.Bid, bool, error) {
	listings, err := env.H.Bids.ListForProject(ctx, p.ID)
	if err != nil {
		return bid.Bid{}, false, err
	}
	candidates := make([]bid.Bid, 0, len(listings))
	for _, l := range listings {
		for _, s := range statuses {
			if l.Bid.Status == s {
				candidates = append(candidates, l.Bid)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return bid.Bid{}, false, nil
	}
	return candidates[env.F.Number(0, len(candidates)-1)], true, nil
}
