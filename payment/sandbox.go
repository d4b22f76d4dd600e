package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Sandbox is an in-memory Bridge for local runs and tests. Intents start out
// waiting for a payment method until Settle is called.
type Sandbox struct {
	mu        sync.Mutex
	intents   map[string]Intent
	createErr error
}

func NewSandbox() *Sandbox {
	return &Sandbox{intents: make(map[string]Intent)}
}

func (s *Sandbox) CreateIntent(_ context.Context, params CreateIntentParams) (Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		err := s.createErr
		s.createErr = nil
		return Intent{}, err
	}

	id := "pi_sandbox_" + uuid.NewString()
	in := Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + uuid.NewString()[:8],
		Status:       StatusRequiresPaymentMethod,
		Amount:       params.Amount,
	}
	s.intents[id] = in
	return in, nil
}

func (s *Sandbox) RetrieveIntent(_ context.Context, id string) (Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[id]
	if !ok {
		return Intent{}, ErrIntentNotFound
	}
	return in, nil
}

// Settle plays the part of the hosted payment page: the intent either
// succeeds with a charge or is canceled.
func (s *Sandbox) Settle(id string, succeeded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	if succeeded {
		in.Status = StatusSucceeded
		in.ChargeID = "ch_sandbox_" + uuid.NewString()
	} else {
		in.Status = StatusCanceled
	}
	s.intents[id] = in
	return nil
}

// FailNextCreate makes the next CreateIntent call return err.
func (s *Sandbox) FailNextCreate(err error) {
	s.mu.Lock()
	s.createErr = err
	s.mu.Unlock()
}
