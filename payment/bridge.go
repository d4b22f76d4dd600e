// Package payment talks to the hosted payment processor that collects
// deposits. The deposit manager only sees the Bridge interface.
package payment

import (
	"context"

	"bidflow/apperr"
)

// Intent statuses as reported by the processor. Only StatusSucceeded is
// meaningful to callers.
const (
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusProcessing            = "processing"
	StatusSucceeded             = "succeeded"
	StatusCanceled              = "canceled"
)

const CurrencyUSD = "usd"

var ErrIntentNotFound = apperr.New(apperr.ErrExternalService, "payment: intent not found")

type CreateIntentParams struct {
	// Amount is in minor units (cents).
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	ChargeID     string
	Amount       int64
}

func (i Intent) Succeeded() bool {
	return i.Status == StatusSucceeded
}

type Bridge interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (Intent, error)
	RetrieveIntent(ctx context.Context, id string) (Intent, error)
}

// Event is a verified processor notification about a payment intent.
type Event struct {
	ID              string
	Type            string
	PaymentIntentID string
}

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// Relevant reports whether the deposit manager acts on this event type.
func (e Event) Relevant() bool {
	return e.Type == EventIntentSucceeded || e.Type == EventIntentFailed
}
