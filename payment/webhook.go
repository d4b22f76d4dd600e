package payment

import (
	"encoding/json"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"bidflow/apperr"
)

var ErrBadSignature = apperr.New(apperr.ErrUnauthorized, "payment: webhook signature verification failed")

// WebhookVerifier checks the Stripe-Signature header and extracts the payment
// intent a notification refers to.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

func (v *WebhookVerifier) Parse(payload []byte, signatureHeader string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, ErrBadSignature
	}

	out := Event{ID: ev.ID, Type: string(ev.Type)}
	if !out.Relevant() || ev.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return Event{}, apperr.Validationf("payment: decode payment intent: %v", err)
	}
	out.PaymentIntentID = pi.ID
	return out, nil
}
