package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"bidflow/apperr"
)

// Stripe is the Bridge backed by the Stripe PaymentIntents API.
type Stripe struct {
	api *client.API
}

func NewStripe(secretKey string) *Stripe {
	return &Stripe{api: client.New(secretKey, nil)}
}

func (s *Stripe) CreateIntent(ctx context.Context, params CreateIntentParams) (Intent, error) {
	currency := params.Currency
	if currency == "" {
		currency = CurrencyUSD
	}
	p := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(params.Amount),
		Currency:    stripe.String(currency),
		Description: stripe.String(params.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	p.Context = ctx
	for k, v := range params.Metadata {
		p.AddMetadata(k, v)
	}

	pi, err := s.api.PaymentIntents.New(p)
	if err != nil {
		return Intent{}, wrapStripeError("create intent", err)
	}
	return fromStripe(pi), nil
}

func (s *Stripe) RetrieveIntent(ctx context.Context, id string) (Intent, error) {
	p := &stripe.PaymentIntentParams{}
	p.Context = ctx
	p.AddExpand("latest_charge")

	pi, err := s.api.PaymentIntents.Get(id, p)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing {
			return Intent{}, ErrIntentNotFound
		}
		return Intent{}, wrapStripeError("retrieve intent", err)
	}
	return fromStripe(pi), nil
}

func fromStripe(pi *stripe.PaymentIntent) Intent {
	in := Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
	}
	if pi.LatestCharge != nil {
		in.ChargeID = pi.LatestCharge.ID
	}
	return in
}

func wrapStripeError(op string, err error) error {
	msg := err.Error()
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		msg = se.Msg
	}
	return apperr.Wrap(apperr.ErrExternalService, fmt.Sprintf("payment: %s: %s", op, msg), err)
}
