package payment

import (
	"context"
	"fmt"

	"canteen-sync/internal/domain"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

const referenceMetadataKey = "payment_reference"

type StripeConfig struct {
	SecretKey  string
	Currency   string
	SuccessURL string
	CancelURL  string
	// UnitScale converts an order amount into Stripe's smallest currency unit.
	UnitScale int64
}

type stripeGateway struct {
	api        *client.API
	currency   string
	successURL string
	cancelURL  string
	unitScale  int64
}

// NewStripeGateway returns a gateway backed by Stripe Checkout. The payment
// reference travels as client_reference_id and as PaymentIntent metadata,
// which is what status queries search on.
func NewStripeGateway(cfg StripeConfig) PaymentGateway {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	currency := cfg.Currency
	if currency == "" {
		currency = "idr"
	}
	scale := cfg.UnitScale
	if scale <= 0 {
		scale = 100
	}
	return &stripeGateway{
		api:        api,
		currency:   currency,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		unitScale:  scale,
	}
}

func (g *stripeGateway) Initiate(ctx context.Context, req InitiateRequest) (*Checkout, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.Reference),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				referenceMetadataKey: req.Reference,
				"payer_id":           req.Payer.ID,
			},
		},
	}
	params.Context = ctx
	if req.Payer.Email != "" {
		params.CustomerEmail = stripe.String(req.Payer.Email)
	}
	for _, it := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(it.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(g.currency),
				UnitAmount: stripe.Int64(it.Price * g.unitScale),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(it.Name),
				},
			},
		})
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, &domain.PaymentInitiationError{Reference: req.Reference, Err: err}
	}
	return &Checkout{CheckoutURL: s.URL, Token: s.ID}, nil
}

func (g *stripeGateway) QueryStatus(ctx context.Context, reference string) (*Transaction, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", referenceMetadataKey, reference)
	params.Context = ctx

	var latest *stripe.PaymentIntent
	iter := g.api.PaymentIntents.Search(params)
	for iter.Next() {
		pi := iter.PaymentIntent()
		if latest == nil || pi.Created > latest.Created {
			latest = pi
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe search for %s: %w", reference, err)
	}

	txn := &Transaction{Reference: reference}
	if latest == nil {
		return txn, nil
	}
	txn.RawStatus = stripeRawStatus(latest.Status)
	txn.GrossAmount = latest.Amount / g.unitScale
	if len(latest.PaymentMethodTypes) > 0 {
		txn.PaymentMethod = latest.PaymentMethodTypes[0]
	}
	return txn, nil
}

func stripeRawStatus(s stripe.PaymentIntentStatus) RawStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return RawSettlement
	case stripe.PaymentIntentStatusCanceled:
		return RawCancel
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresCapture,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresPaymentMethod:
		return RawPending
	}
	return ""
}
