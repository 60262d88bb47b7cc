package payment

import (
	"context"
	"time"
)

// PaymentGateway is the remote service that owns payment attempts. It is the
// source of truth for payment status.
type PaymentGateway interface {
	// Initiate creates a payment attempt for reference and returns where the
	// payer completes it.
	Initiate(ctx context.Context, req InitiateRequest) (*Checkout, error)
	// QueryStatus returns the gateway's view of the attempt. An empty
	// RawStatus means the gateway had nothing usable to say.
	QueryStatus(ctx context.Context, reference string) (*Transaction, error)
}

type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type Payer struct {
	ID    string
	Name  string
	Email string
}

type InitiateRequest struct {
	Reference   string
	GrossAmount int64
	Items       []Item
	Payer       Payer
}

type Checkout struct {
	CheckoutURL string
	Token       string
}

type Transaction struct {
	Reference     string
	GrossAmount   int64
	RawStatus     RawStatus
	PaymentMethod string
	SettledAt     *time.Time
}

// Usable reports whether the transaction carries a status Normalize understands.
func (t *Transaction) Usable() bool {
	if t == nil {
		return false
	}
	_, ok := Normalize(t.RawStatus)
	return ok
}
