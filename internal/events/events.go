package events

import (
	"context"
	"time"

	"canteen-sync/internal/domain"
)

type EventType string

const (
	OrderCreated              EventType = "order.created"
	OrderPaymentStatusChanged EventType = "order.payment_status_changed"
	OrderStatusChanged        EventType = "order.status_changed"
	OrdersPurged              EventType = "orders.purged"
)

type OrderEvent struct {
	Type             EventType            `json:"type"`
	PaymentReference string               `json:"payment_reference,omitempty"`
	Canteen          domain.Canteen       `json:"canteen,omitempty"`
	Status           domain.OrderStatus   `json:"status,omitempty"`
	PaymentStatus    domain.PaymentStatus `json:"payment_status,omitempty"`
	Source           domain.StatusSource  `json:"source,omitempty"`
	Scope            string               `json:"scope,omitempty"`
	Count            int                  `json:"count,omitempty"`
	OccurredAt       time.Time            `json:"occurred_at"`
}

// Publisher emits order events. Callers treat publishing as best-effort.
type Publisher interface {
	Publish(ctx context.Context, ev OrderEvent) error
	Close()
}

type nop struct{}

// Nop discards every event.
func Nop() Publisher { return nop{} }

func (nop) Publish(context.Context, OrderEvent) error { return nil }
func (nop) Close()                                    {}
