package domain

import (
	"fmt"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderReady      OrderStatus = "ready"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

// MaxNoteLength bounds the free-text note, counted in runes.
const MaxNoteLength = 200

// MaxQuantity bounds the quantity of a single line item.
const MaxQuantity = 1000

var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderPending: {
		OrderConfirmed:  true,
		OrderProcessing: true,
		OrderCancelled:  true,
	},
	OrderConfirmed: {
		OrderProcessing: true,
		OrderCancelled:  true,
	},
	OrderProcessing: {
		OrderReady:     true,
		OrderCancelled: true,
	},
	OrderReady: {
		OrderCompleted: true,
	},
	OrderCompleted: {},
	OrderCancelled: {},
}

func (s OrderStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s OrderStatus) String() string {
	return string(s)
}

// CanTransition reports whether an operator may move an order from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	return allowedTransitions[s][next]
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	os := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	if !os.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, s)
	}
	return os, nil
}

type Requester struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type LineItem struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

func (li LineItem) Subtotal() int64 {
	return li.Price * int64(li.Quantity)
}

// Order is one purchase request. The same order is stored twice: once in its
// canteen collection and once in the global collection, each copy with its
// own store ID. PaymentReference correlates the two copies.
type Order struct {
	ID               string        `json:"id"`
	PaymentReference string        `json:"payment_reference"`
	CanteenRef       string        `json:"canteen_ref,omitempty"`
	Requester        Requester     `json:"requester"`
	Canteen          Canteen       `json:"canteen"`
	Items            []LineItem    `json:"items"`
	Total            int64         `json:"total"`
	Note             string        `json:"note,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	Status           OrderStatus   `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentToken     string        `json:"payment_token,omitempty"`
	PaymentMethod    string        `json:"payment_method,omitempty"`
	SettledAt        *time.Time    `json:"settled_at,omitempty"`
	LastCheckedAt    *time.Time    `json:"last_checked_at,omitempty"`
	StatusSource     StatusSource  `json:"status_source,omitempty"`
}

// ComputeTotal sums price×quantity over the line items.
func ComputeTotal(items []LineItem) int64 {
	var total int64
	for _, it := range items {
		total += it.Subtotal()
	}
	return total
}

// OrderPatch is a partial update. Nil fields are left untouched.
type OrderPatch struct {
	Status        *OrderStatus
	PaymentStatus *PaymentStatus
	PaymentMethod *string
	SettledAt     *time.Time
	LastCheckedAt *time.Time
	StatusSource  *StatusSource
}

func (p OrderPatch) IsEmpty() bool {
	return p.Status == nil && p.PaymentStatus == nil && p.PaymentMethod == nil &&
		p.SettledAt == nil && p.LastCheckedAt == nil && p.StatusSource == nil
}

func (p OrderPatch) Apply(o *Order) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.PaymentMethod != nil {
		o.PaymentMethod = *p.PaymentMethod
	}
	if p.SettledAt != nil {
		t := *p.SettledAt
		o.SettledAt = &t
	}
	if p.LastCheckedAt != nil {
		t := *p.LastCheckedAt
		o.LastCheckedAt = &t
	}
	if p.StatusSource != nil {
		o.StatusSource = *p.StatusSource
	}
}
