package domain

import (
	"fmt"
	"strings"
)

// PaymentStatus is the normalized payment state stored on an order. The
// gateway's richer vocabulary is mapped onto it by the payment package.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

func (s PaymentStatus) String() string {
	return string(s)
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	ps := PaymentStatus(strings.ToLower(strings.TrimSpace(s)))
	if !ps.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, s)
	}
	return ps, nil
}

// StatusSource records who last decided the payment status.
type StatusSource string

const (
	SourceAuto   StatusSource = "auto"
	SourceManual StatusSource = "manual"
)
