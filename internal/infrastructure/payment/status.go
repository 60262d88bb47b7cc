package payment

import (
	"strings"

	"canteen-sync/internal/domain"
)

// RawStatus is the gateway's transaction status vocabulary.
type RawStatus string

const (
	RawCapture    RawStatus = "capture"
	RawSettlement RawStatus = "settlement"
	RawPending    RawStatus = "pending"
	RawDeny       RawStatus = "deny"
	RawCancel     RawStatus = "cancel"
	RawExpire     RawStatus = "expire"
	RawFailure    RawStatus = "failure"
	RawRefund     RawStatus = "refund"
)

// Normalize maps a raw gateway status onto the stored payment status. ok is
// false when the value is empty or unknown; the result is then pending.
func Normalize(raw RawStatus) (status domain.PaymentStatus, ok bool) {
	switch RawStatus(strings.ToLower(strings.TrimSpace(string(raw)))) {
	case RawCapture, RawSettlement:
		return domain.PaymentPaid, true
	case RawDeny, RawCancel, RawExpire, RawFailure, RawRefund:
		return domain.PaymentFailed, true
	case RawPending:
		return domain.PaymentPending, true
	}
	return domain.PaymentPending, false
}
