package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidQuantity         = fmt.Errorf("quantity must be a whole number between 1 and %d", MaxQuantity)
	ErrInvalidItem             = errors.New("catalog item must have an id and a non-negative price")
	ErrNoteTooLong             = fmt.Errorf("note must be at most %d characters", MaxNoteLength)
	ErrInvalidPaymentStatus    = errors.New("invalid payment status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrPaymentNotSettled       = errors.New("order payment is not settled")
)

// InvalidCanteenError is returned when an item carries a missing or unknown
// canteen tag. Nothing is written when it occurs.
type InvalidCanteenError struct {
	Value string
}

func (e *InvalidCanteenError) Error() string {
	if e.Value == "" {
		return "invalid canteen: missing canteen tag"
	}
	return fmt.Sprintf("invalid canteen: %q is not one of A, B, C, D", e.Value)
}

// PaymentInitiationError means the gateway rejected or could not be reached
// while creating a payment. No order was written.
type PaymentInitiationError struct {
	Reference string
	Err       error
}

func (e *PaymentInitiationError) Error() string {
	return fmt.Sprintf("payment initiation failed for %s: %v", e.Reference, e.Err)
}

func (e *PaymentInitiationError) Unwrap() error {
	return e.Err
}

// CollectionUnavailableError means a required write to the named collection
// failed.
type CollectionUnavailableError struct {
	Collection string
	Err        error
}

func (e *CollectionUnavailableError) Error() string {
	return fmt.Sprintf("collection %s unavailable: %v", e.Collection, e.Err)
}

func (e *CollectionUnavailableError) Unwrap() error {
	return e.Err
}

// BulkDeleteFailure means a purge removed nothing.
type BulkDeleteFailure struct {
	Scope Scope
	Err   error
}

func (e *BulkDeleteFailure) Error() string {
	return fmt.Sprintf("bulk delete of %s orders failed, nothing was deleted: %v", e.Scope, e.Err)
}

func (e *BulkDeleteFailure) Unwrap() error {
	return e.Err
}
