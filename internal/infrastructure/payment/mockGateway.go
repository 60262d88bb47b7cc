package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"canteen-sync/internal/domain"
)

// MockOptions tunes the simulated gateway. Rates are percentages.
type MockOptions struct {
	// InitTimeoutRate: the attempt is registered but Initiate reports a timeout.
	InitTimeoutRate int
	// SettleRate and DenyRate split the payer outcome; the rest expire.
	SettleRate int
	DenyRate   int
	// FlakyRate: a status query returns nothing usable.
	FlakyRate int
	// PayDelay is how long an attempt stays pending before its outcome shows.
	PayDelay time.Duration
}

var DefaultMockOptions = MockOptions{
	InitTimeoutRate: 10,
	SettleRate:      70,
	DenyRate:        20,
	FlakyRate:       15,
	PayDelay:        2 * time.Second,
}

type mockAttempt struct {
	txn       Transaction
	outcome   RawStatus
	resolveAt time.Time
}

// MockGateway simulates a payment gateway in memory.
type MockGateway struct {
	mu       sync.RWMutex
	attempts map[string]*mockAttempt
	opts     MockOptions
	now      func() time.Time
}

func NewMockGateway(opts MockOptions) *MockGateway {
	return &MockGateway{
		attempts: make(map[string]*mockAttempt),
		opts:     opts,
		now:      time.Now,
	}
}

func (g *MockGateway) Initiate(ctx context.Context, req InitiateRequest) (*Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// same reference twice returns the existing attempt
	if a, ok := g.attempts[req.Reference]; ok {
		return &Checkout{CheckoutURL: checkoutURL(a.txn.Reference), Token: a.txn.Reference}, nil
	}

	outcome := RawExpire
	switch chance := rand.IntN(100); {
	case chance < g.opts.SettleRate:
		outcome = RawSettlement
	case chance < g.opts.SettleRate+g.opts.DenyRate:
		outcome = RawDeny
	}

	g.attempts[req.Reference] = &mockAttempt{
		txn: Transaction{
			Reference:   req.Reference,
			GrossAmount: req.GrossAmount,
			RawStatus:   RawPending,
		},
		outcome:   outcome,
		resolveAt: g.now().Add(g.opts.PayDelay),
	}

	if rand.IntN(100) < g.opts.InitTimeoutRate {
		// the attempt exists at the gateway but the caller never hears about it
		return nil, &domain.PaymentInitiationError{Reference: req.Reference, Err: errors.New("connection timeout")}
	}

	return &Checkout{CheckoutURL: checkoutURL(req.Reference), Token: req.Reference}, nil
}

func (g *MockGateway) QueryStatus(ctx context.Context, reference string) (*Transaction, error) {
	if rand.IntN(100) < g.opts.FlakyRate {
		return &Transaction{Reference: reference}, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	a, ok := g.attempts[reference]
	if !ok {
		return &Transaction{Reference: reference}, nil
	}
	txn := a.txn
	if a.txn.RawStatus == RawPending && !g.now().Before(a.resolveAt) {
		txn.RawStatus = a.outcome
		if a.outcome == RawSettlement {
			settled := a.resolveAt
			txn.SettledAt = &settled
			txn.PaymentMethod = "qris"
		}
	}
	return &txn, nil
}

// Resolve forces the outcome of an attempt, as if the payer acted right now.
func (g *MockGateway) Resolve(reference string, status RawStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.attempts[reference]
	if !ok {
		return fmt.Errorf("mock gateway: unknown reference %s", reference)
	}
	a.outcome = status
	a.resolveAt = g.now()
	return nil
}

func checkoutURL(reference string) string {
	return "https://mock-gateway.local/checkout/" + reference
}
