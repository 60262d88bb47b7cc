package service_test

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"testing"

	"canteen-sync/internal/domain"
	"canteen-sync/internal/events"
	"canteen-sync/internal/infrastructure/payment"
	"canteen-sync/internal/repo"
	"canteen-sync/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_WritesBothCopies(t *testing.T) {
	h := newHarness(t)

	res := h.submit(t, "A", 15000, "3")

	assert.Equal(t, int64(45000), res.Order.Total)
	assert.True(t, strings.HasPrefix(res.PaymentReference, "ORD-A-"))
	assert.Equal(t, "https://pay.test/"+res.PaymentReference, res.CheckoutURL)
	assert.Equal(t, domain.OrderPending, res.Order.Status)
	assert.Equal(t, domain.PaymentPending, res.Order.PaymentStatus)

	require.Len(t, h.gateway.initiateCalls, 1)
	assert.Equal(t, int64(45000), h.gateway.initiateCalls[0].GrossAmount)
	assert.Equal(t, res.PaymentReference, h.gateway.initiateCalls[0].Reference)

	assert.Equal(t, 1, h.store.createCount("orders_a"))
	assert.Equal(t, 1, h.store.createCount(domain.GlobalCollection))

	local, global := h.copies(t, domain.CanteenA, res.PaymentReference)
	require.NotNil(t, local)
	require.NotNil(t, global)
	assert.Equal(t, local.ID, global.CanteenRef)
	assert.NotEqual(t, local.ID, global.ID)
	assert.Equal(t, int64(45000), global.Total)
	assert.Equal(t, domain.CanteenA, global.Canteen)
	assert.Equal(t, "tok-"+res.PaymentReference, local.PaymentToken)

	assert.Equal(t, []events.EventType{events.OrderCreated}, h.publisher.types())
}

func TestSubmit_CanteenTagIsCaseInsensitive(t *testing.T) {
	h := newHarness(t)

	res := h.submit(t, "c", 10000, "1")

	assert.Equal(t, domain.CanteenC, res.Order.Canteen)
	assert.Equal(t, 1, h.mem.Count("orders_c"))
}

func TestSubmit_SecondaryFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.mem.SetFailHook(func(op repo.Op, collection string) error {
		if op == repo.OpCreate && collection == domain.GlobalCollection {
			return errors.New("global collection down")
		}
		return nil
	})

	res := h.submit(t, "B", 20000, "2")

	assert.Equal(t, int64(40000), res.Order.Total)
	assert.Equal(t, 1, h.store.createCount("orders_b"))
	assert.Equal(t, 1, h.store.createCount(domain.GlobalCollection))
	assert.Equal(t, 1, h.mem.Count("orders_b"))
	assert.Equal(t, 0, h.mem.Count(domain.GlobalCollection))
}

func TestSubmit_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		canteen  string
		itemID   string
		price    int64
		quantity string
		note     string
		check    func(t *testing.T, err error)
	}{
		{
			name:     "missing canteen",
			canteen:  "",
			itemID:   "f1",
			quantity: "1",
			check: func(t *testing.T, err error) {
				var ice *domain.InvalidCanteenError
				assert.ErrorAs(t, err, &ice)
			},
		},
		{
			name:     "unknown canteen",
			canteen:  "E",
			itemID:   "f1",
			quantity: "1",
			check: func(t *testing.T, err error) {
				var ice *domain.InvalidCanteenError
				require.ErrorAs(t, err, &ice)
				assert.Equal(t, "E", ice.Value)
			},
		},
		{
			name:     "zero quantity",
			canteen:  "A",
			itemID:   "f1",
			quantity: "0",
			check:    func(t *testing.T, err error) { assert.ErrorIs(t, err, domain.ErrInvalidQuantity) },
		},
		{
			name:     "negative quantity",
			canteen:  "A",
			itemID:   "f1",
			quantity: "-2",
			check:    func(t *testing.T, err error) { assert.ErrorIs(t, err, domain.ErrInvalidQuantity) },
		},
		{
			name:     "fractional quantity",
			canteen:  "A",
			itemID:   "f1",
			quantity: "1.5",
			check:    func(t *testing.T, err error) { assert.ErrorIs(t, err, domain.ErrInvalidQuantity) },
		},
		{
			name:     "text quantity",
			canteen:  "A",
			itemID:   "f1",
			quantity: "two",
			check:    func(t *testing.T, err error) { assert.ErrorIs(t, err, domain.ErrInvalidQuantity) },
		},
		{
			name:     "huge quantity",
			canteen:  "A",
			itemID:   "f1",
			quantity: "1000000000000000",
			check:    func(t *testing.T, err error) { assert.ErrorIs(t, err, domain.ErrInvalidQuantity) },
		},
		{
			name:     "quantity above limit",
			canteen:  "A",
			itemID:   "f1",
			quantity: strconv.Itoa(domain.MaxQuantity + 1),
			check:    func(t *testing.T, err error) { assert.ErrorIs(t, err, domain.ErrInvalidQuantity) },
		},
		{
			name:     "total overflows",
			canteen:  "A",
			itemID:   "f1",
			price:    math.MaxInt64 / 2,
			quantity: "3",
			check:    func(t *testing.T, err error) { assert.ErrorIs(t, err, domain.ErrInvalidQuantity) },
		},
		{
			name:     "item without id",
			canteen:  "A",
			itemID:   "",
			quantity: "1",
			check:    func(t *testing.T, err error) { assert.ErrorIs(t, err, domain.ErrInvalidItem) },
		},
		{
			name:     "note too long",
			canteen:  "A",
			itemID:   "f1",
			quantity: "1",
			note:     strings.Repeat("x", domain.MaxNoteLength+1),
			check:    func(t *testing.T, err error) { assert.ErrorIs(t, err, domain.ErrNoteTooLong) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			price := tt.price
			if price == 0 {
				price = 12000
			}

			_, err := h.svc.Submit(context.Background(), service.SubmitRequest{
				Requester: domain.Requester{ID: "u1"},
				Item:      service.CatalogItem{ID: tt.itemID, Name: "Soto", Price: price, Canteen: tt.canteen},
				Quantity:  tt.quantity,
				Note:      tt.note,
			})

			require.Error(t, err)
			tt.check(t, err)
			assert.Empty(t, h.gateway.initiateCalls)
			for _, c := range domain.Canteens {
				assert.Zero(t, h.store.createCount(c.Collection()))
			}
			assert.Zero(t, h.store.createCount(domain.GlobalCollection))
		})
	}
}

func TestSubmit_PaymentInitiationFailure(t *testing.T) {
	h := newHarness(t)
	h.gateway.initiateFunc = func(ctx context.Context, req payment.InitiateRequest) (*payment.Checkout, error) {
		return nil, errors.New("gateway timeout")
	}

	_, err := h.svc.Submit(context.Background(), service.SubmitRequest{
		Item:     service.CatalogItem{ID: "f1", Price: 10000, Canteen: "D"},
		Quantity: "1",
	})

	var pie *domain.PaymentInitiationError
	require.ErrorAs(t, err, &pie)
	assert.True(t, strings.HasPrefix(pie.Reference, "ORD-D-"))
	assert.Zero(t, h.store.createCount("orders_d"))
	assert.Zero(t, h.store.createCount(domain.GlobalCollection))
	assert.Empty(t, h.publisher.types())
}

func TestSubmit_RequiredWriteFailure(t *testing.T) {
	h := newHarness(t)
	h.mem.SetFailHook(func(op repo.Op, collection string) error {
		if op == repo.OpCreate && collection == "orders_b" {
			return errors.New("permission denied")
		}
		return nil
	})

	_, err := h.svc.Submit(context.Background(), service.SubmitRequest{
		Item:     service.CatalogItem{ID: "f1", Price: 10000, Canteen: "B"},
		Quantity: "1",
	})

	var cue *domain.CollectionUnavailableError
	require.ErrorAs(t, err, &cue)
	assert.Equal(t, "orders_b", cue.Collection)
	// the gateway attempt was already made and is left orphaned
	assert.Len(t, h.gateway.initiateCalls, 1)
	assert.Zero(t, h.store.createCount(domain.GlobalCollection))
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "1", want: 1},
		{in: " 12 ", want: 12},
		{in: "0", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "", wantErr: true},
		{in: "3x", wantErr: true},
		{in: "1000", want: 1000},
		{in: "1001", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := service.ParseQuantity(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("unpaid order cannot be confirmed", func(t *testing.T) {
		h := newHarness(t)
		res := h.submit(t, "A", 10000, "1")
		local, _ := h.copies(t, domain.CanteenA, res.PaymentReference)

		_, err := h.svc.UpdateOrderStatus(ctx, domain.CanteenA, local.ID, domain.OrderConfirmed)

		assert.ErrorIs(t, err, domain.ErrPaymentNotSettled)
	})

	t.Run("unpaid order can be cancelled", func(t *testing.T) {
		h := newHarness(t)
		res := h.submit(t, "A", 10000, "1")
		local, _ := h.copies(t, domain.CanteenA, res.PaymentReference)

		updated, err := h.svc.UpdateOrderStatus(ctx, domain.CanteenA, local.ID, domain.OrderCancelled)

		require.NoError(t, err)
		assert.Equal(t, domain.OrderCancelled, updated.Status)
		_, global := h.copies(t, domain.CanteenA, res.PaymentReference)
		assert.Equal(t, domain.OrderCancelled, global.Status)
	})

	t.Run("paid order moves through the kitchen", func(t *testing.T) {
		h := newHarness(t)
		res := h.submit(t, "C", 10000, "1")
		_, err := h.svc.OverridePayment(ctx, res.PaymentReference, domain.PaymentPaid)
		require.NoError(t, err)
		local, _ := h.copies(t, domain.CanteenC, res.PaymentReference)
		require.Equal(t, domain.OrderConfirmed, local.Status)

		for _, next := range []domain.OrderStatus{domain.OrderProcessing, domain.OrderReady, domain.OrderCompleted} {
			updated, err := h.svc.UpdateOrderStatus(ctx, domain.CanteenC, local.ID, next)
			require.NoError(t, err)
			assert.Equal(t, next, updated.Status)
		}

		local, global := h.copies(t, domain.CanteenC, res.PaymentReference)
		assert.Equal(t, domain.OrderCompleted, local.Status)
		assert.Equal(t, domain.OrderCompleted, global.Status)
	})

	t.Run("skipping ahead is rejected", func(t *testing.T) {
		h := newHarness(t)
		res := h.submit(t, "A", 10000, "1")
		_, err := h.svc.OverridePayment(ctx, res.PaymentReference, domain.PaymentPaid)
		require.NoError(t, err)
		local, _ := h.copies(t, domain.CanteenA, res.PaymentReference)

		_, err = h.svc.UpdateOrderStatus(ctx, domain.CanteenA, local.ID, domain.OrderCompleted)

		assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	})

	t.Run("unknown order", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.svc.UpdateOrderStatus(ctx, domain.CanteenA, "missing", domain.OrderCancelled)

		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("invalid canteen", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.svc.UpdateOrderStatus(ctx, domain.Canteen("Z"), "x", domain.OrderCancelled)

		var ice *domain.InvalidCanteenError
		assert.ErrorAs(t, err, &ice)
	})
}
