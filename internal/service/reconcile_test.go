package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"canteen-sync/internal/domain"
	"canteen-sync/internal/events"
	"canteen-sync/internal/infrastructure/payment"
	"canteen-sync/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settled(method string) queryResult {
	at := testNow.Add(-time.Minute)
	return queryResult{txn: &payment.Transaction{RawStatus: payment.RawSettlement, PaymentMethod: method, SettledAt: &at}}
}

func TestCheckPayment_SettlementConfirmsBothCopies(t *testing.T) {
	h := newHarness(t)
	res := h.submit(t, "A", 15000, "3")
	h.gateway.setScript(settled("qris"))

	got, err := h.svc.CheckPayment(context.Background(), res.PaymentReference)

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, payment.RawSettlement, got.RawStatus)
	assert.Equal(t, 1, got.Attempts)
	assert.False(t, got.Inconclusive)
	assert.False(t, got.OverrideAvailable)
	assert.Empty(t, h.recordedSleeps())

	local, global := h.copies(t, domain.CanteenA, res.PaymentReference)
	for _, o := range []*domain.Order{local, global} {
		assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
		assert.Equal(t, domain.OrderConfirmed, o.Status)
		assert.Equal(t, domain.SourceAuto, o.StatusSource)
		assert.Equal(t, "qris", o.PaymentMethod)
		require.NotNil(t, o.SettledAt)
		require.NotNil(t, o.LastCheckedAt)
		assert.Equal(t, testNow, *o.LastCheckedAt)
	}
	assert.Equal(t, []events.EventType{events.OrderCreated, events.OrderPaymentStatusChanged}, h.publisher.types())
}

func TestCheckPayment_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	res := h.submit(t, "B", 10000, "1")
	h.gateway.setScript(settled("gopay"))

	_, err := h.svc.CheckPayment(context.Background(), res.PaymentReference)
	require.NoError(t, err)
	firstLocal, firstGlobal := h.copies(t, domain.CanteenB, res.PaymentReference)

	h.gateway.setScript(settled("gopay"))
	got, err := h.svc.CheckPayment(context.Background(), res.PaymentReference)
	require.NoError(t, err)
	secondLocal, secondGlobal := h.copies(t, domain.CanteenB, res.PaymentReference)

	assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, firstLocal, secondLocal)
	assert.Equal(t, firstGlobal, secondGlobal)
	assert.Equal(t, []events.EventType{events.OrderCreated, events.OrderPaymentStatusChanged}, h.publisher.types())
}

func TestCheckPayment_RetriesUntilUsable(t *testing.T) {
	h := newHarness(t)
	res := h.submit(t, "A", 10000, "1")
	h.gateway.setScript(
		unusable(),
		queryResult{err: errors.New("connection reset")},
		raw(payment.RawCapture),
	)

	got, err := h.svc.CheckPayment(context.Background(), res.PaymentReference)

	require.NoError(t, err)
	assert.Equal(t, 3, h.gateway.queries())
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.recordedSleeps())
	assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
	assert.False(t, got.Inconclusive)
}

func TestCheckPayment_InconclusiveOffersOverride(t *testing.T) {
	h := newHarness(t)
	res := h.submit(t, "D", 10000, "1")
	h.gateway.setScript(unusable())

	got, err := h.svc.CheckPayment(context.Background(), res.PaymentReference)

	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.recordedSleeps())
	assert.True(t, got.Inconclusive)
	assert.True(t, got.OverrideAvailable)

	local, global := h.copies(t, domain.CanteenD, res.PaymentReference)
	for _, o := range []*domain.Order{local, global} {
		assert.Equal(t, domain.PaymentPending, o.PaymentStatus)
		assert.Equal(t, domain.OrderPending, o.Status)
		require.NotNil(t, o.LastCheckedAt)
		assert.Empty(t, o.StatusSource)
	}
	assert.Equal(t, []events.EventType{events.OrderCreated}, h.publisher.types())
}

func TestCheckPayment_GatewayPendingStopsRetrying(t *testing.T) {
	h := newHarness(t)
	res := h.submit(t, "A", 10000, "1")
	h.gateway.setScript(raw(payment.RawPending))

	got, err := h.svc.CheckPayment(context.Background(), res.PaymentReference)

	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Empty(t, h.recordedSleeps())
	assert.True(t, got.Inconclusive)
	assert.Equal(t, payment.RawPending, got.RawStatus)
}

func TestCheckPayment_FailureStatuses(t *testing.T) {
	for _, status := range []payment.RawStatus{payment.RawDeny, payment.RawCancel, payment.RawExpire, payment.RawFailure} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t)
			res := h.submit(t, "C", 10000, "1")
			h.gateway.setScript(raw(status))

			got, err := h.svc.CheckPayment(context.Background(), res.PaymentReference)

			require.NoError(t, err)
			assert.Equal(t, domain.PaymentFailed, got.PaymentStatus)
			local, global := h.copies(t, domain.CanteenC, res.PaymentReference)
			assert.Equal(t, domain.PaymentFailed, local.PaymentStatus)
			assert.Equal(t, domain.OrderPending, local.Status)
			assert.Equal(t, domain.PaymentFailed, global.PaymentStatus)
		})
	}
}

func TestCheckPayment_MissingGlobalCopy(t *testing.T) {
	h := newHarness(t)
	res := h.submit(t, "A", 10000, "1")
	_, global := h.copies(t, domain.CanteenA, res.PaymentReference)
	require.NoError(t, h.mem.BatchDelete(context.Background(), []repo.DocRef{{Collection: domain.GlobalCollection, ID: global.ID}}))
	h.gateway.setScript(raw(payment.RawSettlement))

	got, err := h.svc.CheckPayment(context.Background(), res.PaymentReference)

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, got.Order.PaymentStatus)
	local, _ := h.copies(t, domain.CanteenA, res.PaymentReference)
	assert.Equal(t, domain.PaymentPaid, local.PaymentStatus)
}

func TestCheckPayment_MissingCanteenCopy(t *testing.T) {
	h := newHarness(t)
	res := h.submit(t, "A", 10000, "1")
	local, _ := h.copies(t, domain.CanteenA, res.PaymentReference)
	require.NoError(t, h.mem.BatchDelete(context.Background(), []repo.DocRef{{Collection: "orders_a", ID: local.ID}}))
	h.gateway.setScript(raw(payment.RawSettlement))

	_, err := h.svc.CheckPayment(context.Background(), res.PaymentReference)

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, global := h.copies(t, domain.CanteenA, res.PaymentReference)
	assert.Equal(t, domain.PaymentPaid, global.PaymentStatus)
}

func TestOverridePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("paid over a failed payment", func(t *testing.T) {
		h := newHarness(t)
		res := h.submit(t, "B", 10000, "1")
		h.gateway.setScript(raw(payment.RawDeny))
		_, err := h.svc.CheckPayment(ctx, res.PaymentReference)
		require.NoError(t, err)

		got, err := h.svc.OverridePayment(ctx, res.PaymentReference, domain.PaymentPaid)

		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
		assert.Equal(t, domain.SourceManual, got.StatusSource)
		local, global := h.copies(t, domain.CanteenB, res.PaymentReference)
		for _, o := range []*domain.Order{local, global} {
			assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
			assert.Equal(t, domain.OrderConfirmed, o.Status)
			assert.Equal(t, domain.SourceManual, o.StatusSource)
			require.NotNil(t, o.LastCheckedAt)
			assert.Equal(t, testNow, *o.LastCheckedAt)
		}
	})

	t.Run("failed leaves order status alone", func(t *testing.T) {
		h := newHarness(t)
		res := h.submit(t, "A", 10000, "1")

		got, err := h.svc.OverridePayment(ctx, res.PaymentReference, domain.PaymentFailed)

		require.NoError(t, err)
		assert.Equal(t, domain.PaymentFailed, got.PaymentStatus)
		assert.Equal(t, domain.OrderPending, got.Status)
	})

	t.Run("unknown status", func(t *testing.T) {
		h := newHarness(t)
		res := h.submit(t, "A", 10000, "1")

		_, err := h.svc.OverridePayment(ctx, res.PaymentReference, domain.PaymentStatus("refunded"))

		assert.ErrorIs(t, err, domain.ErrInvalidPaymentStatus)
	})

	t.Run("unknown reference", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.svc.OverridePayment(ctx, "ORD-A-missing", domain.PaymentPaid)

		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestSweep(t *testing.T) {
	h := newHarness(t)

	h.mem.SetClock(func() time.Time { return testNow.Add(-48 * time.Hour) })
	stale := h.submit(t, "D", 10000, "1")
	h.mem.SetClock(func() time.Time { return testNow })

	paid := h.submit(t, "A", 10000, "1")
	denied := h.submit(t, "B", 10000, "1")
	waiting := h.submit(t, "C", 10000, "1")

	h.gateway.statusFunc = func(ref string) queryResult {
		switch ref {
		case paid.PaymentReference:
			return raw(payment.RawSettlement)
		case denied.PaymentReference:
			return raw(payment.RawDeny)
		case waiting.PaymentReference:
			return raw(payment.RawPending)
		}
		t.Errorf("unexpected query for %s", ref)
		return unusable()
	}

	stats, err := h.svc.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, stats.Checked)
	assert.Equal(t, 1, stats.Paid)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Inconclusive)
	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, 1, stats.Remaining)

	local, _ := h.copies(t, domain.CanteenD, stale.PaymentReference)
	assert.Equal(t, domain.PaymentPending, local.PaymentStatus)
	assert.Nil(t, local.LastCheckedAt)
}

func TestSweep_SkipsUnreadableCollection(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "A", 10000, "1")
	h.submit(t, "B", 10000, "1")
	h.mem.SetFailHook(func(op repo.Op, collection string) error {
		if op == repo.OpQuery && collection == "orders_b" {
			return errors.New("unavailable")
		}
		return nil
	})
	h.gateway.setScript(raw(payment.RawSettlement))

	stats, err := h.svc.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Checked)
	assert.Equal(t, 1, stats.Paid)
	assert.Equal(t, 1, stats.Errors)
}

func TestSweep_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.submit(t, "A", 10000, "1")
	h.submit(t, "A", 10000, "1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := h.svc.Sweep(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, stats.Checked)
	assert.Equal(t, 2, stats.Remaining)
	assert.Zero(t, h.gateway.queries())
}

func TestPaymentReferenceNamesCanteen(t *testing.T) {
	h := newHarness(t)
	for _, c := range domain.Canteens {
		res := h.submit(t, string(c), 1000, "1")
		assert.True(t, strings.HasPrefix(res.PaymentReference, "ORD-"+string(c)+"-"), res.PaymentReference)
	}
}
