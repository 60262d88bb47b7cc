package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"canteen-sync/internal/domain"
	"canteen-sync/internal/events"
	"canteen-sync/internal/infrastructure/payment"
	"canteen-sync/internal/repo"

	"github.com/rs/zerolog/log"
)

type ReconcileResult struct {
	PaymentReference string
	PaymentStatus    domain.PaymentStatus
	RawStatus        payment.RawStatus
	// Attempts is the number of gateway status queries made.
	Attempts int
	// Inconclusive means the gateway did not settle the payment either way;
	// stored payment status was left alone.
	Inconclusive bool
	// OverrideAvailable tells the caller a manual override is the way forward.
	OverrideAvailable bool
	Order             *domain.Order
}

type SweepStats struct {
	Checked      int
	Paid         int
	Failed       int
	Inconclusive int
	Errors       int
	// Remaining counts orders still pending payment after this sweep.
	Remaining int
}

// CheckPayment reconciles one order on request, e.g. after the payer returns
// from the checkout page.
func (s *orderService) CheckPayment(ctx context.Context, reference string) (*ReconcileResult, error) {
	res, err := s.reconcile(ctx, reference)
	if err != nil {
		log.Error().Err(err).Str("payment_reference", reference).Msg("service: payment check failed")
		return nil, err
	}
	res.OverrideAvailable = res.Inconclusive
	return res, nil
}

// Sweep reconciles every order still pending payment and created within the
// freshness window. Per-order failures are logged and counted, not returned.
// Once ctx is done no new order is started; the one in flight completes.
func (s *orderService) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	since := s.now().Add(-s.freshness)

	var pending []domain.Order
	failures := 0
	for _, c := range domain.Canteens {
		orders, err := s.store.Query(ctx, c.Collection(), repo.Filter{PaymentStatus: domain.PaymentPending, CreatedAfter: since})
		if err != nil {
			log.Warn().Err(err).Str("collection", c.Collection()).Msg("service: sweep could not enumerate pending orders")
			failures++
			continue
		}
		pending = append(pending, orders...)
	}
	if failures == len(domain.Canteens) {
		return stats, errors.New("sweep: no canteen collection could be enumerated")
	}
	stats.Errors = failures

	for i, o := range pending {
		if ctx.Err() != nil {
			stats.Remaining += len(pending) - i
			break
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				stats.Remaining += len(pending) - i
				break
			}
		}

		stats.Checked++
		res, err := s.reconcile(context.WithoutCancel(ctx), o.PaymentReference)
		if err != nil {
			log.Warn().Err(err).Str("payment_reference", o.PaymentReference).Msg("service: sweep reconciliation failed")
			stats.Errors++
			stats.Remaining++
			continue
		}
		switch {
		case res.Inconclusive:
			stats.Inconclusive++
			stats.Remaining++
		case res.PaymentStatus == domain.PaymentPaid:
			stats.Paid++
		case res.PaymentStatus == domain.PaymentFailed:
			stats.Failed++
		}
	}

	if len(pending) > 0 {
		log.Info().
			Int("pending", len(pending)).
			Int("paid", stats.Paid).
			Int("failed", stats.Failed).
			Int("inconclusive", stats.Inconclusive).
			Int("errors", stats.Errors).
			Msg("service: reconciliation sweep finished")
	}
	return stats, nil
}

// OverridePayment forces the payment status without asking the gateway. The
// order is stamped with the manual source and the time of the override.
func (s *orderService) OverridePayment(ctx context.Context, reference string, status domain.PaymentStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPaymentStatus, status)
	}

	global, err := s.findGlobal(ctx, reference)
	if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		log.Warn().Err(err).Str("payment_reference", reference).Msg("service: global copy lookup failed")
	}
	local, collection, err := s.findCanteenCopy(ctx, reference, global)
	if err != nil {
		return nil, err
	}

	now := s.now()
	patchFor := func(o *domain.Order) domain.OrderPatch {
		return paymentPatch(o, status, domain.SourceManual, nil, now)
	}
	localPatch := patchFor(local)

	err = s.writeBoth(ctx, reference,
		func(ctx context.Context) error {
			return s.store.Update(ctx, collection, local.ID, localPatch)
		},
		func(ctx context.Context) error {
			if global == nil {
				return domain.ErrOrderNotFound
			}
			return s.store.Update(ctx, domain.GlobalCollection, global.ID, patchFor(global))
		},
	)
	if err != nil {
		return nil, err
	}

	previous := local.PaymentStatus
	localPatch.Apply(local)
	s.publish(ctx, events.OrderEvent{
		Type:             events.OrderPaymentStatusChanged,
		PaymentReference: reference,
		Canteen:          local.Canteen,
		Status:           local.Status,
		PaymentStatus:    status,
		Source:           domain.SourceManual,
	})
	log.Info().Str("payment_reference", reference).Str("old_payment_status", string(previous)).Str("new_payment_status", string(status)).Msg("service: payment status overridden")
	return local, nil
}

func (s *orderService) reconcile(ctx context.Context, ref string) (*ReconcileResult, error) {
	txn, attempts := s.queryWithRetry(ctx, ref)

	res := &ReconcileResult{PaymentReference: ref, Attempts: attempts, PaymentStatus: domain.PaymentPending}
	status, ok := domain.PaymentPending, false
	if txn != nil {
		res.RawStatus = txn.RawStatus
		status, ok = payment.Normalize(txn.RawStatus)
	}
	res.Inconclusive = !ok || status == domain.PaymentPending
	res.PaymentStatus = status

	global, err := s.findGlobal(ctx, ref)
	if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		log.Warn().Err(err).Str("payment_reference", ref).Msg("service: global copy lookup failed")
	}
	local, collection, localErr := s.findCanteenCopy(ctx, ref, global)

	now := s.now()
	patchFor := func(o *domain.Order) domain.OrderPatch {
		if res.Inconclusive {
			return domain.OrderPatch{LastCheckedAt: &now}
		}
		return reconciledPatch(o, status, txn, now)
	}

	var localPatch domain.OrderPatch
	err = s.writeBoth(ctx, ref,
		func(ctx context.Context) error {
			if localErr != nil {
				return localErr
			}
			localPatch = patchFor(local)
			return s.store.Update(ctx, collection, local.ID, localPatch)
		},
		func(ctx context.Context) error {
			if global == nil {
				return domain.ErrOrderNotFound
			}
			return s.store.Update(ctx, domain.GlobalCollection, global.ID, patchFor(global))
		},
	)
	if err != nil {
		return nil, err
	}

	previous := local.PaymentStatus
	localPatch.Apply(local)
	res.Order = local

	if res.Inconclusive {
		log.Info().Str("payment_reference", ref).Int("attempts", attempts).Str("raw_status", string(res.RawStatus)).Msg("service: payment still unresolved")
		return res, nil
	}
	if previous != status {
		s.publish(ctx, events.OrderEvent{
			Type:             events.OrderPaymentStatusChanged,
			PaymentReference: ref,
			Canteen:          local.Canteen,
			Status:           local.Status,
			PaymentStatus:    status,
			Source:           domain.SourceAuto,
		})
		log.Info().Str("payment_reference", ref).Str("raw_status", string(res.RawStatus)).Str("payment_status", string(status)).Msg("service: payment reconciled")
	}
	return res, nil
}

// queryWithRetry asks the gateway for the transaction once per backoff entry,
// stopping at the first usable answer. Errors count as unusable answers.
func (s *orderService) queryWithRetry(ctx context.Context, ref string) (*payment.Transaction, int) {
	attempts := 0
	for i, wait := range s.backoff {
		attempts++
		txn, err := s.gateway.QueryStatus(ctx, ref)
		if err != nil {
			log.Debug().Err(err).Str("payment_reference", ref).Int("attempt", attempts).Msg("service: gateway status query failed")
		} else if txn.Usable() {
			return txn, attempts
		}

		if i == len(s.backoff)-1 {
			break
		}
		if err := s.sleep(ctx, wait); err != nil {
			break
		}
	}
	return nil, attempts
}

// reconciledPatch moves o to the gateway's settled status. A copy already in
// that state gets the same value back, so repeated reconciliation leaves the
// stored document unchanged.
func reconciledPatch(o *domain.Order, status domain.PaymentStatus, txn *payment.Transaction, now time.Time) domain.OrderPatch {
	if o.PaymentStatus == status && !(status == domain.PaymentPaid && o.Status == domain.OrderPending) {
		return domain.OrderPatch{PaymentStatus: &status}
	}
	return paymentPatch(o, status, domain.SourceAuto, txn, now)
}

func paymentPatch(o *domain.Order, status domain.PaymentStatus, source domain.StatusSource, txn *payment.Transaction, now time.Time) domain.OrderPatch {
	p := domain.OrderPatch{
		PaymentStatus: &status,
		StatusSource:  &source,
		LastCheckedAt: &now,
	}
	if status == domain.PaymentPaid && o.Status == domain.OrderPending {
		confirmed := domain.OrderConfirmed
		p.Status = &confirmed
	}
	if txn != nil {
		if txn.PaymentMethod != "" {
			method := txn.PaymentMethod
			p.PaymentMethod = &method
		}
		if txn.SettledAt != nil {
			settled := *txn.SettledAt
			p.SettledAt = &settled
		}
	}
	return p
}
