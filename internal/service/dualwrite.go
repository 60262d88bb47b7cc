package service

import (
	"context"
	"fmt"

	"canteen-sync/internal/domain"
	"canteen-sync/internal/repo"

	"github.com/rs/zerolog/log"
)

type writeFunc func(ctx context.Context) error

// writeBoth performs the required canteen write, then the global write. The
// global write is attempted even when the required one failed, and its error
// never reaches the caller.
func (s *orderService) writeBoth(ctx context.Context, ref string, required, secondary writeFunc) error {
	err := required(ctx)
	s.bestEffort(ctx, domain.GlobalCollection, ref, secondary)
	return err
}

// bestEffort runs a secondary write. It is not cancelled with the caller and
// is never retried; a failure is only logged.
func (s *orderService) bestEffort(ctx context.Context, collection, ref string, write writeFunc) {
	if err := write(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Str("collection", collection).Str("payment_reference", ref).Msg("service: secondary write failed")
	}
}

// findGlobal locates the global copy of an order. Its store ID differs from
// the canteen copy's, so it is matched by payment reference.
func (s *orderService) findGlobal(ctx context.Context, ref string) (*domain.Order, error) {
	orders, err := s.store.Query(ctx, domain.GlobalCollection, repo.Filter{PaymentReference: ref})
	if err != nil {
		return nil, fmt.Errorf("lookup %s in %s: %w", ref, domain.GlobalCollection, err)
	}
	if len(orders) == 0 {
		return nil, domain.ErrOrderNotFound
	}
	return &orders[0], nil
}

// findCanteenCopy locates the canteen copy of an order. The canteen is taken
// from the reference when possible, otherwise from the global copy, otherwise
// every canteen is searched.
func (s *orderService) findCanteenCopy(ctx context.Context, ref string, global *domain.Order) (*domain.Order, string, error) {
	var candidates []domain.Canteen
	if c, ok := canteenFromReference(ref); ok {
		candidates = []domain.Canteen{c}
	} else if global != nil && global.Canteen.Valid() {
		candidates = []domain.Canteen{global.Canteen}
	} else {
		candidates = domain.Canteens
	}

	var lastErr error
	for _, c := range candidates {
		orders, err := s.store.Query(ctx, c.Collection(), repo.Filter{PaymentReference: ref})
		if err != nil {
			lastErr = fmt.Errorf("lookup %s in %s: %w", ref, c.Collection(), err)
			continue
		}
		if len(orders) > 0 {
			return &orders[0], c.Collection(), nil
		}
	}
	if lastErr != nil {
		return nil, "", lastErr
	}
	return nil, "", domain.ErrOrderNotFound
}
