package service

import (
	"context"
	"fmt"
	"sync"

	"canteen-sync/internal/domain"
	"canteen-sync/internal/events"
	"canteen-sync/internal/repo"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// PurgeOrders deletes every order in scope from the canteen collections and
// the matching documents of the global collection, in one atomic batch.
//
// For the all-canteens scope a canteen whose collection cannot be enumerated
// is skipped, together with its global documents, and left out of the count.
func (s *orderService) PurgeOrders(ctx context.Context, scope domain.Scope) (int, error) {
	if !scope.All && !scope.Canteen.Valid() {
		return 0, &domain.InvalidCanteenError{Value: string(scope.Canteen)}
	}

	var (
		mu      sync.Mutex
		refs    []repo.DocRef
		skipped = make(map[domain.Canteen]bool)
		globals []domain.Order
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range scope.Canteens() {
		g.Go(func() error {
			orders, err := s.store.Query(gctx, c.Collection(), repo.Filter{})
			if err != nil {
				if !scope.All {
					return fmt.Errorf("enumerate %s: %w", c.Collection(), err)
				}
				log.Warn().Err(err).Str("collection", c.Collection()).Msg("service: purge skipping canteen that could not be enumerated")
				mu.Lock()
				skipped[c] = true
				mu.Unlock()
				return nil
			}
			mu.Lock()
			for _, o := range orders {
				refs = append(refs, repo.DocRef{Collection: c.Collection(), ID: o.ID})
			}
			mu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		var f repo.Filter
		if !scope.All {
			f.Canteen = scope.Canteen
		}
		orders, err := s.store.Query(gctx, domain.GlobalCollection, f)
		if err != nil {
			return fmt.Errorf("enumerate %s: %w", domain.GlobalCollection, err)
		}
		globals = orders
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Str("scope", scope.String()).Msg("service: purge could not resolve scope")
		return 0, &domain.BulkDeleteFailure{Scope: scope, Err: err}
	}

	for _, o := range globals {
		if scope.Includes(o.Canteen) && !skipped[o.Canteen] {
			refs = append(refs, repo.DocRef{Collection: domain.GlobalCollection, ID: o.ID})
		}
	}
	if len(refs) == 0 {
		return 0, nil
	}

	if err := s.store.BatchDelete(ctx, refs); err != nil {
		log.Error().Err(err).Str("scope", scope.String()).Int("selected", len(refs)).Msg("service: purge batch failed, nothing deleted")
		return 0, &domain.BulkDeleteFailure{Scope: scope, Err: err}
	}

	s.publish(ctx, events.OrderEvent{Type: events.OrdersPurged, Scope: scope.String(), Count: len(refs)})
	log.Info().Str("scope", scope.String()).Int("deleted", len(refs)).Msg("service: orders purged")
	return len(refs), nil
}
