package repo

import (
	"context"
	"time"

	"canteen-sync/internal/domain"
)

// RecordStore is the document store orders live in. Collections are the four
// canteen collections plus the global one; see domain.Canteen.Collection.
type RecordStore interface {
	// Create stores o and returns its store ID. CreatedAt is assigned by the
	// store. Failures are *domain.CollectionUnavailableError.
	Create(ctx context.Context, collection string, o *domain.Order) (string, error)
	Update(ctx context.Context, collection, id string, patch domain.OrderPatch) error
	Get(ctx context.Context, collection, id string) (*domain.Order, error)
	Query(ctx context.Context, collection string, f Filter) ([]domain.Order, error)
	// Subscribe delivers the full matching result set now and after every
	// change to the collection, until unsubscribe is called or ctx ends.
	Subscribe(ctx context.Context, collection string, f Filter, onChange func([]domain.Order)) (unsubscribe func(), err error)
	// BatchDelete removes every referenced document or none of them.
	BatchDelete(ctx context.Context, refs []DocRef) error
}

type DocRef struct {
	Collection string
	ID         string
}

// Filter selects orders; zero-valued fields match everything.
type Filter struct {
	Canteen          domain.Canteen
	PaymentStatus    domain.PaymentStatus
	PaymentReference string
	CreatedAfter     time.Time
}

func (f Filter) Match(o *domain.Order) bool {
	if f.Canteen != "" && o.Canteen != f.Canteen {
		return false
	}
	if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
		return false
	}
	if f.PaymentReference != "" && o.PaymentReference != f.PaymentReference {
		return false
	}
	if !f.CreatedAfter.IsZero() && !o.CreatedAt.After(f.CreatedAfter) {
		return false
	}
	return true
}
