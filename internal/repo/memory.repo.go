package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"canteen-sync/internal/domain"

	"github.com/google/uuid"
)

// Op names a store operation, for fault injection.
type Op string

const (
	OpCreate      Op = "create"
	OpUpdate      Op = "update"
	OpGet         Op = "get"
	OpQuery       Op = "query"
	OpBatchDelete Op = "batch_delete"
)

type subscription struct {
	collection string
	filter     Filter
	onChange   func([]domain.Order)
}

// MemoryStore is an in-process RecordStore. It backs the simulator and tests,
// and STORE_DRIVER=memory.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]domain.Order
	subs        map[int]*subscription
	nextSub     int
	now         func() time.Time
	failHook    func(op Op, collection string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]domain.Order),
		subs:        make(map[int]*subscription),
		now:         time.Now,
	}
}

// SetClock replaces the clock used for CreatedAt.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetFailHook makes operations fail whenever hook returns an error.
func (s *MemoryStore) SetFailHook(hook func(op Op, collection string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failHook = hook
}

func (s *MemoryStore) fail(op Op, collection string) error {
	if s.failHook == nil {
		return nil
	}
	return s.failHook(op, collection)
}

func (s *MemoryStore) Create(ctx context.Context, collection string, o *domain.Order) (string, error) {
	s.mu.Lock()
	if !domain.IsCollection(collection) {
		s.mu.Unlock()
		return "", &domain.CollectionUnavailableError{Collection: collection, Err: fmt.Errorf("unknown collection %q", collection)}
	}
	if err := s.fail(OpCreate, collection); err != nil {
		s.mu.Unlock()
		return "", &domain.CollectionUnavailableError{Collection: collection, Err: err}
	}

	o.ID = uuid.NewString()
	o.CreatedAt = s.now()
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]domain.Order)
		s.collections[collection] = docs
	}
	docs[o.ID] = cloneOrder(*o)
	s.mu.Unlock()

	s.notify(collection)
	return o.ID, nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, patch domain.OrderPatch) error {
	s.mu.Lock()
	if err := s.fail(OpUpdate, collection); err != nil {
		s.mu.Unlock()
		return err
	}
	o, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrOrderNotFound
	}
	patch.Apply(&o)
	s.collections[collection][id] = o
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.fail(OpGet, collection); err != nil {
		return nil, err
	}
	o, ok := s.collections[collection][id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, f Filter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !domain.IsCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	if err := s.fail(OpQuery, collection); err != nil {
		return nil, err
	}
	return s.snapshot(collection, f), nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, collection string, f Filter, onChange func([]domain.Order)) (func(), error) {
	s.mu.Lock()
	if !domain.IsCollection(collection) {
		s.mu.Unlock()
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscription{collection: collection, filter: f, onChange: onChange}
	initial := s.snapshot(collection, f)
	s.mu.Unlock()

	onChange(initial)

	var once sync.Once
	done := make(chan struct{})
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-done:
		}
	}()
	return unsubscribe, nil
}

func (s *MemoryStore) BatchDelete(ctx context.Context, refs []DocRef) error {
	s.mu.Lock()
	if err := s.fail(OpBatchDelete, ""); err != nil {
		s.mu.Unlock()
		return err
	}
	touched := make(map[string]bool)
	for _, ref := range refs {
		if !domain.IsCollection(ref.Collection) {
			s.mu.Unlock()
			return fmt.Errorf("unknown collection %q", ref.Collection)
		}
	}
	for _, ref := range refs {
		delete(s.collections[ref.Collection], ref.ID)
		touched[ref.Collection] = true
	}
	s.mu.Unlock()

	for collection := range touched {
		s.notify(collection)
	}
	return nil
}

// Count returns the number of documents in a collection.
func (s *MemoryStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// snapshot must be called with s.mu held.
func (s *MemoryStore) snapshot(collection string, f Filter) []domain.Order {
	orders := make([]domain.Order, 0, len(s.collections[collection]))
	for _, o := range s.collections[collection] {
		if f.Match(&o) {
			orders = append(orders, cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders
}

func (s *MemoryStore) notify(collection string) {
	type delivery struct {
		fn     func([]domain.Order)
		orders []domain.Order
	}

	s.mu.RLock()
	var pending []delivery
	for _, sub := range s.subs {
		if sub.collection == collection {
			pending = append(pending, delivery{fn: sub.onChange, orders: s.snapshot(collection, sub.filter)})
		}
	}
	s.mu.RUnlock()

	for _, d := range pending {
		d.fn(d.orders)
	}
}

func cloneOrder(o domain.Order) domain.Order {
	c := o
	c.Items = append([]domain.LineItem(nil), o.Items...)
	if o.SettledAt != nil {
		t := *o.SettledAt
		c.SettledAt = &t
	}
	if o.LastCheckedAt != nil {
		t := *o.LastCheckedAt
		c.LastCheckedAt = &t
	}
	return c
}
