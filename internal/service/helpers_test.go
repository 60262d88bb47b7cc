package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"canteen-sync/internal/domain"
	"canteen-sync/internal/events"
	"canteen-sync/internal/infrastructure/payment"
	"canteen-sync/internal/repo"
	"canteen-sync/internal/service"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

type queryResult struct {
	txn *payment.Transaction
	err error
}

// fakeGateway answers status queries from a script; the last entry repeats.
type fakeGateway struct {
	mu            sync.Mutex
	initiateFunc  func(ctx context.Context, req payment.InitiateRequest) (*payment.Checkout, error)
	script        []queryResult
	statusFunc    func(reference string) queryResult
	initiateCalls []payment.InitiateRequest
	queryCalls    int
}

func (g *fakeGateway) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.Checkout, error) {
	g.mu.Lock()
	g.initiateCalls = append(g.initiateCalls, req)
	g.mu.Unlock()
	if g.initiateFunc != nil {
		return g.initiateFunc(ctx, req)
	}
	return &payment.Checkout{CheckoutURL: "https://pay.test/" + req.Reference, Token: "tok-" + req.Reference}, nil
}

func (g *fakeGateway) QueryStatus(ctx context.Context, reference string) (*payment.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.queryCalls
	g.queryCalls++
	if g.statusFunc != nil {
		r := g.statusFunc(reference)
		if r.txn != nil {
			txn := *r.txn
			txn.Reference = reference
			return &txn, r.err
		}
		return nil, r.err
	}
	if len(g.script) == 0 {
		return &payment.Transaction{Reference: reference}, nil
	}
	if i >= len(g.script) {
		i = len(g.script) - 1
	}
	r := g.script[i]
	if r.txn != nil {
		txn := *r.txn
		txn.Reference = reference
		return &txn, r.err
	}
	return nil, r.err
}

func (g *fakeGateway) setScript(results ...queryResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = results
	g.queryCalls = 0
}

func (g *fakeGateway) queries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queryCalls
}

func raw(s payment.RawStatus) queryResult {
	return queryResult{txn: &payment.Transaction{RawStatus: s}}
}

func unusable() queryResult {
	return queryResult{txn: &payment.Transaction{}}
}

// countingStore records create attempts per collection, failed or not.
type countingStore struct {
	repo.RecordStore
	mu      sync.Mutex
	creates map[string]int
}

func (s *countingStore) Create(ctx context.Context, collection string, o *domain.Order) (string, error) {
	s.mu.Lock()
	s.creates[collection]++
	s.mu.Unlock()
	return s.RecordStore.Create(ctx, collection, o)
}

func (s *countingStore) createCount(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates[collection]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.EventType
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	svc       service.OrderService
	mem       *repo.MemoryStore
	store     *countingStore
	gateway   *fakeGateway
	publisher *recordingPublisher
	mu        sync.Mutex
	sleeps    []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		mem:       repo.NewMemoryStore(),
		gateway:   &fakeGateway{},
		publisher: &recordingPublisher{},
	}
	h.mem.SetClock(func() time.Time { return testNow })
	h.store = &countingStore{RecordStore: h.mem, creates: make(map[string]int)}
	h.svc = service.NewOrderService(h.store, h.gateway, service.Options{
		Publisher: h.publisher,
		Now:       func() time.Time { return testNow },
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.mu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.mu.Unlock()
			return nil
		},
	})
	return h
}

func (h *harness) recordedSleeps() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func (h *harness) submit(t *testing.T, canteen string, price int64, qty string) *service.SubmitResult {
	t.Helper()
	res, err := h.svc.Submit(context.Background(), service.SubmitRequest{
		Requester: domain.Requester{ID: "u1", Name: "Budi", Email: "budi@example.com"},
		Item:      service.CatalogItem{ID: "f1", Name: "Nasi Goreng", Price: price, Canteen: canteen},
		Quantity:  qty,
	})
	require.NoError(t, err)
	return res
}

// copies returns the canteen and global copy of the order with ref.
func (h *harness) copies(t *testing.T, c domain.Canteen, ref string) (*domain.Order, *domain.Order) {
	t.Helper()
	ctx := context.Background()
	local, err := h.mem.Query(ctx, c.Collection(), repo.Filter{PaymentReference: ref})
	require.NoError(t, err)
	global, err := h.mem.Query(ctx, domain.GlobalCollection, repo.Filter{PaymentReference: ref})
	require.NoError(t, err)

	var l, g *domain.Order
	if len(local) > 0 {
		l = &local[0]
	}
	if len(global) > 0 {
		g = &global[0]
	}
	return l, g
}
