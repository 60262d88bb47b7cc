package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"canteen-sync/internal/domain"
	"canteen-sync/internal/events"
	"canteen-sync/internal/infrastructure/payment"
	"canteen-sync/internal/repo"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type OrderService interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	CheckPayment(ctx context.Context, reference string) (*ReconcileResult, error)
	Sweep(ctx context.Context) (SweepStats, error)
	OverridePayment(ctx context.Context, reference string, status domain.PaymentStatus) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, canteen domain.Canteen, id string, status domain.OrderStatus) (*domain.Order, error)
	PurgeOrders(ctx context.Context, scope domain.Scope) (int, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

var DefaultBackoff = []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}

const DefaultFreshnessWindow = 24 * time.Hour

type Options struct {
	// Backoff holds one entry per gateway status query. After a query yields
	// nothing usable the engine waits Backoff[i] before the next one.
	Backoff []time.Duration
	// FreshnessWindow bounds how old a pending order the sweep still checks.
	FreshnessWindow time.Duration
	// Limiter paces gateway queries during a sweep. Nil means unlimited.
	Limiter   *rate.Limiter
	Publisher events.Publisher
	Sleep     Sleeper
	Now       func() time.Time
}

type orderService struct {
	store     repo.RecordStore
	gateway   payment.PaymentGateway
	backoff   []time.Duration
	freshness time.Duration
	limiter   *rate.Limiter
	publisher events.Publisher
	sleep     Sleeper
	now       func() time.Time
}

func NewOrderService(store repo.RecordStore, gateway payment.PaymentGateway, opts Options) OrderService {
	s := &orderService{
		store:     store,
		gateway:   gateway,
		backoff:   opts.Backoff,
		freshness: opts.FreshnessWindow,
		limiter:   opts.Limiter,
		publisher: opts.Publisher,
		sleep:     opts.Sleep,
		now:       opts.Now,
	}
	if len(s.backoff) == 0 {
		s.backoff = DefaultBackoff
	}
	if s.freshness <= 0 {
		s.freshness = DefaultFreshnessWindow
	}
	if s.publisher == nil {
		s.publisher = events.Nop()
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CatalogItem struct {
	ID    string
	Name  string
	Price int64
	// Canteen is the raw tag carried by the menu item.
	Canteen string
}

type SubmitRequest struct {
	Requester domain.Requester
	Item      CatalogItem
	// Quantity is the text the customer typed.
	Quantity string
	Note     string
}

type SubmitResult struct {
	Order            *domain.Order
	CheckoutURL      string
	PaymentReference string
}

// ParseQuantity accepts a whole number between 1 and domain.MaxQuantity.
func ParseQuantity(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > domain.MaxQuantity {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidQuantity, s)
	}
	return n, nil
}

// NewPaymentReference returns a fresh reference that also names its canteen.
func NewPaymentReference(c domain.Canteen) string {
	return "ORD-" + string(c) + "-" + uuid.NewString()
}

// canteenFromReference recovers the canteen from a reference made by
// NewPaymentReference.
func canteenFromReference(ref string) (domain.Canteen, bool) {
	parts := strings.SplitN(ref, "-", 3)
	if len(parts) != 3 || parts[0] != "ORD" {
		return "", false
	}
	c := domain.Canteen(parts[1])
	return c, c.Valid()
}

func (s *orderService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	qty, err := ParseQuantity(req.Quantity)
	if err != nil {
		return nil, err
	}
	canteen, err := domain.ParseCanteen(req.Item.Canteen)
	if err != nil {
		log.Warn().Str("item_id", req.Item.ID).Str("canteen", req.Item.Canteen).Msg("service: item has no valid canteen")
		return nil, err
	}
	if req.Item.ID == "" || req.Item.Price < 0 {
		return nil, domain.ErrInvalidItem
	}
	if req.Item.Price > 0 && int64(qty) > math.MaxInt64/req.Item.Price {
		return nil, fmt.Errorf("%w: total of %d x %d overflows", domain.ErrInvalidQuantity, qty, req.Item.Price)
	}
	note := strings.TrimSpace(req.Note)
	if utf8.RuneCountInString(note) > domain.MaxNoteLength {
		return nil, domain.ErrNoteTooLong
	}

	items := []domain.LineItem{{
		ItemID:   req.Item.ID,
		Name:     req.Item.Name,
		Price:    req.Item.Price,
		Quantity: qty,
	}}
	total := domain.ComputeTotal(items)
	ref := NewPaymentReference(canteen)

	checkout, err := s.gateway.Initiate(ctx, payment.InitiateRequest{
		Reference:   ref,
		GrossAmount: total,
		Items:       []payment.Item{{ID: req.Item.ID, Name: req.Item.Name, Price: req.Item.Price, Quantity: qty}},
		Payer:       payment.Payer{ID: req.Requester.ID, Name: req.Requester.Name, Email: req.Requester.Email},
	})
	if err != nil {
		log.Error().Err(err).Str("payment_reference", ref).Msg("service: payment initiation failed")
		var pie *domain.PaymentInitiationError
		if !errors.As(err, &pie) {
			err = &domain.PaymentInitiationError{Reference: ref, Err: err}
		}
		return nil, err
	}

	order := &domain.Order{
		PaymentReference: ref,
		Requester:        req.Requester,
		Canteen:          canteen,
		Items:            items,
		Total:            total,
		Note:             note,
		Status:           domain.OrderPending,
		PaymentStatus:    domain.PaymentPending,
		PaymentToken:     checkout.Token,
	}

	collection := canteen.Collection()
	id, err := s.store.Create(ctx, collection, order)
	if err != nil {
		// the gateway attempt stays behind without an order; it expires gateway-side
		log.Error().Err(err).Str("collection", collection).Str("payment_reference", ref).Msg("service: required order write failed, payment attempt orphaned")
		var cue *domain.CollectionUnavailableError
		if !errors.As(err, &cue) {
			err = &domain.CollectionUnavailableError{Collection: collection, Err: err}
		}
		return nil, err
	}

	global := *order
	global.ID = ""
	global.CanteenRef = id
	global.Items = append([]domain.LineItem(nil), order.Items...)
	s.bestEffort(ctx, domain.GlobalCollection, ref, func(ctx context.Context) error {
		_, err := s.store.Create(ctx, domain.GlobalCollection, &global)
		return err
	})

	s.publish(ctx, events.OrderEvent{
		Type:             events.OrderCreated,
		PaymentReference: ref,
		Canteen:          canteen,
		Status:           order.Status,
		PaymentStatus:    order.PaymentStatus,
	})

	log.Info().Str("order_id", id).Str("payment_reference", ref).Str("canteen", string(canteen)).Int64("total", total).Msg("service: order submitted")

	return &SubmitResult{
		Order:            order,
		CheckoutURL:      checkout.CheckoutURL,
		PaymentReference: ref,
	}, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, canteen domain.Canteen, id string, status domain.OrderStatus) (*domain.Order, error) {
	if !canteen.Valid() {
		return nil, &domain.InvalidCanteenError{Value: string(canteen)}
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidStatusTransition, status)
	}

	current, err := s.store.Get(ctx, canteen.Collection(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			log.Error().Err(err).Str("order_id", id).Str("canteen", string(canteen)).Msg("service: failed to get order for status update")
		}
		return nil, err
	}

	if current.Status == status {
		return current, nil
	}
	if !current.Status.CanTransition(status) {
		log.Warn().Str("order_id", id).Str("current_status", string(current.Status)).Str("new_status", string(status)).Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: from %s to %s", domain.ErrInvalidStatusTransition, current.Status, status)
	}
	if current.Status == domain.OrderPending && status != domain.OrderCancelled && current.PaymentStatus != domain.PaymentPaid {
		return nil, fmt.Errorf("%w: payment is %s", domain.ErrPaymentNotSettled, current.PaymentStatus)
	}

	patch := domain.OrderPatch{Status: &status}
	err = s.writeBoth(ctx, current.PaymentReference,
		func(ctx context.Context) error {
			return s.store.Update(ctx, canteen.Collection(), id, patch)
		},
		func(ctx context.Context) error {
			global, err := s.findGlobal(ctx, current.PaymentReference)
			if err != nil {
				return err
			}
			return s.store.Update(ctx, domain.GlobalCollection, global.ID, patch)
		},
	)
	if err != nil {
		return nil, err
	}

	previous := current.Status
	patch.Apply(current)
	s.publish(ctx, events.OrderEvent{
		Type:             events.OrderStatusChanged,
		PaymentReference: current.PaymentReference,
		Canteen:          canteen,
		Status:           status,
		PaymentStatus:    current.PaymentStatus,
		Source:           domain.SourceManual,
	})
	log.Info().Str("order_id", id).Str("old_status", string(previous)).Str("new_status", string(status)).Msg("service: order status updated")
	return current, nil
}

func (s *orderService) publish(ctx context.Context, ev events.OrderEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now()
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn().Err(err).Str("type", string(ev.Type)).Str("payment_reference", ev.PaymentReference).Msg("service: failed to publish order event")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
