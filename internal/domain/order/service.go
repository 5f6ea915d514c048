package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/preorder/internal/domain/auth"
	"github.com/xenking/preorder/internal/domain/pricing"
	"github.com/xenking/preorder/internal/domain/promotion"
)

// Event is emitted after a lifecycle change has been committed.
type Event struct {
	ID             string
	Type           EventType
	OrderID        string
	PreviousStatus Status
	Status         Status
	Actor          string
	// Order is the committed snapshot; nil for EventDeleted.
	Order      *Order
	OccurredAt time.Time
}

// EventPublisher hands events to an asynchronous consumer. Publish must not
// block and has no error path: delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event)
}

// PromotionSource returns the active promotion configuration.
type PromotionSource interface {
	Get(ctx context.Context) (*promotion.Config, error)
}

// CreateRequest holds the input of CreateOrder.
type CreateRequest struct {
	CustomerRef    string
	Items          []pricing.Line
	DeliveryMethod pricing.DeliveryMethod
}

// ServiceDeps bundles the collaborators of Service.
type ServiceDeps struct {
	Orders      Store
	Promotions  PromotionSource
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Meter       metric.Meter
	Tracer      trace.Tracer
}

// Service runs order operations: it prices carts, applies state machine
// transitions under an optimistic guard and publishes lifecycle events.
type Service struct {
	orders     Store
	promotions PromotionSource
	events     EventPublisher
	now        func() time.Time
	newID      func() string
	tracer     trace.Tracer

	created     metric.Int64Counter
	transitions metric.Int64Counter
}

// NewService wires dependencies into a Service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order store is required")
	}
	if deps.Promotions == nil {
		return nil, errors.New("order service: promotion source is required")
	}
	s := &Service{
		orders:     deps.Orders,
		promotions: deps.Promotions,
		events:     deps.Events,
		now:        deps.Clock,
		newID:      deps.IDGenerator,
		tracer:     deps.Tracer,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	if s.tracer == nil {
		s.tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	meter := deps.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("")
	}

	var err error
	if s.created, err = meter.Int64Counter("preorder.orders.created",
		metric.WithDescription("Orders created"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if s.transitions, err = meter.Int64Counter("preorder.orders.transitions",
		metric.WithDescription("Committed order lifecycle transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.transitions counter")
	}

	return s, nil
}

// ComputePrice prices a cart under the active promotion configuration without
// creating anything.
func (s *Service) ComputePrice(ctx context.Context, items []pricing.Line, method pricing.DeliveryMethod) (pricing.Breakdown, error) {
	cfg, err := s.promotions.Get(ctx)
	if err != nil {
		return pricing.Breakdown{}, wrapStorage("get promotion", err)
	}
	b, err := pricing.Compute(items, method, cfg)
	if err != nil {
		return pricing.Breakdown{}, asValidation(err)
	}
	return b, nil
}

// CreateOrder prices the cart, freezes the items and the breakdown, and stores
// the order as awaiting payment.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer span.End()

	customer := strings.TrimSpace(req.CustomerRef)
	if customer == "" {
		return nil, &ValidationError{Field: "customerRef", Reason: "required"}
	}
	if len(req.Items) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "cart is empty"}
	}
	if !req.DeliveryMethod.Valid() {
		return nil, &ValidationError{Field: "deliveryMethod", Reason: "unknown method " + string(req.DeliveryMethod)}
	}

	b, err := s.ComputePrice(ctx, req.Items, req.DeliveryMethod)
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(req.Items))
	for i, l := range req.Items {
		items[i] = Item{ItemID: l.ItemID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}

	now := s.now()
	o := &Order{
		ID:             s.newID(),
		CustomerRef:    customer,
		DeliveryMethod: req.DeliveryMethod,
		Items:          items,
		Price:          priceFromBreakdown(b),
		Status:         StatusAwaitingPayment,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, wrapStorage("create order", err)
	}

	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("delivery_method", string(o.DeliveryMethod))))
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("total", o.Price.Total.String()),
		zap.Int("units", o.Price.TotalUnits),
	)
	s.publish(ctx, EventCreated, "", o)

	return o, nil
}

// ReportPayment records the customer's payment evidence. Evidence is set
// once; a second report fails with InvalidTransitionError.
func (s *Service) ReportPayment(ctx context.Context, id, evidence string) (*Order, error) {
	return s.transition(ctx, id, Command{Event: EventPaymentReported, Evidence: evidence})
}

// Confirm marks a reported payment as received and sets the estimated
// delivery date. Operator only.
func (s *Service) Confirm(ctx context.Context, id string, deliveryDate time.Time) (*Order, error) {
	return s.transition(ctx, id, Command{Event: EventConfirmed, DeliveryDate: deliveryDate})
}

// Reschedule overwrites the delivery date of a confirmed order. Operator only.
func (s *Service) Reschedule(ctx context.Context, id string, deliveryDate time.Time) (*Order, error) {
	return s.transition(ctx, id, Command{Event: EventRescheduled, DeliveryDate: deliveryDate})
}

// Cancel moves a not yet confirmed order to cancelled. Operator only.
func (s *Service) Cancel(ctx context.Context, id string) (*Order, error) {
	return s.transition(ctx, id, Command{Event: EventCancelled})
}

// Delete removes an order regardless of status. Operator only. Deleting an
// unknown or already deleted order returns ErrNotFound.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "order.Delete")
	defer span.End()

	if !auth.IsOperator(ctx) {
		return &InvalidTransitionError{Event: EventDeleted, Reason: "caller is not an operator", err: ErrOperatorRequired}
	}
	if err := s.orders.Delete(ctx, id); err != nil {
		return wrapStorage("delete order", err)
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(EventDeleted))))
	zctx.From(ctx).Info("Order deleted", zap.String("order_id", id), zap.String("actor", auth.ActorID(ctx)))
	s.publish(ctx, EventDeleted, "", &Order{ID: id})

	return nil
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, wrapStorage("get order", err)
	}
	return o, nil
}

// ListByCustomer returns the orders of one customer, newest first.
func (s *Service) ListByCustomer(ctx context.Context, customerRef string) ([]Order, error) {
	customerRef = strings.TrimSpace(customerRef)
	if customerRef == "" {
		return nil, &ValidationError{Field: "customerRef", Reason: "required"}
	}
	return s.ListAll(ctx, Filter{CustomerRef: customerRef})
}

// ListAll returns orders matching f, newest first.
func (s *Service) ListAll(ctx context.Context, f Filter) ([]Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: "unknown status " + string(f.Status)}
	}
	if f.Limit < 0 {
		return nil, &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	orders, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, wrapStorage("list orders", err)
	}
	return orders, nil
}

// DeleteMany removes one batch of expired orders with a single conditional
// delete and reports how many rows went away.
func (s *Service) DeleteMany(ctx context.Context, e Expiry) (int, error) {
	n, err := s.orders.DeleteExpired(ctx, e)
	if err != nil {
		return n, wrapStorage("delete expired orders", err)
	}
	return n, nil
}

// transition loads the order, applies cmd and writes the result conditioned on
// the status read. A lost race is retried once; the reload then usually turns
// it into an InvalidTransitionError.
func (s *Service) transition(ctx context.Context, id string, cmd Command) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Transition", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.event", string(cmd.Event)),
	))
	defer span.End()

	cmd.Operator = auth.IsOperator(ctx)

	for attempt := 0; ; attempt++ {
		cur, err := s.orders.Get(ctx, id)
		if err != nil {
			return nil, wrapStorage("get order", err)
		}

		next, err := Apply(cur, cmd, s.now())
		if err != nil {
			return nil, err
		}

		err = s.orders.Update(ctx, next, cur.Status)
		if errors.Is(err, ErrConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, wrapStorage("update order", err)
		}

		s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(cmd.Event))))
		zctx.From(ctx).Info("Order transitioned",
			zap.String("order_id", id),
			zap.String("event", string(cmd.Event)),
			zap.String("from", string(cur.Status)),
			zap.String("to", string(next.Status)),
			zap.String("actor", auth.ActorID(ctx)),
		)
		s.publish(ctx, cmd.Event, cur.Status, next)

		return next, nil
	}
}

func (s *Service) publish(ctx context.Context, typ EventType, prev Status, o *Order) {
	if s.events == nil {
		return
	}
	ev := Event{
		ID:             ulid.Make().String(),
		Type:           typ,
		OrderID:        o.ID,
		PreviousStatus: prev,
		Status:         o.Status,
		Actor:          auth.ActorID(ctx),
		OccurredAt:     s.now(),
	}
	if typ != EventDeleted {
		ev.Order = o.Clone()
	}
	s.events.Publish(ctx, ev)
}

func asValidation(err error) error {
	var pErr *pricing.ValidationError
	if errors.As(err, &pErr) {
		return &ValidationError{Field: pErr.Field, Reason: pErr.Reason}
	}
	return err
}
