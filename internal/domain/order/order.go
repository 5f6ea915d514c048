package order

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/preorder/internal/domain/pricing"
	"github.com/xenking/preorder/internal/domain/promotion"
)

// Status is the canonical order status. It is a closed set; legacy spellings
// are translated at the storage boundary.
type Status string

const (
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaymentReported Status = "payment_reported"
	StatusConfirmed       Status = "confirmed"
	StatusCancelled       Status = "cancelled"
)

// Statuses lists every canonical status.
var Statuses = []Status{StatusAwaitingPayment, StatusPaymentReported, StatusConfirmed, StatusCancelled}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Terminal reports whether no further status change is possible.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// Order is a persisted customer order. Items and Price are snapshots taken at
// creation and never change afterwards.
type Order struct {
	ID             string
	CustomerRef    string
	DeliveryMethod pricing.DeliveryMethod
	Items          []Item
	Price          Price
	Status         Status
	// PaymentEvidence is set exactly once, by ReportPayment.
	PaymentEvidence string
	// EstimatedDeliveryDate is set on confirmation; date only, UTC midnight.
	EstimatedDeliveryDate *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Item is a cart line frozen into the order.
type Item struct {
	ItemID    string          `json:"item_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Price is the frozen price breakdown of an order.
type Price struct {
	Subtotal     decimal.Decimal
	ShippingFee  decimal.Decimal
	Total        decimal.Decimal
	TotalUnits   int
	FreeShipping bool
	GiftTier     *promotion.GiftTier
}

// Reconciles reports whether the stored amounts add up.
func (p Price) Reconciles() bool {
	return p.Subtotal.Add(p.ShippingFee).Equal(p.Total)
}

func priceFromBreakdown(b pricing.Breakdown) Price {
	return Price{
		Subtotal:     b.Subtotal,
		ShippingFee:  b.ShippingFee,
		Total:        b.Total,
		TotalUnits:   b.TotalUnits,
		FreeShipping: b.FreeShipping,
		GiftTier:     b.GiftTier,
	}
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	out := *o
	out.Items = slices.Clone(o.Items)
	if o.Price.GiftTier != nil {
		t := *o.Price.GiftTier
		out.Price.GiftTier = &t
	}
	if o.EstimatedDeliveryDate != nil {
		d := *o.EstimatedDeliveryDate
		out.EstimatedDeliveryDate = &d
	}
	return &out
}

// Filter narrows ListOrders. Zero fields match everything.
type Filter struct {
	CustomerRef string
	Status      Status
	Limit       int
}

// Expiry selects orders for bulk reclamation: any of Statuses created strictly
// before Before. At most Limit rows are removed per call, oldest first; a
// Limit of zero or less removes every match.
type Expiry struct {
	Statuses []Status
	Before   time.Time
	Limit    int
}

// Store persists orders.
//
// Update must be conditional: it writes o only if the stored status still
// equals expected, returning ErrConflict otherwise and ErrNotFound if the row is
// gone. Rows stored under a legacy alias of a status (see Aliases) match that
// status in Update, List and DeleteExpired. DeleteExpired must be a single
// atomic conditional delete.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order, expected Status) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f Filter) ([]Order, error)
	DeleteExpired(ctx context.Context, e Expiry) (int, error)
}
