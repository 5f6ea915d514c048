package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/preorder/internal/domain/order"
	"github.com/xenking/preorder/internal/domain/pricing"
	"github.com/xenking/preorder/internal/domain/promotion"
)

const (
	orderColumns = `id, customer_ref, delivery_method, items, subtotal, shipping_fee, total,
		total_units, free_shipping, gift_threshold_units, gift_quantity, status,
		payment_evidence, estimated_delivery_date, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	importOrderSQL = createOrderSQL + ` ON CONFLICT (id) DO NOTHING`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	updateOrderSQL = `UPDATE orders
		SET status = $3, payment_evidence = $4, estimated_delivery_date = $5, updated_at = $6
		WHERE id = $1 AND status = ANY($2)`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR customer_ref = $1) AND ($2::text[] IS NULL OR status = ANY($2))
		ORDER BY created_at DESC, id
		LIMIT NULLIF($3::int, 0)`

	// The outer predicate repeats the selection so a row that changed status
	// after being picked is not removed.
	deleteExpiredSQL = `DELETE FROM orders
		WHERE id IN (
			SELECT id FROM orders
			WHERE status = ANY($1) AND created_at < $2
			ORDER BY created_at
			LIMIT $3::int
			FOR UPDATE SKIP LOCKED
		) AND status = ANY($1) AND created_at < $2`

	uniqueViolation = "23505"
)

var _ order.Store = (*OrderRepository)(nil)

// OrderRepository implements order.Store backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The items are serialized to JSON for the
// JSONB column. A duplicate ID yields order.ErrConflict.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	args, err := createArgs(o)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, createOrderSQL, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return order.ErrConflict
		}
		return classify(err, "create order")
	}
	return nil
}

// Import inserts o unless an order with the same ID exists. It reports
// whether a row was written.
func (r *OrderRepository) Import(ctx context.Context, o *order.Order) (bool, error) {
	args, err := createArgs(o)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, importOrderSQL, args...)
	if err != nil {
		return false, classify(err, "import order")
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns the order with the given ID.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, classify(err, "get order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, classify(err, "get order")
	}
	return &o, nil
}

// Update writes the mutable fields of o if the stored status still reads as
// expected. A row in the legacy vocabulary is rewritten with the canonical
// status. When nothing matched it tells a deleted row from a lost race.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order, expected order.Status) error {
	tag, err := r.pool.Exec(ctx, updateOrderSQL,
		o.ID, order.Aliases(expected), string(o.Status), o.PaymentEvidence,
		dateParam(o.EstimatedDeliveryDate), o.UpdatedAt,
	)
	if err != nil {
		return classify(err, "update order")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, o.ID).Scan(&exists); err != nil {
		return classify(err, "check order")
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrConflict
}

// Delete removes an order.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return classify(err, "delete order")
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// List returns matching orders, newest first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	var statuses []string
	if f.Status != "" {
		statuses = order.Aliases(f.Status)
	}
	rows, err := r.pool.Query(ctx, listOrdersSQL, f.CustomerRef, statuses, f.Limit)
	if err != nil {
		return nil, classify(err, "list orders")
	}
	out, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, classify(err, "list orders")
	}
	return out, nil
}

// DeleteExpired removes up to e.Limit matching orders, oldest first, in one
// statement. Rows locked by concurrent transitions are skipped.
func (r *OrderRepository) DeleteExpired(ctx context.Context, e order.Expiry) (int, error) {
	var limit *int
	if e.Limit > 0 {
		limit = &e.Limit
	}
	tag, err := r.pool.Exec(ctx, deleteExpiredSQL, order.Aliases(e.Statuses...), e.Before, limit)
	if err != nil {
		return 0, classify(err, "delete expired orders")
	}
	return int(tag.RowsAffected()), nil
}

func createArgs(o *order.Order) ([]any, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, errors.Wrap(err, "marshal order items")
	}
	var giftThreshold, giftQty pgtype.Int4
	if t := o.Price.GiftTier; t != nil {
		giftThreshold = pgtype.Int4{Int32: int32(t.ThresholdUnits), Valid: true}
		giftQty = pgtype.Int4{Int32: int32(t.GiftQuantity), Valid: true}
	}
	return []any{
		o.ID, o.CustomerRef, string(o.DeliveryMethod), items,
		o.Price.Subtotal, o.Price.ShippingFee, o.Price.Total,
		o.Price.TotalUnits, o.Price.FreeShipping, giftThreshold, giftQty,
		string(o.Status), o.PaymentEvidence, dateParam(o.EstimatedDeliveryDate),
		o.CreatedAt, o.UpdatedAt,
	}, nil
}

func dateParam(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		method        string
		items         []byte
		status        string
		giftThreshold pgtype.Int4
		giftQty       pgtype.Int4
		delivery      pgtype.Date
	)
	err := row.Scan(
		&o.ID, &o.CustomerRef, &method, &items,
		&o.Price.Subtotal, &o.Price.ShippingFee, &o.Price.Total,
		&o.Price.TotalUnits, &o.Price.FreeShipping, &giftThreshold, &giftQty,
		&status, &o.PaymentEvidence, &delivery, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	o.DeliveryMethod = pricing.DeliveryMethod(method)
	if o.Status, err = order.ParseStatus(status); err != nil {
		return o, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, errors.Wrapf(err, "decode items of order %q", o.ID)
	}
	if giftThreshold.Valid && giftQty.Valid {
		o.Price.GiftTier = &promotion.GiftTier{
			ThresholdUnits: int(giftThreshold.Int32),
			GiftQuantity:   int(giftQty.Int32),
		}
	}
	if delivery.Valid {
		d := time.Date(delivery.Time.Year(), delivery.Time.Month(), delivery.Time.Day(), 0, 0, 0, 0, time.UTC)
		o.EstimatedDeliveryDate = &d
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}
