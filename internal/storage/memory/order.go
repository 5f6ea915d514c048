// Package memory provides in-process implementations of the storage
// interfaces. They honour the same guard semantics as the PostgreSQL
// adapters and back the "memory" storage driver and the service tests.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/xenking/preorder/internal/domain/order"
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore is a mutex-guarded map of orders.
type OrderStore struct {
	mu     sync.Mutex
	orders map[string]*order.Order
}

// NewOrderStore returns an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]*order.Order)}
}

// Create stores a copy of o. Duplicate IDs yield order.ErrConflict.
func (s *OrderStore) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return order.ErrConflict
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

// Get returns a copy of the stored order.
func (s *OrderStore) Get(_ context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

// Update replaces the mutable fields of the stored order if its status is
// still expected.
func (s *OrderStore) Update(_ context.Context, o *order.Order, expected order.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[o.ID]
	if !ok {
		return order.ErrNotFound
	}
	if cur.Status != expected {
		return order.ErrConflict
	}

	next := cur.Clone()
	next.Status = o.Status
	next.PaymentEvidence = o.PaymentEvidence
	next.EstimatedDeliveryDate = o.Clone().EstimatedDeliveryDate
	next.UpdatedAt = o.UpdatedAt
	s.orders[o.ID] = next
	return nil
}

// Delete removes an order.
func (s *OrderStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		return order.ErrNotFound
	}
	delete(s.orders, id)
	return nil
}

// List returns matching orders, newest first.
func (s *OrderStore) List(_ context.Context, f order.Filter) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]order.Order, 0)
	for _, o := range s.orders {
		if f.CustomerRef != "" && o.CustomerRef != f.CustomerRef {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, *o.Clone())
	}
	slices.SortFunc(out, func(a, b order.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// DeleteExpired removes up to e.Limit matching orders, oldest first, under a
// single lock acquisition.
func (s *OrderStore) DeleteExpired(ctx context.Context, e order.Expiry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var victims []*order.Order
	for _, o := range s.orders {
		if slices.Contains(e.Statuses, o.Status) && o.CreatedAt.Before(e.Before) {
			victims = append(victims, o)
		}
	}
	slices.SortFunc(victims, func(a, b *order.Order) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if e.Limit > 0 && len(victims) > e.Limit {
		victims = victims[:e.Limit]
	}
	for _, o := range victims {
		delete(s.orders, o.ID)
	}
	return len(victims), nil
}

// Len reports the number of stored orders.
func (s *OrderStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}
