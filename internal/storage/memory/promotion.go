package memory

import (
	"context"
	"sync"

	"github.com/xenking/preorder/internal/domain/promotion"
)

var _ promotion.Repository = (*PromotionStore)(nil)

// PromotionStore holds the single active promotion config.
type PromotionStore struct {
	mu  sync.RWMutex
	cfg *promotion.Config
}

// NewPromotionStore returns a store seeded with cfg. A nil cfg means the zero
// configuration: no promotions and no shipping fee.
func NewPromotionStore(cfg *promotion.Config) *PromotionStore {
	if cfg == nil {
		cfg = &promotion.Config{}
	}
	return &PromotionStore{cfg: cfg.Clone()}
}

// Get returns a copy of the active config.
func (s *PromotionStore) Get(context.Context) (*promotion.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone(), nil
}

// Put replaces the active config.
func (s *PromotionStore) Put(_ context.Context, cfg *promotion.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.Clone()
	return nil
}
