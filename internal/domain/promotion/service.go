package promotion

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/preorder/internal/domain/auth"
)

// Service reads and replaces the active configuration.
type Service struct {
	repo Repository
}

// NewService returns a Service over repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the active configuration. It is public: checkout pages display
// the thresholds.
func (s *Service) Get(ctx context.Context) (*Config, error) {
	cfg, err := s.repo.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get promotion")
	}
	cfg.Normalize()
	return cfg, nil
}

// Put validates cfg and makes it the active configuration. Operator only.
// Orders created earlier keep the price they were created with.
func (s *Service) Put(ctx context.Context, cfg *Config) (*Config, error) {
	if !auth.IsOperator(ctx) {
		return nil, auth.ErrOperatorRequired
	}
	next := cfg.Clone()
	next.Normalize()
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Put(ctx, next); err != nil {
		return nil, errors.Wrap(err, "put promotion")
	}

	zctx.From(ctx).Info("Promotion updated",
		zap.String("actor", auth.ActorID(ctx)),
		zap.Bool("free_shipping", next.FreeShipping.Enabled),
		zap.Int("free_shipping_threshold", next.FreeShipping.ThresholdUnits),
		zap.Int("gift_tiers", len(next.GiftTiers)),
		zap.String("base_shipping_fee", next.BaseShippingFee.String()),
	)
	return next, nil
}
