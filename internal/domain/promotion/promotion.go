// Package promotion holds the operator-owned promotion configuration: the
// free-shipping threshold, the gift tiers and the base shipping fee.
package promotion

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/shopspring/decimal"
)

// MaxUnits bounds every unit count: item quantities, order totals, tier
// thresholds and gift quantities. They are stored in INTEGER columns.
const MaxUnits = math.MaxInt32

// FreeShipping waives the shipping fee once an order reaches ThresholdUnits
// items. The threshold counts units, not money.
type FreeShipping struct {
	Enabled        bool
	ThresholdUnits int
}

// GiftTier awards GiftQuantity free units to orders of at least
// ThresholdUnits items.
type GiftTier struct {
	ThresholdUnits int
	GiftQuantity   int
}

// Config is the single active promotion configuration.
type Config struct {
	FreeShipping    FreeShipping
	GiftTiers       []GiftTier
	BaseShippingFee decimal.Decimal
	// PromotionText is shown to customers and never used for pricing.
	PromotionText string
}

// Repository stores the active configuration.
type Repository interface {
	Get(ctx context.Context) (*Config, error)
	Put(ctx context.Context, cfg *Config) error
}

// ConfigError describes why a configuration was rejected.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid promotion config: %s: %s", e.Field, e.Reason)
}

// Validate checks the configuration invariants: non-negative fee and
// threshold, positive gift quantities, and unique strictly increasing tier
// thresholds.
func (c *Config) Validate() error {
	if c.BaseShippingFee.IsNegative() {
		return &ConfigError{Field: "baseShippingFee", Reason: "must not be negative"}
	}
	if c.FreeShipping.ThresholdUnits < 0 {
		return &ConfigError{Field: "freeShipping.thresholdUnits", Reason: "must not be negative"}
	}
	if c.FreeShipping.ThresholdUnits > MaxUnits {
		return &ConfigError{Field: "freeShipping.thresholdUnits", Reason: fmt.Sprintf("must not exceed %d", MaxUnits)}
	}
	prev := 0
	for i, t := range c.GiftTiers {
		if t.ThresholdUnits <= 0 {
			return &ConfigError{Field: fmt.Sprintf("giftTiers[%d].thresholdUnits", i), Reason: "must be positive"}
		}
		if t.ThresholdUnits > MaxUnits {
			return &ConfigError{Field: fmt.Sprintf("giftTiers[%d].thresholdUnits", i), Reason: fmt.Sprintf("must not exceed %d", MaxUnits)}
		}
		if t.GiftQuantity <= 0 {
			return &ConfigError{Field: fmt.Sprintf("giftTiers[%d].giftQuantity", i), Reason: "must be positive"}
		}
		if t.GiftQuantity > MaxUnits {
			return &ConfigError{Field: fmt.Sprintf("giftTiers[%d].giftQuantity", i), Reason: fmt.Sprintf("must not exceed %d", MaxUnits)}
		}
		if i > 0 && t.ThresholdUnits <= prev {
			return &ConfigError{Field: fmt.Sprintf("giftTiers[%d].thresholdUnits", i), Reason: "thresholds must be unique and increasing"}
		}
		prev = t.ThresholdUnits
	}
	return nil
}

// Normalize sorts the tiers ascending by threshold. Operators may submit tiers
// in any order; Validate afterwards still rejects duplicates.
func (c *Config) Normalize() {
	slices.SortFunc(c.GiftTiers, func(a, b GiftTier) int {
		return a.ThresholdUnits - b.ThresholdUnits
	})
}

// Clone returns a deep copy so callers can hand the config out without
// sharing the tier slice.
func (c *Config) Clone() *Config {
	out := *c
	out.GiftTiers = slices.Clone(c.GiftTiers)
	return &out
}

// Default returns the launch configuration: a 120 shipping fee waived from 20
// units, and one, two or three gifts from 15, 20 and 30 units.
func Default() *Config {
	return &Config{
		FreeShipping: FreeShipping{Enabled: true, ThresholdUnits: 20},
		GiftTiers: []GiftTier{
			{ThresholdUnits: 15, GiftQuantity: 1},
			{ThresholdUnits: 20, GiftQuantity: 2},
			{ThresholdUnits: 30, GiftQuantity: 3},
		},
		BaseShippingFee: decimal.NewFromInt(120),
	}
}
