// Package pricing computes the price breakdown of a cart under a promotion
// configuration. Everything here is pure: no storage, no clock, no logging.
package pricing

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/xenking/preorder/internal/domain/promotion"
)

// DeliveryMethod names how an order reaches the customer.
type DeliveryMethod string

const (
	// DeliveryPickup is collection in person; it never carries a shipping fee.
	DeliveryPickup DeliveryMethod = "pickup"
	// DeliveryFamilyMart ships to a FamilyMart convenience store.
	DeliveryFamilyMart DeliveryMethod = "family_mart"
	// DeliverySevenEleven ships to a 7-Eleven convenience store.
	DeliverySevenEleven DeliveryMethod = "seven_eleven"
)

// Valid reports whether m is a recognised delivery method.
func (m DeliveryMethod) Valid() bool {
	switch m {
	case DeliveryPickup, DeliveryFamilyMart, DeliverySevenEleven:
		return true
	default:
		return false
	}
}

// Line is a single cart entry.
type Line struct {
	ItemID    string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Breakdown is the computed price of a cart. Total always equals
// Subtotal + ShippingFee.
type Breakdown struct {
	Subtotal     decimal.Decimal
	ShippingFee  decimal.Decimal
	Total        decimal.Decimal
	TotalUnits   int
	FreeShipping bool
	// GiftTier is the highest satisfied tier, nil when none qualifies.
	GiftTier *promotion.GiftTier
}

// ValidationError reports malformed pricing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Compute prices lines for the given delivery method under cfg.
//
// Free shipping and gift tiers are evaluated independently against the same
// unit count: an order may get either, both, or neither.
func Compute(lines []Line, method DeliveryMethod, cfg *promotion.Config) (Breakdown, error) {
	if !method.Valid() {
		return Breakdown{}, &ValidationError{Field: "deliveryMethod", Reason: fmt.Sprintf("unknown method %q", method)}
	}
	if cfg == nil {
		return Breakdown{}, &ValidationError{Field: "promotion", Reason: "config is required"}
	}
	if err := cfg.Validate(); err != nil {
		return Breakdown{}, &ValidationError{Field: "promotion", Reason: err.Error()}
	}

	subtotal := decimal.Zero
	units := 0
	for i, l := range lines {
		if l.ItemID == "" {
			return Breakdown{}, &ValidationError{Field: fmt.Sprintf("items[%d].itemId", i), Reason: "required"}
		}
		if l.Quantity <= 0 {
			return Breakdown{}, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be greater than 0"}
		}
		if l.Quantity > promotion.MaxUnits-units {
			return Breakdown{}, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: fmt.Sprintf("order exceeds %d units", promotion.MaxUnits)}
		}
		if l.UnitPrice.IsNegative() {
			return Breakdown{}, &ValidationError{Field: fmt.Sprintf("items[%d].unitPrice", i), Reason: "must not be negative"}
		}
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		units += l.Quantity
	}

	b := Breakdown{
		Subtotal:    subtotal,
		ShippingFee: decimal.Zero,
		TotalUnits:  units,
		GiftTier:    SelectGiftTier(cfg.GiftTiers, units),
	}

	switch {
	case method == DeliveryPickup:
	case cfg.FreeShipping.Enabled && units >= cfg.FreeShipping.ThresholdUnits:
		b.FreeShipping = true
	default:
		b.ShippingFee = cfg.BaseShippingFee
	}
	b.Total = b.Subtotal.Add(b.ShippingFee)

	return b, nil
}

// SelectGiftTier returns a copy of the highest tier whose threshold is at most
// units, or nil. Tiers are not cumulative.
func SelectGiftTier(tiers []promotion.GiftTier, units int) *promotion.GiftTier {
	sorted := slices.Clone(tiers)
	slices.SortFunc(sorted, func(a, b promotion.GiftTier) int {
		return b.ThresholdUnits - a.ThresholdUnits
	})
	for _, t := range sorted {
		if t.ThresholdUnits <= units {
			return &t
		}
	}
	return nil
}
