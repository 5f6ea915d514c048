package importer

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/preorder/internal/domain/order"
	"github.com/xenking/preorder/internal/domain/pricing"
	"github.com/xenking/preorder/internal/domain/promotion"
)

// legacyMethods maps delivery method spellings of the exports onto the
// current methods.
var legacyMethods = map[string]pricing.DeliveryMethod{
	"pickup":       pricing.DeliveryPickup,
	"self_pickup":  pricing.DeliveryPickup,
	"family_mart":  pricing.DeliveryFamilyMart,
	"familymart":   pricing.DeliveryFamilyMart,
	"seven_eleven": pricing.DeliverySevenEleven,
	"7_eleven":     pricing.DeliverySevenEleven,
	"711":          pricing.DeliverySevenEleven,
}

// DecodeRecord parses one exported order. Amounts are taken as recorded and
// must reconcile; nothing is repriced.
//
// Both camelCase and snake_case keys are accepted since the exports were
// produced by two generations of the old storefront.
func DecodeRecord(data []byte) (*order.Order, error) {
	var (
		o         order.Order
		rawStatus string
		rawMethod string
		gift      promotion.GiftTier
		hasGift   bool
	)
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id", "order_id", "orderId":
			o.ID, err = d.Str()
		case "customerRef", "customer_ref":
			o.CustomerRef, err = d.Str()
		case "deliveryMethod", "delivery_method":
			rawMethod, err = d.Str()
		case "status":
			rawStatus, err = d.Str()
		case "items":
			o.Items, err = decodeItems(d)
		case "subtotal":
			o.Price.Subtotal, err = decodeDecimal(d)
		case "shippingFee", "shipping_fee":
			o.Price.ShippingFee, err = decodeDecimal(d)
		case "total":
			o.Price.Total, err = decodeDecimal(d)
		case "freeShipping", "free_shipping":
			o.Price.FreeShipping, err = d.Bool()
		case "giftThresholdUnits", "gift_threshold_units":
			gift.ThresholdUnits, err = d.Int()
		case "giftQuantity", "gift_quantity":
			gift.GiftQuantity, err = d.Int()
			hasGift = gift.GiftQuantity > 0
		case "paymentEvidence", "payment_evidence":
			o.PaymentEvidence, err = optionalStr(d)
		case "estimatedDeliveryDate", "estimated_delivery_date":
			var s string
			if s, err = optionalStr(d); err == nil && s != "" {
				var t time.Time
				t, err = parseTime(s)
				if err == nil {
					t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
					o.EstimatedDeliveryDate = &t
				}
			}
		case "createdAt", "created_at":
			o.CreatedAt, err = decodeTime(d)
		case "updatedAt", "updated_at":
			o.UpdatedAt, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	if strings.TrimSpace(o.ID) == "" {
		return nil, errors.New("missing id")
	}
	if strings.TrimSpace(o.CustomerRef) == "" {
		return nil, errors.New("missing customerRef")
	}
	if len(o.Items) == 0 {
		return nil, errors.New("no items")
	}
	if o.CreatedAt.IsZero() {
		return nil, errors.New("missing createdAt")
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}

	status, err := order.ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	o.Status = status

	method, ok := legacyMethods[normalizeKey(rawMethod)]
	if !ok {
		return nil, errors.Errorf("unknown delivery method %q", rawMethod)
	}
	o.DeliveryMethod = method

	for _, it := range o.Items {
		if it.Quantity > promotion.MaxUnits-o.Price.TotalUnits {
			return nil, errors.Errorf("order exceeds %d units", promotion.MaxUnits)
		}
		o.Price.TotalUnits += it.Quantity
	}
	if hasGift {
		if gift.ThresholdUnits <= 0 || gift.ThresholdUnits > promotion.MaxUnits || gift.GiftQuantity > promotion.MaxUnits {
			return nil, errors.Errorf("invalid gift tier %d/%d", gift.ThresholdUnits, gift.GiftQuantity)
		}
		o.Price.GiftTier = &gift
	}
	if !o.Price.Reconciles() {
		return nil, errors.Errorf("amounts do not reconcile: %s + %s != %s",
			o.Price.Subtotal, o.Price.ShippingFee, o.Price.Total)
	}
	return &o, nil
}

func decodeItems(d *jx.Decoder) ([]order.Item, error) {
	var items []order.Item
	err := d.Arr(func(d *jx.Decoder) error {
		var it order.Item
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "itemId", "item_id", "sku":
				it.ItemID, err = d.Str()
			case "quantity", "qty":
				it.Quantity, err = d.Int()
			case "unitPrice", "unit_price", "price":
				it.UnitPrice, err = decodeDecimal(d)
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrap(err, key)
			}
			return nil
		}); err != nil {
			return err
		}
		if it.ItemID == "" || it.Quantity <= 0 || it.Quantity > promotion.MaxUnits || it.UnitPrice.IsNegative() {
			return errors.Errorf("invalid item %q", it.ItemID)
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.New("expected decimal as string or number")
	}
}

func optionalStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	s, err := d.Str()
	return strings.TrimSpace(s), err
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(s)
}

// parseTime accepts RFC 3339, the old "2006-01-02 15:04:05" database dump
// format (UTC) and bare dates.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("invalid time %q", s)
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}
