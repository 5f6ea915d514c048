package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/preorder/internal/domain/order"
	"github.com/xenking/preorder/internal/domain/pricing"
	"github.com/xenking/preorder/internal/domain/promotion"
)

const maxBodyBytes = 1 << 20

// decodeBody reads the request body and hands it to fn. An empty body is
// decoded as an empty object.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest(errors.Wrap(err, "read body"))
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := jx.DecodeBytes(raw).Obj(fn); err != nil {
		var vErr *order.ValidationError
		if errors.As(err, &vErr) {
			return vErr
		}
		return badRequest(errors.Wrap(err, "decode body"))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// decodeDecimal accepts both "12.50" and 12.50.
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

func decodeLines(d *jx.Decoder) ([]pricing.Line, error) {
	lines := make([]pricing.Line, 0)
	err := d.Arr(func(d *jx.Decoder) error {
		var l pricing.Line
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "itemId":
				l.ItemID, err = d.Str()
			case "quantity":
				l.Quantity, err = d.Int()
			case "unitPrice":
				l.UnitPrice, err = decodeDecimal(d)
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
		lines = append(lines, l)
		return nil
	})
	return lines, err
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

func encodeBreakdown(e *jx.Encoder, subtotal, fee, total decimal.Decimal, units int, free bool, gift *promotion.GiftTier) {
	e.ObjStart()
	e.FieldStart("subtotal")
	e.Str(subtotal.String())
	e.FieldStart("shippingFee")
	e.Str(fee.String())
	e.FieldStart("total")
	e.Str(total.String())
	e.FieldStart("totalUnits")
	e.Int(units)
	e.FieldStart("freeShipping")
	e.Bool(free)
	e.FieldStart("gift")
	if gift == nil {
		e.Null()
	} else {
		encodeGiftTier(e, *gift)
	}
	e.ObjEnd()
}

func encodeGiftTier(e *jx.Encoder, t promotion.GiftTier) {
	e.ObjStart()
	e.FieldStart("thresholdUnits")
	e.Int(t.ThresholdUnits)
	e.FieldStart("giftQuantity")
	e.Int(t.GiftQuantity)
	e.ObjEnd()
}

func encodePrice(e *jx.Encoder, b pricing.Breakdown) {
	encodeBreakdown(e, b.Subtotal, b.ShippingFee, b.Total, b.TotalUnits, b.FreeShipping, b.GiftTier)
}

// encodeOrder renders o together with the actions the caller may take next.
func encodeOrder(e *jx.Encoder, o *order.Order, operator bool) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("customerRef")
	e.Str(o.CustomerRef)
	e.FieldStart("deliveryMethod")
	e.Str(string(o.DeliveryMethod))
	e.FieldStart("status")
	e.Str(string(o.Status))

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("itemId")
		e.Str(it.ItemID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unitPrice")
		e.Str(it.UnitPrice.String())
		e.ObjEnd()
	}
	e.ArrEnd()

	p := o.Price
	e.FieldStart("price")
	encodeBreakdown(e, p.Subtotal, p.ShippingFee, p.Total, p.TotalUnits, p.FreeShipping, p.GiftTier)

	e.FieldStart("paymentEvidence")
	if o.PaymentEvidence == "" {
		e.Null()
	} else {
		e.Str(o.PaymentEvidence)
	}
	e.FieldStart("estimatedDeliveryDate")
	if o.EstimatedDeliveryDate == nil {
		e.Null()
	} else {
		e.Str(o.EstimatedDeliveryDate.Format(time.DateOnly))
	}
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("updatedAt")
	e.Str(o.UpdatedAt.UTC().Format(time.RFC3339))

	e.FieldStart("allowedActions")
	e.ArrStart()
	for _, ev := range order.Allowed(o.Status, operator) {
		e.Str(string(ev))
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodePromotion(e *jx.Encoder, cfg *promotion.Config) {
	e.ObjStart()
	e.FieldStart("freeShipping")
	e.ObjStart()
	e.FieldStart("enabled")
	e.Bool(cfg.FreeShipping.Enabled)
	e.FieldStart("thresholdUnits")
	e.Int(cfg.FreeShipping.ThresholdUnits)
	e.ObjEnd()
	e.FieldStart("giftTiers")
	e.ArrStart()
	for _, t := range cfg.GiftTiers {
		encodeGiftTier(e, t)
	}
	e.ArrEnd()
	e.FieldStart("baseShippingFee")
	e.Str(cfg.BaseShippingFee.String())
	e.FieldStart("promotionText")
	e.Str(cfg.PromotionText)
	e.ObjEnd()
}

func decodePromotion(cfg *promotion.Config) func(d *jx.Decoder, key string) error {
	return func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "freeShipping":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "enabled":
					cfg.FreeShipping.Enabled, err = d.Bool()
				case "thresholdUnits":
					cfg.FreeShipping.ThresholdUnits, err = d.Int()
				default:
					err = d.Skip()
				}
				if err != nil {
					return errors.Wrap(err, key)
				}
				return nil
			})
		case "giftTiers":
			cfg.GiftTiers = make([]promotion.GiftTier, 0)
			err = d.Arr(func(d *jx.Decoder) error {
				var t promotion.GiftTier
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "thresholdUnits":
						t.ThresholdUnits, err = d.Int()
					case "giftQuantity":
						t.GiftQuantity, err = d.Int()
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
				cfg.GiftTiers = append(cfg.GiftTiers, t)
				return nil
			})
		case "baseShippingFee":
			cfg.BaseShippingFee, err = decodeDecimal(d)
		case "promotionText":
			cfg.PromotionText, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	}
}
