package mirror

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/preorder/internal/domain/order"
)

// EncodeEvent renders ev as the JSON document delivered to downstream
// systems. Money is encoded as decimal strings.
func EncodeEvent(ev order.Event) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("id")
	e.Str(ev.ID)
	e.FieldStart("type")
	e.Str(string(ev.Type))
	e.FieldStart("orderId")
	e.Str(ev.OrderID)
	if ev.PreviousStatus != "" {
		e.FieldStart("previousStatus")
		e.Str(string(ev.PreviousStatus))
	}
	if ev.Status != "" {
		e.FieldStart("status")
		e.Str(string(ev.Status))
	}
	e.FieldStart("actor")
	e.Str(ev.Actor)
	e.FieldStart("occurredAt")
	e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano))
	if ev.Order != nil {
		e.FieldStart("order")
		encodeOrder(e, ev.Order)
	}
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("customerRef")
	e.Str(o.CustomerRef)
	e.FieldStart("deliveryMethod")
	e.Str(string(o.DeliveryMethod))
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
	e.FieldStart("subtotal")
	e.Str(o.Price.Subtotal.String())
	e.FieldStart("shippingFee")
	e.Str(o.Price.ShippingFee.String())
	e.FieldStart("total")
	e.Str(o.Price.Total.String())
	if t := o.Price.GiftTier; t != nil {
		e.FieldStart("giftQuantity")
		e.Int(t.GiftQuantity)
	}
	if o.PaymentEvidence != "" {
		e.FieldStart("paymentEvidence")
		e.Str(o.PaymentEvidence)
	}
	if d := o.EstimatedDeliveryDate; d != nil {
		e.FieldStart("estimatedDeliveryDate")
		e.Str(d.Format(time.DateOnly))
	}
	e.ObjEnd()
}
