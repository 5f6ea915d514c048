package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/preorder/internal/domain/auth"
	"github.com/xenking/preorder/internal/domain/order"
	"github.com/xenking/preorder/internal/domain/pricing"
)

// ComputePrice handles POST /api/price.
func (h *Handler) ComputePrice(w http.ResponseWriter, r *http.Request) {
	var (
		method pricing.DeliveryMethod
		lines  []pricing.Line
	)
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "deliveryMethod":
			var s string
			s, err = d.Str()
			method = pricing.DeliveryMethod(s)
		case "items":
			lines, err = decodeLines(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	}); err != nil {
		writeError(w, r, err)
		return
	}

	b, err := h.orders.ComputePrice(r.Context(), lines, method)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePrice(e, b) })
}

// CreateOrder handles POST /api/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateRequest
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customerRef":
			req.CustomerRef, err = d.Str()
		case "deliveryMethod":
			var s string
			s, err = d.Str()
			req.DeliveryMethod = pricing.DeliveryMethod(s)
		case "items":
			req.Items, err = decodeLines(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+o.ID)
	h.writeOrder(w, r, http.StatusCreated, o)
}

// ListOrders handles GET /api/orders. Customers must name their customerRef;
// operators may list everything and filter by status.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := order.Filter{
		CustomerRef: strings.TrimSpace(q.Get("customerRef")),
		Status:      order.Status(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, &order.ValidationError{Field: "limit", Reason: "must be an integer"})
			return
		}
		f.Limit = limit
	}
	operator := auth.IsOperator(r.Context())
	if !operator && f.CustomerRef == "" {
		writeError(w, r, &order.ValidationError{Field: "customerRef", Reason: "required"})
		return
	}

	orders, err := h.orders.ListAll(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orders")
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i], operator)
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// GetOrder handles GET /api/orders/{orderID}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeOrder(w, r, http.StatusOK, o)
}

// ReportPayment handles POST /api/orders/{orderID}/payment.
func (h *Handler) ReportPayment(w http.ResponseWriter, r *http.Request) {
	var evidence string
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "evidence" {
			return d.Skip()
		}
		var err error
		evidence, err = d.Str()
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.ReportPayment(r.Context(), chi.URLParam(r, "orderID"), evidence)
	h.respondTransition(w, r, o, err)
}

// ConfirmOrder handles POST /api/orders/{orderID}/confirm.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	date, err := decodeDeliveryDate(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Confirm(r.Context(), chi.URLParam(r, "orderID"), date)
	h.respondTransition(w, r, o, err)
}

// RescheduleOrder handles POST /api/orders/{orderID}/reschedule.
func (h *Handler) RescheduleOrder(w http.ResponseWriter, r *http.Request) {
	date, err := decodeDeliveryDate(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Reschedule(r.Context(), chi.URLParam(r, "orderID"), date)
	h.respondTransition(w, r, o, err)
}

// CancelOrder handles POST /api/orders/{orderID}/cancel.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "orderID"))
	h.respondTransition(w, r, o, err)
}

// DeleteOrder handles DELETE /api/orders/{orderID}.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Delete(r.Context(), chi.URLParam(r, "orderID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondTransition(w http.ResponseWriter, r *http.Request, o *order.Order, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeOrder(w, r, http.StatusOK, o)
}

func (h *Handler) writeOrder(w http.ResponseWriter, r *http.Request, status int, o *order.Order) {
	operator := auth.IsOperator(r.Context())
	writeJSON(w, status, func(e *jx.Encoder) { encodeOrder(e, o, operator) })
}

func decodeDeliveryDate(w http.ResponseWriter, r *http.Request) (date time.Time, err error) {
	err = decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "deliveryDate" {
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return errors.Wrap(err, key)
		}
		date, err = parseDate(s)
		if err != nil {
			return &order.ValidationError{Field: "deliveryDate", Reason: err.Error()}
		}
		return nil
	})
	return date, err
}
