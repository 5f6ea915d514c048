package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/preorder/internal/domain/auth"
	"github.com/xenking/preorder/internal/domain/order"
	"github.com/xenking/preorder/internal/domain/promotion"
	"github.com/xenking/preorder/internal/domain/retention"
	"github.com/xenking/preorder/internal/storage/memory"
)

const (
	operatorKey = "ops-secret"
	pepper      = "test-pepper"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	srv    *httptest.Server
	orders *memory.OrderStore
}

func newEnv(t *testing.T) *env {
	t.Helper()

	orders := memory.NewOrderStore()
	promos := memory.NewPromotionStore(promotion.Default())
	keys := memory.NewAPIKeyStore(auth.APIKeyInfo{
		ID:      "key-1",
		KeyHash: auth.HashKey([]byte(pepper), operatorKey),
		Name:    "ops",
	})

	var seq atomic.Int64
	svc, err := order.NewService(order.ServiceDeps{
		Orders:      orders,
		Promotions:  promos,
		Clock:       func() time.Time { return testNow },
		IDGenerator: func() string { return "ord-" + strconv.FormatInt(seq.Add(1), 10) },
	})
	require.NoError(t, err)

	policy, err := retention.New(svc, retention.DefaultConfig(), nil)
	require.NoError(t, err)

	h := NewHandler(Deps{
		Orders:     svc,
		Promotions: promotion.NewService(promos),
		Sweeper:    policy,
		APIKeys:    keys,
		Pepper:     []byte(pepper),
		Clock:      func() time.Time { return testNow },
	})
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return &env{srv: srv, orders: orders}
}

type response struct {
	status int
	body   map[string]any
}

func (e *env) do(t *testing.T, method, path, body, key string) response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	out := response{status: resp.StatusCode}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out.body))
	}
	return out
}

func errorCode(r response) string {
	e, _ := r.body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

const cart15 = `{"customerRef":"cust-1","deliveryMethod":"family_mart","items":[
	{"itemId":"mug","quantity":10,"unitPrice":"350"},
	{"itemId":"tote","quantity":5,"unitPrice":12.5}
]}`

func (e *env) createOrder(t *testing.T) string {
	t.Helper()
	r := e.do(t, http.MethodPost, "/api/orders", cart15, "")
	require.Equal(t, http.StatusCreated, r.status, r.body)
	return r.body["id"].(string)
}

func TestComputePrice(t *testing.T) {
	e := newEnv(t)

	r := e.do(t, http.MethodPost, "/api/price", cart15, "")
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.Equal(t, "3562.5", r.body["subtotal"])
	assert.Equal(t, "120", r.body["shippingFee"])
	assert.Equal(t, "3682.5", r.body["total"])
	assert.EqualValues(t, 15, r.body["totalUnits"])
	assert.Equal(t, false, r.body["freeShipping"])
	gift := r.body["gift"].(map[string]any)
	assert.EqualValues(t, 1, gift["giftQuantity"])

	r = e.do(t, http.MethodPost, "/api/price", `{"deliveryMethod":"pickup","items":[{"itemId":"a","quantity":20,"unitPrice":"1"}]}`, "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "0", r.body["shippingFee"])
	assert.EqualValues(t, 2, r.body["gift"].(map[string]any)["giftQuantity"])

	r = e.do(t, http.MethodPost, "/api/price", `{"deliveryMethod":"drone","items":[{"itemId":"a","quantity":1,"unitPrice":"1"}]}`, "")
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "validation_failed", errorCode(r))

	r = e.do(t, http.MethodPost, "/api/price", `{"deliveryMethod":"family_mart","items":[`+
		`{"itemId":"a","quantity":9223372036854775807,"unitPrice":"1"},{"itemId":"b","quantity":1,"unitPrice":"1"}]}`, "")
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "validation_failed", errorCode(r))

	r = e.do(t, http.MethodPost, "/api/price", `{"items":[{"itemId":"a","quantity":"x"}]}`, "")
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "bad_request", errorCode(r))
}

func TestOrderLifecycle(t *testing.T) {
	e := newEnv(t)
	id := e.createOrder(t)

	r := e.do(t, http.MethodGet, "/api/orders/"+id, "", "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "awaiting_payment", r.body["status"])
	assert.Nil(t, r.body["paymentEvidence"])
	assert.Equal(t, []any{"order.payment_reported"}, r.body["allowedActions"])

	r = e.do(t, http.MethodPost, "/api/orders/"+id+"/payment", `{"evidence":"bank ref 991"}`, "")
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.Equal(t, "payment_reported", r.body["status"])
	assert.Equal(t, "bank ref 991", r.body["paymentEvidence"])

	r = e.do(t, http.MethodPost, "/api/orders/"+id+"/payment", `{"evidence":"again"}`, "")
	assert.Equal(t, http.StatusConflict, r.status)
	assert.Equal(t, "invalid_transition", errorCode(r))

	r = e.do(t, http.MethodPost, "/api/orders/"+id+"/confirm", `{"deliveryDate":"2026-04-01"}`, "")
	assert.Equal(t, http.StatusForbidden, r.status)
	assert.Equal(t, "operator_required", errorCode(r))

	r = e.do(t, http.MethodPost, "/api/orders/"+id+"/confirm", `{"deliveryDate":"2026-04-01"}`, operatorKey)
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.Equal(t, "confirmed", r.body["status"])
	assert.Equal(t, "2026-04-01", r.body["estimatedDeliveryDate"])
	assert.Equal(t, []any{"order.rescheduled"}, r.body["allowedActions"])

	r = e.do(t, http.MethodPost, "/api/orders/"+id+"/reschedule", `{"deliveryDate":"2026-04-15T10:00:00Z"}`, operatorKey)
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.Equal(t, "2026-04-15", r.body["estimatedDeliveryDate"])

	r = e.do(t, http.MethodPost, "/api/orders/"+id+"/cancel", "", operatorKey)
	assert.Equal(t, http.StatusConflict, r.status)

	r = e.do(t, http.MethodDelete, "/api/orders/"+id, "", operatorKey)
	assert.Equal(t, http.StatusNoContent, r.status)

	r = e.do(t, http.MethodGet, "/api/orders/"+id, "", "")
	assert.Equal(t, http.StatusNotFound, r.status)
}

func TestConfirm_Validation(t *testing.T) {
	e := newEnv(t)
	id := e.createOrder(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/orders/"+id+"/payment", `{"evidence":"x"}`, "").status)

	r := e.do(t, http.MethodPost, "/api/orders/"+id+"/confirm", `{}`, operatorKey)
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "validation_failed", errorCode(r))

	r = e.do(t, http.MethodPost, "/api/orders/"+id+"/confirm", `{"deliveryDate":"next tuesday"}`, operatorKey)
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "validation_failed", errorCode(r))

	r = e.do(t, http.MethodPost, "/api/orders/"+id+"/payment", `{"evidence":"   "}`, "")
	assert.Equal(t, http.StatusConflict, r.status, "already reported")
}

func TestCreateOrder_Validation(t *testing.T) {
	e := newEnv(t)

	for name, body := range map[string]string{
		"no customer": `{"deliveryMethod":"pickup","items":[{"itemId":"a","quantity":1,"unitPrice":"1"}]}`,
		"empty cart":  `{"customerRef":"c","deliveryMethod":"pickup","items":[]}`,
		"zero qty":    `{"customerRef":"c","deliveryMethod":"pickup","items":[{"itemId":"a","quantity":0,"unitPrice":"1"}]}`,
		"neg price":   `{"customerRef":"c","deliveryMethod":"pickup","items":[{"itemId":"a","quantity":1,"unitPrice":"-1"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			r := e.do(t, http.MethodPost, "/api/orders", body, "")
			assert.Equal(t, http.StatusBadRequest, r.status)
			assert.Equal(t, "validation_failed", errorCode(r))
		})
	}
	assert.Equal(t, 0, e.orders.Len())
}

func TestListOrders(t *testing.T) {
	e := newEnv(t)
	e.createOrder(t)
	e.createOrder(t)

	r := e.do(t, http.MethodGet, "/api/orders", "", "")
	assert.Equal(t, http.StatusBadRequest, r.status)

	r = e.do(t, http.MethodGet, "/api/orders?customerRef=cust-1", "", "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Len(t, r.body["orders"], 2)

	r = e.do(t, http.MethodGet, "/api/orders?customerRef=someone-else", "", "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Empty(t, r.body["orders"])

	r = e.do(t, http.MethodGet, "/api/orders?limit=1", "", operatorKey)
	require.Equal(t, http.StatusOK, r.status)
	orders := r.body["orders"].([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, []any{"order.payment_reported", "order.cancelled"}, orders[0].(map[string]any)["allowedActions"])

	r = e.do(t, http.MethodGet, "/api/orders?status=shipped", "", operatorKey)
	assert.Equal(t, http.StatusBadRequest, r.status)

	r = e.do(t, http.MethodGet, "/api/orders?limit=abc", "", operatorKey)
	assert.Equal(t, http.StatusBadRequest, r.status)
}

func TestAuth(t *testing.T) {
	e := newEnv(t)
	id := e.createOrder(t)

	r := e.do(t, http.MethodPost, "/api/orders/"+id+"/cancel", "", "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, r.status)
	assert.Equal(t, "unauthorized", errorCode(r))

	r = e.do(t, http.MethodDelete, "/api/orders/"+id, "", "")
	assert.Equal(t, http.StatusForbidden, r.status)

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/orders/"+id+"/cancel", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+operatorKey)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPromotion(t *testing.T) {
	e := newEnv(t)

	r := e.do(t, http.MethodGet, "/api/promotion", "", "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "120", r.body["baseShippingFee"])
	assert.Len(t, r.body["giftTiers"], 3)

	body := `{"freeShipping":{"enabled":false,"thresholdUnits":0},"baseShippingFee":"80",
		"giftTiers":[{"thresholdUnits":10,"giftQuantity":2},{"thresholdUnits":5,"giftQuantity":1}],
		"promotionText":"Launch week"}`

	r = e.do(t, http.MethodPut, "/api/promotion", body, "")
	assert.Equal(t, http.StatusForbidden, r.status)

	r = e.do(t, http.MethodPut, "/api/promotion", body, operatorKey)
	require.Equal(t, http.StatusOK, r.status, r.body)
	tiers := r.body["giftTiers"].([]any)
	assert.EqualValues(t, 5, tiers[0].(map[string]any)["thresholdUnits"])

	r = e.do(t, http.MethodPost, "/api/price", `{"deliveryMethod":"seven_eleven","items":[{"itemId":"a","quantity":30,"unitPrice":"1"}]}`, "")
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, "80", r.body["shippingFee"])
	assert.Equal(t, false, r.body["freeShipping"])

	r = e.do(t, http.MethodPut, "/api/promotion", `{"baseShippingFee":"-1"}`, operatorKey)
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "validation_failed", errorCode(r))
}

func TestRetentionSweep(t *testing.T) {
	e := newEnv(t)

	ctx := context.Background()
	old := &order.Order{ID: "old", CustomerRef: "c", Status: order.StatusAwaitingPayment, CreatedAt: testNow.Add(-4 * 24 * time.Hour)}
	fresh := &order.Order{ID: "fresh", CustomerRef: "c", Status: order.StatusAwaitingPayment, CreatedAt: testNow.Add(-time.Hour)}
	require.NoError(t, e.orders.Create(ctx, old))
	require.NoError(t, e.orders.Create(ctx, fresh))

	r := e.do(t, http.MethodPost, "/api/retention/sweep", "", "")
	assert.Equal(t, http.StatusForbidden, r.status)

	r = e.do(t, http.MethodPost, "/api/retention/sweep", "", operatorKey)
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.EqualValues(t, 1, r.body["deletedAwaitingPayment"])
	assert.EqualValues(t, 1, r.body["total"])
	assert.Equal(t, false, r.body["interrupted"])

	r = e.do(t, http.MethodPost, "/api/retention/sweep", `{"awaitingPaymentGrace":"30m"}`, operatorKey)
	require.Equal(t, http.StatusOK, r.status, r.body)
	assert.EqualValues(t, 1, r.body["deletedAwaitingPayment"])
	assert.Equal(t, 0, e.orders.Len())

	r = e.do(t, http.MethodPost, "/api/retention/sweep", `{"awaitingPaymentGrace":"-1h"}`, operatorKey)
	assert.Equal(t, http.StatusBadRequest, r.status)
}

func TestRetentionSweep_Disabled(t *testing.T) {
	h := NewHandler(Deps{APIKeys: memory.NewAPIKeyStore(auth.APIKeyInfo{
		ID: "k", KeyHash: auth.HashKey([]byte(pepper), operatorKey), Name: "ops",
	}), Pepper: []byte(pepper)})

	req := httptest.NewRequest(http.MethodPost, "/api/retention/sweep", nil)
	req.Header.Set(APIKeyHeader, operatorKey)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouting(t *testing.T) {
	e := newEnv(t)

	r := e.do(t, http.MethodGet, "/api/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, r.status)
	assert.Equal(t, "not_found", errorCode(r))

	r = e.do(t, http.MethodPatch, "/api/promotion", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, r.status)
}

func TestWriteError_Mapping(t *testing.T) {
	for _, tt := range []struct {
		err       error
		status    int
		code      string
		retryable bool
	}{
		{&order.ValidationError{Field: "items", Reason: "empty"}, http.StatusBadRequest, "validation_failed", false},
		{&promotion.ConfigError{Field: "fee", Reason: "negative"}, http.StatusBadRequest, "validation_failed", false},
		{auth.ErrOperatorRequired, http.StatusForbidden, "operator_required", false},
		{order.ErrNotFound, http.StatusNotFound, "not_found", false},
		{&order.InvalidTransitionError{Status: order.StatusConfirmed, Event: order.EventCancelled}, http.StatusConflict, "invalid_transition", false},
		{order.ErrConflict, http.StatusConflict, "conflict", true},
		{&order.StorageError{Op: "get", Err: order.ErrUnavailable}, http.StatusServiceUnavailable, "unavailable", true},
		{&order.StorageError{Op: "get", Err: errors.New("syntax")}, http.StatusInternalServerError, "internal", false},
	} {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.status, w.Code)

			var body struct {
				Error struct {
					Code      string `json:"code"`
					Retryable bool   `json:"retryable"`
				} `json:"error"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.retryable, body.Error.Retryable)
		})
	}
}
