// Package handler exposes the order, promotion and retention operations over
// HTTP. Bodies are JSON encoded with jx; money travels as decimal strings.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/preorder/internal/domain/auth"
	"github.com/xenking/preorder/internal/domain/order"
	"github.com/xenking/preorder/internal/domain/pricing"
	"github.com/xenking/preorder/internal/domain/promotion"
	"github.com/xenking/preorder/internal/domain/retention"
)

// OrderService is the subset of *order.Service served over HTTP.
type OrderService interface {
	ComputePrice(ctx context.Context, items []pricing.Line, method pricing.DeliveryMethod) (pricing.Breakdown, error)
	CreateOrder(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	ListAll(ctx context.Context, f order.Filter) ([]order.Order, error)
	ReportPayment(ctx context.Context, id, evidence string) (*order.Order, error)
	Confirm(ctx context.Context, id string, deliveryDate time.Time) (*order.Order, error)
	Reschedule(ctx context.Context, id string, deliveryDate time.Time) (*order.Order, error)
	Cancel(ctx context.Context, id string) (*order.Order, error)
	Delete(ctx context.Context, id string) error
}

// PromotionService reads and replaces the promotion configuration.
type PromotionService interface {
	Get(ctx context.Context) (*promotion.Config, error)
	Put(ctx context.Context, cfg *promotion.Config) (*promotion.Config, error)
}

// Sweeper runs on-demand retention sweeps. *retention.Policy implements it.
type Sweeper interface {
	Config() retention.Config
	SweepWith(ctx context.Context, now time.Time, cfg retention.Config) (retention.Result, error)
}

// Deps bundles the services behind the API.
type Deps struct {
	Orders     OrderService
	Promotions PromotionService
	// Sweeper may be nil when retention is disabled; the sweep endpoint then
	// answers 404.
	Sweeper Sweeper
	APIKeys auth.Repository
	Pepper  []byte
	Clock   func() time.Time
}

// Handler serves the /api routes.
type Handler struct {
	orders     OrderService
	promotions PromotionService
	sweeper    Sweeper
	security   *SecurityHandler
	now        func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(deps Deps) *Handler {
	now := deps.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		orders:     deps.Orders,
		promotions: deps.Promotions,
		sweeper:    deps.Sweeper,
		security:   NewSecurityHandler(deps.APIKeys, deps.Pepper),
		now:        now,
	}
}

// Routes returns the API router, mounted under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.security.Middleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errMethodNotAllowed)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/promotion", h.GetPromotion)
		r.Put("/promotion", h.PutPromotion)
		r.Post("/price", h.ComputePrice)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListOrders)
			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Delete("/", h.DeleteOrder)
				r.Post("/payment", h.ReportPayment)
				r.Post("/confirm", h.ConfirmOrder)
				r.Post("/reschedule", h.RescheduleOrder)
				r.Post("/cancel", h.CancelOrder)
			})
		})

		r.Post("/retention/sweep", h.RunRetentionSweep)
	})
	return r
}
