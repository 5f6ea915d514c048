package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/preorder/internal/domain/auth"
	"github.com/xenking/preorder/internal/domain/promotion"
)

// GetPromotion handles GET /api/promotion.
func (h *Handler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.promotions.Get(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePromotion(e, cfg) })
}

// PutPromotion handles PUT /api/promotion. The body replaces the whole
// configuration.
func (h *Handler) PutPromotion(w http.ResponseWriter, r *http.Request) {
	if !auth.IsOperator(r.Context()) {
		writeError(w, r, auth.ErrOperatorRequired)
		return
	}
	var cfg promotion.Config
	if err := decodeBody(w, r, decodePromotion(&cfg)); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.promotions.Put(r.Context(), &cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePromotion(e, out) })
}
