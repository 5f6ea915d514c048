package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/preorder/internal/domain/auth"
	"github.com/xenking/preorder/internal/domain/retention"
)

// RunRetentionSweep handles POST /api/retention/sweep. Grace periods in the
// body ("72h", "168h") override the configured ones for this run only.
func (h *Handler) RunRetentionSweep(w http.ResponseWriter, r *http.Request) {
	if !auth.IsOperator(r.Context()) {
		writeError(w, r, auth.ErrOperatorRequired)
		return
	}
	if h.sweeper == nil {
		writeError(w, r, errRetentionOff)
		return
	}

	cfg := h.sweeper.Config()
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "awaitingPaymentGrace":
			cfg.AwaitingPaymentGrace, err = decodeDuration(d)
		case "reclaimableGrace":
			cfg.ReclaimableGrace, err = decodeDuration(d)
		case "cancelledGrace":
			cfg.CancelledGrace, err = decodeDuration(d)
		case "includeCancelled":
			cfg.IncludeCancelled, err = d.Bool()
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

	res, err := h.sweeper.SweepWith(r.Context(), h.now(), cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSweep(e, res) })
}

func decodeDuration(d *jx.Decoder) (time.Duration, error) {
	s, err := d.Str()
	if err != nil {
		return 0, err
	}
	return time.ParseDuration(s)
}

func encodeSweep(e *jx.Encoder, res retention.Result) {
	e.ObjStart()
	e.FieldStart("deletedAwaitingPayment")
	e.Int(res.DeletedAwaitingPayment)
	e.FieldStart("deletedReclaimable")
	e.Int(res.DeletedReclaimable)
	e.FieldStart("deletedCancelled")
	e.Int(res.DeletedCancelled)
	e.FieldStart("total")
	e.Int(res.Total())
	e.FieldStart("failures")
	e.Int(res.Failures)
	e.FieldStart("interrupted")
	e.Bool(res.Interrupted)
	e.ObjEnd()
}
