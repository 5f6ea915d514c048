package order

import (
	"maps"
	"slices"
	"strings"

	"github.com/go-faster/errors"
)

// legacyStatuses maps status names written by the previous storefront onto the
// current lifecycle. Anything that went past payment verification counts as
// confirmed; fulfilment is tracked outside this system.
var legacyStatuses = map[string]Status{
	"pending":           StatusAwaitingPayment,
	"pending_payment":   StatusAwaitingPayment,
	"awaiting_payment":  StatusAwaitingPayment,
	"unpaid":            StatusAwaitingPayment,
	"new":               StatusAwaitingPayment,
	"paid":              StatusPaymentReported,
	"payment_submitted": StatusPaymentReported,
	"payment_reported":  StatusPaymentReported,
	"verifying":         StatusPaymentReported,
	"confirmed":         StatusConfirmed,
	"processing":        StatusConfirmed,
	"preparing":         StatusConfirmed,
	"shipped":           StatusConfirmed,
	"delivered":         StatusConfirmed,
	"completed":         StatusConfirmed,
	"cancelled":         StatusCancelled,
	"canceled":          StatusCancelled,
	"refunded":          StatusCancelled,
	"expired":           StatusCancelled,
}

// ParseStatus converts a stored or imported status name to a Status.
// Matching is case-insensitive and accepts the legacy vocabulary.
func ParseStatus(raw string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if s, ok := legacyStatuses[key]; ok {
		return s, nil
	}
	return "", errors.Errorf("unknown order status %q", raw)
}

// Aliases returns every stored spelling that reads as one of statuses, the
// canonical name first. Storage predicates match against it so rows left in
// the legacy vocabulary are selected like current ones.
func Aliases(statuses ...Status) []string {
	var out []string
	for _, s := range statuses {
		out = append(out, string(s))
		for _, raw := range slices.Sorted(maps.Keys(legacyStatuses)) {
			if legacyStatuses[raw] == s && raw != string(s) {
				out = append(out, raw)
			}
		}
	}
	return out
}

// Spellings returns the normalized status names ParseStatus accepts and the
// status each maps to.
func Spellings() map[string]Status {
	return maps.Clone(legacyStatuses)
}
