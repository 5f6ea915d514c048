package order

import (
	"strings"
	"time"
)

// EventType names an order lifecycle event. The same names are used for the
// outbound mirror messages.
type EventType string

const (
	EventCreated         EventType = "order.created"
	EventPaymentReported EventType = "order.payment_reported"
	EventConfirmed       EventType = "order.confirmed"
	EventRescheduled     EventType = "order.rescheduled"
	EventCancelled       EventType = "order.cancelled"
	EventDeleted         EventType = "order.deleted"
)

// Command is an event applied to an order together with its payload.
type Command struct {
	Event    EventType
	Operator bool
	// Evidence is the payment evidence for EventPaymentReported.
	Evidence string
	// DeliveryDate is required for EventConfirmed and EventRescheduled.
	DeliveryDate time.Time
}

type transition struct {
	from     Status
	to       Status
	operator bool
}

// transitions is the full lifecycle table. Deletion is not here: it bypasses
// the state machine.
var transitions = map[EventType][]transition{
	EventPaymentReported: {
		{from: StatusAwaitingPayment, to: StatusPaymentReported},
	},
	EventConfirmed: {
		{from: StatusPaymentReported, to: StatusConfirmed, operator: true},
	},
	EventRescheduled: {
		{from: StatusConfirmed, to: StatusConfirmed, operator: true},
	},
	EventCancelled: {
		{from: StatusAwaitingPayment, to: StatusCancelled, operator: true},
		{from: StatusPaymentReported, to: StatusCancelled, operator: true},
	},
}

// Allowed lists the events that may be applied from s by the given caller.
func Allowed(s Status, operator bool) []EventType {
	var out []EventType
	for _, ev := range []EventType{EventPaymentReported, EventConfirmed, EventRescheduled, EventCancelled} {
		for _, t := range transitions[ev] {
			if t.from == s && (!t.operator || operator) {
				out = append(out, ev)
			}
		}
	}
	return out
}

// Apply validates cmd against o and returns the resulting order. o itself is
// never modified, so a rejected command leaves the caller's copy intact.
func Apply(o *Order, cmd Command, now time.Time) (*Order, error) {
	var (
		t     transition
		found bool
	)
	for _, cand := range transitions[cmd.Event] {
		if cand.from == o.Status {
			t, found = cand, true
			break
		}
	}
	if !found {
		return nil, &InvalidTransitionError{Status: o.Status, Event: cmd.Event}
	}
	if t.operator && !cmd.Operator {
		return nil, &InvalidTransitionError{
			Status: o.Status,
			Event:  cmd.Event,
			Reason: "caller is not an operator",
			err:    ErrOperatorRequired,
		}
	}

	next := o.Clone()
	switch cmd.Event {
	case EventPaymentReported:
		evidence := strings.TrimSpace(cmd.Evidence)
		if evidence == "" {
			return nil, &ValidationError{Field: "evidence", Reason: "required"}
		}
		next.PaymentEvidence = evidence
	case EventConfirmed, EventRescheduled:
		if cmd.DeliveryDate.IsZero() {
			return nil, &ValidationError{Field: "deliveryDate", Reason: "required"}
		}
		d := dateOnly(cmd.DeliveryDate)
		next.EstimatedDeliveryDate = &d
	}
	next.Status = t.to
	next.UpdatedAt = now

	return next, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
