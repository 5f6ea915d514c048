package order

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/preorder/internal/domain/auth"
)

var (
	// ErrNotFound is returned for unknown order IDs.
	ErrNotFound = errors.New("order not found")
	// ErrConflict is returned when a guarded write lost a race against a
	// concurrent mutation. Retrying once is safe.
	ErrConflict = errors.New("order modified concurrently")
	// ErrOperatorRequired is wrapped by InvalidTransitionError when only the
	// operator guard failed.
	ErrOperatorRequired = auth.ErrOperatorRequired
	// ErrUnavailable marks storage errors caused by lost connectivity.
	ErrUnavailable = errors.New("storage unavailable")
)

// ValidationError reports malformed caller input. It is not retryable without
// changing the input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports an event that is illegal in the order's
// current status. The order is left unchanged.
type InvalidTransitionError struct {
	Status Status
	Event  EventType
	Reason string
	err    error
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("cannot apply %s to order in status %s", e.Event, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error { return e.err }

// StorageError wraps a failure of the backing store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err was caused by lost storage connectivity.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// wrapStorage passes through the domain sentinels and wraps anything else.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	var sErr *StorageError
	if errors.As(err, &sErr) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
