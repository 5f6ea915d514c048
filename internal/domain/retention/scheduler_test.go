package retention

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/preorder/internal/domain/order"
)

type countingDeleter struct {
	calls int
	err   error
}

func (d *countingDeleter) DeleteMany(context.Context, order.Expiry) (int, error) {
	d.calls++
	return 0, d.err
}

func TestScheduler_RunOnceRecordsSuccess(t *testing.T) {
	p, err := New(&countingDeleter{}, DefaultConfig(), nil)
	require.NoError(t, err)

	s := NewScheduler(p, time.Hour, time.Minute)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return at }

	assert.True(t, s.LastSuccess().IsZero())
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, at, s.LastSuccess())
}

func TestScheduler_FailureKeepsLastSuccess(t *testing.T) {
	d := &countingDeleter{err: &order.StorageError{Op: "delete", Err: order.ErrUnavailable}}
	p, err := New(d, DefaultConfig(), nil)
	require.NoError(t, err)

	s := NewScheduler(p, time.Hour, time.Minute)
	_, err = s.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, s.LastSuccess().IsZero())
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	d := &countingDeleter{}
	p, err := New(d, DefaultConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScheduler(p, time.Hour, time.Minute)
	require.NoError(t, s.Run(ctx))
	// The immediate sweep sees the cancelled context and issues nothing.
	assert.Equal(t, 0, d.calls)
}

func TestScheduler_StalenessCheck(t *testing.T) {
	p, err := New(&countingDeleter{}, DefaultConfig(), nil)
	require.NoError(t, err)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewScheduler(p, time.Hour, time.Minute)
	s.now = func() time.Time { return clock }

	check := s.StalenessCheck(2 * time.Hour)
	require.NoError(t, check(context.Background()), "grace period right after start")

	clock = clock.Add(3 * time.Hour)
	require.Error(t, check(context.Background()))

	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, check(context.Background()))

	clock = clock.Add(3 * time.Hour)
	err = check(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, order.ErrUnavailable))
}

func TestScheduler_RejectsZeroInterval(t *testing.T) {
	p, err := New(&countingDeleter{}, DefaultConfig(), nil)
	require.NoError(t, err)
	require.Error(t, NewScheduler(p, 0, 0).Run(context.Background()))
}
