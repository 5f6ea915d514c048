package retention

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Scheduler runs Sweep periodically. The first sweep runs immediately.
type Scheduler struct {
	policy   *Policy
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	lastSuccess atomic.Int64
}

// NewScheduler creates a Scheduler. Each run is bounded by timeout.
func NewScheduler(policy *Policy, interval, timeout time.Duration) *Scheduler {
	return &Scheduler{
		policy:   policy,
		interval: interval,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is cancelled. Failed sweeps are logged;
// the next tick tries again.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("retention scheduler: interval must be positive")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single bounded sweep and logs the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	lg := zctx.From(ctx)
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := s.now()
	res, err := s.policy.Sweep(runCtx, start)
	fields := []zap.Field{
		zap.Int("deleted_awaiting_payment", res.DeletedAwaitingPayment),
		zap.Int("deleted_reclaimable", res.DeletedReclaimable),
		zap.Int("deleted_cancelled", res.DeletedCancelled),
		zap.Int("failures", res.Failures),
		zap.Bool("interrupted", res.Interrupted),
		zap.Duration("took", s.now().Sub(start)),
	}
	if err != nil {
		lg.Error("Retention sweep failed", append(fields, zap.Error(err))...)
		return res, err
	}
	if !res.Interrupted && res.Failures == 0 {
		s.lastSuccess.Store(start.UnixNano())
	}
	lg.Info("Retention sweep finished", fields...)
	return res, nil
}

// LastSuccess returns the start time of the last complete sweep, zero if none.
func (s *Scheduler) LastSuccess() time.Time {
	ns := s.lastSuccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// StalenessCheck fails when no complete sweep happened within maxAge, once
// the scheduler has had maxAge to produce one.
func (s *Scheduler) StalenessCheck(maxAge time.Duration) func(context.Context) error {
	started := s.now()
	return func(context.Context) error {
		last := s.LastSuccess()
		if last.IsZero() {
			if s.now().Sub(started) > maxAge {
				return errors.New("no retention sweep has completed")
			}
			return nil
		}
		if age := s.now().Sub(last); age > maxAge {
			return errors.Errorf("last retention sweep completed %s ago", age.Round(time.Second))
		}
		return nil
	}
}
