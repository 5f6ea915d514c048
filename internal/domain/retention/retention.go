// Package retention reclaims abandoned orders. Each rule is a batched,
// conditional bulk delete keyed on status and age; nothing is read first.
package retention

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/preorder/internal/domain/order"
)

const (
	DefaultAwaitingPaymentGrace = 3 * 24 * time.Hour
	DefaultReclaimableGrace     = 7 * 24 * time.Hour
	DefaultBatchSize            = 500
)

// Deleter removes one batch of expired orders. *order.Service implements it.
type Deleter interface {
	DeleteMany(ctx context.Context, e order.Expiry) (int, error)
}

// Config sets the grace periods. An order is reclaimed once
// now - createdAt > grace; an order exactly grace old is kept.
type Config struct {
	AwaitingPaymentGrace time.Duration
	ReclaimableGrace     time.Duration
	// IncludeCancelled also reclaims cancelled orders after CancelledGrace.
	IncludeCancelled bool
	CancelledGrace   time.Duration
	BatchSize        int
}

// DefaultConfig returns the 3 day / 7 day policy.
func DefaultConfig() Config {
	return Config{
		AwaitingPaymentGrace: DefaultAwaitingPaymentGrace,
		ReclaimableGrace:     DefaultReclaimableGrace,
		CancelledGrace:       DefaultReclaimableGrace,
		BatchSize:            DefaultBatchSize,
	}
}

func (c Config) validate() error {
	if c.AwaitingPaymentGrace <= 0 {
		return errors.New("awaiting payment grace must be positive")
	}
	if c.ReclaimableGrace <= 0 {
		return errors.New("reclaimable grace must be positive")
	}
	if c.IncludeCancelled && c.CancelledGrace <= 0 {
		return errors.New("cancelled grace must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}
	return nil
}

// Result counts deleted orders per rule.
type Result struct {
	DeletedAwaitingPayment int
	DeletedReclaimable     int
	DeletedCancelled       int
	// Failures counts batches that failed without losing connectivity. Those
	// are logged and the sweep moves on to the next rule.
	Failures int
	// Interrupted is set when the context ended before every rule finished;
	// the counts are then partial.
	Interrupted bool
}

// Total returns the number of deleted orders.
func (r Result) Total() int {
	return r.DeletedAwaitingPayment + r.DeletedReclaimable + r.DeletedCancelled
}

type rule struct {
	name     string
	statuses []order.Status
	grace    time.Duration
	count    *int
}

// Policy applies the retention rules.
type Policy struct {
	deleter Deleter
	cfg     Config
	deleted metric.Int64Counter
}

// New creates a Policy. A nil meter disables metrics.
func New(deleter Deleter, cfg Config, meter metric.Meter) (*Policy, error) {
	if deleter == nil {
		return nil, errors.New("retention: deleter is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "retention config")
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("")
	}
	deleted, err := meter.Int64Counter("preorder.retention.deleted",
		metric.WithDescription("Orders reclaimed by the retention sweep"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "retention.deleted counter")
	}
	return &Policy{deleter: deleter, cfg: cfg, deleted: deleted}, nil
}

// Config returns the policy configuration.
func (p *Policy) Config() Config { return p.cfg }

// Sweep runs every rule against now with the configured grace periods.
func (p *Policy) Sweep(ctx context.Context, now time.Time) (Result, error) {
	return p.SweepWith(ctx, now, p.cfg)
}

// SweepWith runs the rules with an explicit configuration, used for on-demand
// sweeps with overridden grace periods.
//
// A lost connection aborts the sweep with the storage error and the counts so
// far. A cancelled ctx stops between batches and returns partial counts
// without error.
func (p *Policy) SweepWith(ctx context.Context, now time.Time, cfg Config) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, &order.ValidationError{Field: "retention", Reason: err.Error()}
	}

	var res Result
	rules := []rule{
		{"awaiting_payment", []order.Status{order.StatusAwaitingPayment}, cfg.AwaitingPaymentGrace, &res.DeletedAwaitingPayment},
		{"reclaimable", []order.Status{order.StatusPaymentReported, order.StatusConfirmed}, cfg.ReclaimableGrace, &res.DeletedReclaimable},
	}
	if cfg.IncludeCancelled {
		rules = append(rules, rule{"cancelled", []order.Status{order.StatusCancelled}, cfg.CancelledGrace, &res.DeletedCancelled})
	}

	lg := zctx.From(ctx)
	for _, rule := range rules {
		expiry := order.Expiry{
			Statuses: rule.statuses,
			Before:   now.Add(-rule.grace),
			Limit:    cfg.BatchSize,
		}
		for {
			if ctx.Err() != nil {
				res.Interrupted = true
				return res, nil
			}

			n, err := p.deleter.DeleteMany(ctx, expiry)
			*rule.count += n
			if n > 0 {
				p.deleted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("rule", rule.name)))
			}
			if err != nil {
				if ctx.Err() != nil {
					res.Interrupted = true
					return res, nil
				}
				if order.IsUnavailable(err) {
					return res, err
				}
				res.Failures++
				lg.Warn("Retention batch failed, skipping rule",
					zap.String("rule", rule.name),
					zap.Time("before", expiry.Before),
					zap.Error(err),
				)
				break
			}
			if n < expiry.Limit {
				break
			}
		}
	}

	return res, nil
}
