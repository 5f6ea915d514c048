// Package mirror delivers committed order events to a downstream system.
// Publishing never blocks the order transition: events go through a bounded
// queue drained by a worker, and every delivery failure ends in a log line.
package mirror

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/preorder/internal/domain/order"
)

var _ order.EventPublisher = (*Queue)(nil)

// Sink delivers one event.
type Sink interface {
	Send(ctx context.Context, ev order.Event) error
}

// Config tunes the queue and the worker.
type Config struct {
	QueueSize  int
	MaxRetries uint64
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration
}

// Queue buffers events between the order service and the sink.
type Queue struct {
	events  chan order.Event
	sink    Sink
	cfg     Config
	lg      *zap.Logger
	counter metric.Int64Counter
}

// NewQueue creates a Queue. lg is used for drops reported from Publish,
// where the caller's context may already be gone.
func NewQueue(sink Sink, cfg Config, lg *zap.Logger, meter metric.Meter) (*Queue, error) {
	if sink == nil {
		return nil, errors.New("mirror: sink is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("")
	}
	counter, err := meter.Int64Counter("preorder.mirror.events",
		metric.WithDescription("Order events handed to the mirror, by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "mirror.events counter")
	}
	return &Queue{
		events:  make(chan order.Event, cfg.QueueSize),
		sink:    sink,
		cfg:     cfg,
		lg:      lg,
		counter: counter,
	}, nil
}

// Publish enqueues ev. A full queue drops the event with a warning.
func (q *Queue) Publish(ctx context.Context, ev order.Event) {
	select {
	case q.events <- ev:
	default:
		q.count(ctx, "dropped")
		q.lg.Warn("Mirror queue full, dropping event",
			zap.String("event_id", ev.ID),
			zap.String("event", string(ev.Type)),
			zap.String("order_id", ev.OrderID),
		)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already buffered on a best-effort basis with a fresh short deadline.
func (q *Queue) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	for {
		select {
		case ev := <-q.events:
			q.deliver(ctx, lg, ev)
		case <-ctx.Done():
			q.drain(lg)
			return nil
		}
	}
}

func (q *Queue) drain(lg *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.Timeout)
	defer cancel()
	for {
		select {
		case ev := <-q.events:
			q.deliver(ctx, lg, ev)
		default:
			return
		}
	}
}

// Len reports the number of buffered events.
func (q *Queue) Len() int { return len(q.events) }

func (q *Queue) deliver(ctx context.Context, lg *zap.Logger, ev order.Event) {
	lg = lg.With(
		zap.String("event_id", ev.ID),
		zap.String("event", string(ev.Type)),
		zap.String("order_id", ev.OrderID),
	)

	attempt := 0
	op := func() error {
		attempt++
		sendCtx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
		defer cancel()
		return q.sink.Send(sendCtx, ev)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), q.cfg.MaxRetries), ctx)

	if err := backoff.Retry(op, b); err != nil {
		q.count(ctx, "failed")
		lg.Error("Mirror delivery failed", zap.Int("attempts", attempt), zap.Error(err))
		return
	}
	q.count(ctx, "delivered")
	lg.Debug("Mirror delivered", zap.Int("attempts", attempt))
}

func (q *Queue) count(ctx context.Context, result string) {
	q.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}
