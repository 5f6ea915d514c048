package mirror

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/preorder/internal/domain/order"
)

// LogSink writes events to a logger. Used when no downstream system is
// configured.
type LogSink struct {
	lg *zap.Logger
}

// NewLogSink creates a LogSink. A nil logger discards events.
func NewLogSink(lg *zap.Logger) *LogSink {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &LogSink{lg: lg}
}

// Send logs ev at info level. It never fails.
func (s *LogSink) Send(_ context.Context, ev order.Event) error {
	s.lg.Info("Order event",
		zap.String("event_id", ev.ID),
		zap.String("event", string(ev.Type)),
		zap.String("order_id", ev.OrderID),
		zap.String("status", string(ev.Status)),
		zap.String("actor", ev.Actor),
	)
	return nil
}

// WebhookSink POSTs each event as JSON to a fixed URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a WebhookSink. A nil client gets an otelhttp
// instrumented default.
func NewWebhookSink(url string, client *http.Client) (*WebhookSink, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("webhook sink: url is required")
	}
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &WebhookSink{url: url, client: client}, nil
}

// Send POSTs ev. Any non-2xx response fails; 4xx other than 429 is not
// retried.
func (s *WebhookSink) Send(ctx context.Context, ev order.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(EncodeEvent(ev)))
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, "build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", ev.ID)
	req.Header.Set("X-Event-Type", string(ev.Type))

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post event")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errors.Errorf("webhook responded %d", resp.StatusCode)
	default:
		// Client errors will not improve on retry.
		return backoff.Permanent(errors.Errorf("webhook rejected event: %d", resp.StatusCode))
	}
}

// PubSubSink publishes events to a Google Cloud Pub/Sub topic.
type PubSubSink struct {
	topic *pubsub.Topic
}

// NewPubSubSink creates a PubSubSink publishing to topic. The caller owns the
// topic and stops it on shutdown.
func NewPubSubSink(topic *pubsub.Topic) (*PubSubSink, error) {
	if topic == nil {
		return nil, errors.New("pubsub sink: topic is required")
	}
	return &PubSubSink{topic: topic}, nil
}

// Send publishes ev with its IDs as message attributes and waits for the
// server to acknowledge it.
func (s *PubSubSink) Send(ctx context.Context, ev order.Event) error {
	attrs := map[string]string{
		"eventId":   ev.ID,
		"eventType": string(ev.Type),
		"orderId":   ev.OrderID,
	}
	if ev.Status != "" {
		attrs["status"] = string(ev.Status)
	}
	res := s.topic.Publish(ctx, &pubsub.Message{
		Data:       EncodeEvent(ev),
		Attributes: attrs,
	})
	if _, err := res.Get(ctx); err != nil {
		return errors.Wrap(err, "publish event")
	}
	return nil
}
