package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sketchdojo/notifybridge/pkg/broker"
	"github.com/sketchdojo/notifybridge/pkg/logger"
	"github.com/sketchdojo/notifybridge/pkg/redis"
)

// Publisher sends notifications from background workers. It is fail-open:
// delivery problems are logged and reported as false, never returned as errors
// or panics, so producer code paths keep running.
type Publisher struct {
	client  broker.Client
	logger  *slog.Logger
	metrics Metrics
	timeout time.Duration
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithPublisherMetrics(m Metrics) PublisherOption {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithPublishTimeout bounds each publish round trip. Zero disables the bound.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.timeout = d }
}

// NewPublisher creates a publisher on top of an open broker client.
func NewPublisher(client broker.Client, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client:  client,
		logger:  slog.Default(),
		metrics: NopMetrics{},
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logger.Component("notify.publisher"))
	return p
}

// NewRedisPublisher connects to the Redis server described by cfg.
func NewRedisPublisher(ctx context.Context, cfg redis.Config, opts ...PublisherOption) (*Publisher, error) {
	client, err := broker.RedisDialer(cfg)(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return NewPublisher(client, opts...), nil
}

// Publish wraps payload into an envelope and sends it on the channel named t.
// It reports whether the broker accepted the message; having no subscribers
// still counts as success. A typed payload must be the variant of t.
func (p *Publisher) Publish(ctx context.Context, t Type, payload any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.fail(ctx, t, fmt.Errorf("%w: %v", ErrPublishPanic, r))
			ok = false
		}
	}()

	if !t.Valid() {
		p.fail(ctx, t, fmt.Errorf("%w: %q", ErrUnknownType, t))
		return false
	}
	if v, typed := payload.(Payload); typed && v.NotificationType() != t {
		p.fail(ctx, t, fmt.Errorf("%w: %s payload on %s channel", ErrInvalidPayload, v.NotificationType(), t))
		return false
	}

	body, err := EncodeEnvelope(t, payload)
	if err != nil {
		p.fail(ctx, t, err)
		return false
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	receivers, err := p.client.Publish(ctx, t.Channel(), body)
	if err != nil {
		p.fail(ctx, t, err)
		return false
	}

	p.metrics.Published(t, receivers)
	if receivers > 0 {
		p.logger.LogAttrs(ctx, slog.LevelInfo, "published notification",
			logger.NotificationType(t.String()),
			logger.Receivers(receivers),
		)
	} else {
		p.logger.LogAttrs(ctx, slog.LevelWarn, "no subscribers for notification",
			logger.NotificationType(t.String()),
		)
	}
	return true
}

// Send publishes a typed payload on the channel of its variant.
func (p *Publisher) Send(ctx context.Context, payload Payload) bool {
	if payload == nil {
		p.fail(ctx, "", ErrInvalidPayload)
		return false
	}
	return p.Publish(ctx, payload.NotificationType(), payload)
}

// Close releases the broker client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func (p *Publisher) fail(ctx context.Context, t Type, err error) {
	p.metrics.PublishFailed(t)
	p.logger.LogAttrs(ctx, slog.LevelError, "failed to publish notification",
		logger.NotificationType(t.String()),
		logger.Error(err),
	)
}
