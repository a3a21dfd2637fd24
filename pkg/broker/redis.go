package broker

import (
	"context"
	"errors"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sketchdojo/notifybridge/pkg/redis"
)

// Redis is a Client backed by go-redis PUBLISH/SUBSCRIBE.
type Redis struct {
	client goredis.UniversalClient
}

// NewRedis wraps an existing go-redis client. Close closes it.
func NewRedis(client goredis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// RedisDialer returns a Dialer that connects with redis.Connect, so every
// (re)connection gets the configured retry policy.
func RedisDialer(cfg redis.Config) Dialer {
	return func(ctx context.Context) (Client, error) {
		client, err := redis.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewRedis(client), nil
	}
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if channel == "" {
		return 0, ErrEmptyChannel
	}
	return r.client.Publish(ctx, channel, payload).Result()
}

func (r *Redis) PubSub(ctx context.Context) (PubSub, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &redisPubSub{ps: r.client.Subscribe(ctx)}, nil
}

// Client exposes the underlying go-redis client, e.g. for health checks.
func (r *Redis) Client() goredis.UniversalClient {
	return r.client
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisPubSub struct {
	ps *goredis.PubSub
}

func (p *redisPubSub) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return p.ps.Subscribe(ctx, channels...)
}

func (p *redisPubSub) Unsubscribe(ctx context.Context, channels ...string) error {
	return p.ps.Unsubscribe(ctx, channels...)
}

func (p *redisPubSub) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	msg, err := p.ps.ReceiveTimeout(ctx, timeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isTimeout(err) {
			return nil, nil
		}
		return nil, err
	}

	// Subscription confirmations and pongs are control traffic.
	m, ok := msg.(*goredis.Message)
	if !ok {
		return nil, nil
	}
	return &Message{Channel: m.Channel, Payload: []byte(m.Payload)}, nil
}

func (p *redisPubSub) Close() error {
	return p.ps.Close()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
