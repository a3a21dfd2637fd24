package broadcast

import "time"

// Message is one payload published on a channel.
type Message[T any] struct {
	ID        string
	Channel   string
	Payload   T
	Timestamp time.Time
}

// HubConfig configures a Hub.
type HubConfig struct {
	// DefaultBufferSize is the per-subscription queue length. Defaults to 100.
	DefaultBufferSize int

	// SlowConsumerTimeout is how long Publish waits on a full subscription
	// before closing it. Defaults to 1s.
	SlowConsumerTimeout time.Duration

	// MetricsCallback, when set, is called with the new subscriber count
	// of a channel after every subscribe and unsubscribe.
	MetricsCallback func(channel string, subscribers int)
}

type subscribeConfig struct {
	bufferSize int
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscribeConfig)

// WithBufferSize overrides HubConfig.DefaultBufferSize for one subscription.
func WithBufferSize(size int) SubscribeOption {
	return func(c *subscribeConfig) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}
