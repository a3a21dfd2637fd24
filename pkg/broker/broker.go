package broker

import (
	"context"
	"time"
)

// Message is a body received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Client is a connection to the broker. Implementations must be safe for
// concurrent use: many goroutines may publish while one cursor is being read.
type Client interface {
	// Publish sends payload to channel and reports how many subscribers received it.
	// Zero receivers is not an error.
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)

	// PubSub opens a new subscription cursor with no channels.
	PubSub(ctx context.Context) (PubSub, error)

	// Close releases the connection. Cursors opened from it stop working.
	Close() error
}

// PubSub is a subscription cursor owned by a single consumer.
type PubSub interface {
	// Subscribe adds channels to the cursor. Already subscribed channels are ignored.
	Subscribe(ctx context.Context, channels ...string) error

	// Unsubscribe removes channels from the cursor; no channels means all of them.
	Unsubscribe(ctx context.Context, channels ...string) error

	// Receive waits up to timeout for the next message. It returns (nil, nil)
	// when nothing arrived in time and ctx.Err() when ctx is done. Any other
	// error means the cursor is broken and should be replaced.
	Receive(ctx context.Context, timeout time.Duration) (*Message, error)

	// Close releases the cursor.
	Close() error
}

// Dialer creates a new Client.
type Dialer func(ctx context.Context) (Client, error)
