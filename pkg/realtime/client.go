package realtime

import (
	"context"

	"github.com/sketchdojo/notifybridge/pkg/broadcast"
)

// Client is one live connection registered with a Manager. Its outbound
// queue is drained by the transport, normally Handler's write loop.
type Client struct {
	id     string
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	subs map[string]*broadcast.Subscription[update] // keyed by hub channel, guarded by Manager.mu
}

func newClient(ctx context.Context, id string, buffer int) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		id:     id,
		send:   make(chan []byte, buffer),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*broadcast.Subscription[update]),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Messages yields encoded JSON messages queued for the client.
func (c *Client) Messages() <-chan []byte {
	return c.send
}

// Done is closed once the client is disconnected.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Client) enqueue(msg []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrClientNotFound
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}
