package broker

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryBufferSize is the per-cursor queue length used by NewMemory.
const DefaultMemoryBufferSize = 256

// Memory is an in-process broker. Messages are queued per cursor; when a
// cursor's queue is full new messages for it are dropped rather than blocking
// the publisher. All methods are safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	cursors    map[*memoryPubSub]struct{}
	bufferSize int
	closed     bool
}

// NewMemory creates an in-process bus. bufferSize below 1 selects DefaultMemoryBufferSize.
func NewMemory(bufferSize int) *Memory {
	if bufferSize < 1 {
		bufferSize = DefaultMemoryBufferSize
	}
	return &Memory{
		cursors:    make(map[*memoryPubSub]struct{}),
		bufferSize: bufferSize,
	}
}

// Client returns a connection to the bus. Closing the client closes the cursors
// it opened but leaves the bus and other clients untouched.
func (m *Memory) Client() Client {
	return &memoryClient{bus: m, cursors: make(map[*memoryPubSub]struct{})}
}

// Dialer returns a Dialer handing out new clients of this bus.
func (m *Memory) Dialer() Dialer {
	return func(ctx context.Context) (Client, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.mu.RLock()
		closed := m.closed
		m.mu.RUnlock()
		if closed {
			return nil, ErrClosed
		}
		return m.Client(), nil
	}
}

// SubscriberCount returns how many open cursors are subscribed to channel.
func (m *Memory) SubscriberCount(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for c := range m.cursors {
		if c.subscribed(channel) {
			n++
		}
	}
	return n
}

// Close shuts the bus down and closes every cursor.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cursors := make([]*memoryPubSub, 0, len(m.cursors))
	for c := range m.cursors {
		cursors = append(cursors, c)
	}
	clear(m.cursors)
	m.mu.Unlock()

	for _, c := range cursors {
		c.shutdown()
	}
	return nil
}

func (m *Memory) publish(channel string, payload []byte) (int64, error) {
	if channel == "" {
		return 0, ErrEmptyChannel
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}

	var n int64
	for c := range m.cursors {
		if !c.subscribed(channel) {
			continue
		}
		// Each receiver gets its own copy so handlers cannot corrupt each other's bytes.
		body := make([]byte, len(payload))
		copy(body, payload)
		if c.deliver(Message{Channel: channel, Payload: body}) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) attach(c *memoryPubSub) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.cursors[c] = struct{}{}
	return nil
}

func (m *Memory) detach(c *memoryPubSub) {
	m.mu.Lock()
	delete(m.cursors, c)
	m.mu.Unlock()
}

type memoryClient struct {
	bus     *Memory
	mu      sync.Mutex
	cursors map[*memoryPubSub]struct{}
	closed  bool
}

func (c *memoryClient) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return c.bus.publish(channel, payload)
}

func (c *memoryClient) PubSub(ctx context.Context) (PubSub, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	ps := &memoryPubSub{
		bus:      c.bus,
		owner:    c,
		channels: make(map[string]struct{}),
		queue:    make(chan Message, c.bus.bufferSize),
		done:     make(chan struct{}),
	}
	if err := c.bus.attach(ps); err != nil {
		return nil, err
	}
	c.cursors[ps] = struct{}{}
	return ps, nil
}

func (c *memoryClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cursors := make([]*memoryPubSub, 0, len(c.cursors))
	for ps := range c.cursors {
		cursors = append(cursors, ps)
	}
	clear(c.cursors)
	c.mu.Unlock()

	for _, ps := range cursors {
		_ = ps.Close()
	}
	return nil
}

func (c *memoryClient) forget(ps *memoryPubSub) {
	c.mu.Lock()
	delete(c.cursors, ps)
	c.mu.Unlock()
}

type memoryPubSub struct {
	bus      *Memory
	owner    *memoryClient
	mu       sync.RWMutex
	channels map[string]struct{}
	queue    chan Message
	done     chan struct{}
	once     sync.Once
}

func (p *memoryPubSub) Subscribe(ctx context.Context, channels ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.isClosed() {
		return ErrClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range channels {
		if ch == "" {
			return ErrEmptyChannel
		}
		p.channels[ch] = struct{}{}
	}
	return nil
}

func (p *memoryPubSub) Unsubscribe(ctx context.Context, channels ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.isClosed() {
		return ErrClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(channels) == 0 {
		clear(p.channels)
		return nil
	}
	for _, ch := range channels {
		delete(p.channels, ch)
	}
	return nil
}

func (p *memoryPubSub) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-p.queue:
		return &msg, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (p *memoryPubSub) Close() error {
	p.shutdown()
	p.bus.detach(p)
	p.owner.forget(p)
	return nil
}

func (p *memoryPubSub) shutdown() {
	p.once.Do(func() { close(p.done) })
}

func (p *memoryPubSub) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *memoryPubSub) subscribed(channel string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.channels[channel]
	return ok
}

func (p *memoryPubSub) deliver(msg Message) bool {
	if p.isClosed() {
		return false
	}
	select {
	case p.queue <- msg:
		return true
	default:
		return false
	}
}
