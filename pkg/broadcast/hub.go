package broadcast

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hub fans messages out to the subscribers of named channels.
// All methods are safe for concurrent use.
type Hub[T any] struct {
	config   HubConfig
	channels map[string]*channel[T]
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
}

// channel manages subscribers for a specific channel
type channel[T any] struct {
	subscribers map[string]*Subscription[T]
}

// Subscription receives the messages of one channel until it is closed.
type Subscription[T any] struct {
	id       string
	channel  string
	messages chan Message[T]
	ctx      context.Context
	cancel   context.CancelFunc
	hub      *Hub[T]

	mu     sync.RWMutex // held for reading while sending, for writing while closing
	closed bool
	slow   sync.Once
}

// NewHub creates a hub. Zero config values select the defaults.
func NewHub[T any](config HubConfig) *Hub[T] {
	if config.DefaultBufferSize <= 0 {
		config.DefaultBufferSize = 100
	}
	if config.SlowConsumerTimeout <= 0 {
		config.SlowConsumerTimeout = time.Second
	}
	return &Hub[T]{
		config:   config,
		channels: make(map[string]*channel[T]),
	}
}

// Subscribe creates a subscription to channelName. It is closed when ctx is
// cancelled, when Close is called, when the hub closes, or when it falls
// behind by more than the slow consumer timeout.
func (h *Hub[T]) Subscribe(ctx context.Context, channelName string, opts ...SubscribeOption) (*Subscription[T], error) {
	if channelName == "" {
		return nil, ErrEmptyChannel{}
	}

	config := subscribeConfig{bufferSize: h.config.DefaultBufferSize}
	for _, opt := range opts {
		opt(&config)
	}

	subCtx, subCancel := context.WithCancel(ctx)
	sub := &Subscription[T]{
		id:       uuid.New().String(),
		channel:  channelName,
		messages: make(chan Message[T], config.bufferSize),
		ctx:      subCtx,
		cancel:   subCancel,
		hub:      h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		subCancel()
		return nil, ErrHubClosed{}
	}
	ch, exists := h.channels[channelName]
	if !exists {
		ch = &channel[T]{subscribers: make(map[string]*Subscription[T])}
		h.channels[channelName] = ch
	}
	ch.subscribers[sub.id] = sub
	count := len(ch.subscribers)
	h.wg.Add(1)
	h.mu.Unlock()

	h.reportCount(channelName, count)

	go func() {
		defer h.wg.Done()
		<-subCtx.Done()
		_ = sub.Close()
	}()

	return sub, nil
}

// Publish sends payload to every subscriber of channelName and returns how
// many accepted it. A channel without subscribers is not an error.
func (h *Hub[T]) Publish(ctx context.Context, channelName string, payload T) (int, error) {
	if channelName == "" {
		return 0, ErrEmptyChannel{}
	}

	msg := Message[T]{
		ID:        uuid.New().String(),
		Channel:   channelName,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return 0, ErrHubClosed{}
	}
	var subscribers []*Subscription[T]
	if ch, ok := h.channels[channelName]; ok {
		subscribers = make([]*Subscription[T], 0, len(ch.subscribers))
		for _, sub := range ch.subscribers {
			subscribers = append(subscribers, sub)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range subscribers {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if sub.send(ctx, msg, h.config.SlowConsumerTimeout) {
			delivered++
		}
	}
	return delivered, nil
}

// Channels returns the channels with at least one subscriber, sorted.
func (h *Hub[T]) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	channels := make([]string, 0, len(h.channels))
	for name := range h.channels {
		channels = append(channels, name)
	}
	slices.Sort(channels)
	return channels
}

// SubscriberCount returns the number of subscribers for a channel
func (h *Hub[T]) SubscriberCount(channelName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.channels[channelName]
	if !ok {
		return 0
	}
	return len(ch.subscribers)
}

// Close closes every subscription and rejects further use of the hub.
func (h *Hub[T]) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var subs []*Subscription[T]
	for _, ch := range h.channels {
		for _, sub := range ch.subscribers {
			subs = append(subs, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	h.wg.Wait()
	return nil
}

func (h *Hub[T]) remove(sub *Subscription[T]) {
	h.mu.Lock()
	ch, ok := h.channels[sub.channel]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(ch.subscribers, sub.id)
	count := len(ch.subscribers)
	if count == 0 {
		delete(h.channels, sub.channel)
	}
	h.mu.Unlock()

	h.reportCount(sub.channel, count)
}

func (h *Hub[T]) reportCount(channel string, count int) {
	if h.config.MetricsCallback != nil {
		h.config.MetricsCallback(channel, count)
	}
}

func (s *Subscription[T]) ID() string {
	return s.id
}

func (s *Subscription[T]) Channel() string {
	return s.channel
}

// Messages is closed when the subscription ends.
func (s *Subscription[T]) Messages() <-chan Message[T] {
	return s.messages
}

// Done is closed when the subscription ends.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close unsubscribes. It is idempotent.
func (s *Subscription[T]) Close() error {
	s.cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.messages)
	s.mu.Unlock()

	s.hub.remove(s)
	return nil
}

// send queues msg, waiting up to timeout for room. A subscriber that stays
// full is closed asynchronously.
func (s *Subscription[T]) send(ctx context.Context, msg Message[T], timeout time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.messages <- msg:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.messages <- msg:
		return true
	case <-timer.C:
		s.slow.Do(func() {
			go func() { _ = s.Close() }()
		})
		return false
	case <-s.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
