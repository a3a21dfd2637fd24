package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sketchdojo/notifybridge/pkg/broker"
	"github.com/sketchdojo/notifybridge/pkg/logger"
	"github.com/sketchdojo/notifybridge/pkg/redis"
)

// Handler processes the raw JSON payload of one notification.
// Each invocation gets its own copy of the payload.
type Handler func(ctx context.Context, payload json.RawMessage) error

type namedHandler struct {
	name string
	fn   Handler
}

// Subscriber keeps a broker cursor subscribed to notification channels and
// dispatches every message to the handlers registered for its type.
//
// Handlers and subscriptions may be added at any time. The delivery loop
// runs between Start and Stop and is restarted by a supervisor when it
// fails unexpectedly. Stop must not be called from inside a handler.
type Subscriber struct {
	dial    broker.Dialer
	logger  *slog.Logger
	metrics Metrics

	pollTimeout     time.Duration
	idleSleep       time.Duration
	restartDelay    time.Duration
	maxRestartDelay time.Duration
	maxRestarts     int

	mu         sync.RWMutex
	handlers   map[Type][]namedHandler
	subscribed map[Type]struct{}
	client     broker.Client
	pubsub     broker.PubSub
	recovering bool // the supervisor is replacing the cursor

	lifecycle sync.Mutex // serializes Start and Stop

	state   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	processed     atomic.Int64
	dropped       atomic.Int64
	handlerErrors atomic.Int64
	restarts      atomic.Int64
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

func WithLogger(l *slog.Logger) SubscriberOption {
	return func(s *Subscriber) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m Metrics) SubscriberOption {
	return func(s *Subscriber) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithPollTimeout bounds a single broker read, and with it how quickly Stop is observed.
func WithPollTimeout(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

// WithIdleSleep sets the pause between poll iterations.
func WithIdleSleep(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d >= 0 {
			s.idleSleep = d
		}
	}
}

// WithRestartDelay sets the delay before the first restart of a failed listener.
// Later restarts in the same failure burst double it up to the max restart delay.
func WithRestartDelay(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.restartDelay = d
		}
	}
}

func WithMaxRestartDelay(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		if d > 0 {
			s.maxRestartDelay = d
		}
	}
}

// WithMaxRestarts caps the restarts of one failure burst. A burst ends when a
// message is processed. Zero means no cap.
func WithMaxRestarts(n int) SubscriberOption {
	return func(s *Subscriber) {
		if n >= 0 {
			s.maxRestarts = n
		}
	}
}

// NewSubscriber creates an idle subscriber. No connection is made until the
// first Subscribe, RegisterHandler or Start.
func NewSubscriber(dial broker.Dialer, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		dial:            dial,
		logger:          slog.Default(),
		metrics:         NopMetrics{},
		pollTimeout:     time.Second,
		idleSleep:       10 * time.Millisecond,
		restartDelay:    time.Second,
		maxRestartDelay: 30 * time.Second,
		maxRestarts:     10,
		handlers:        make(map[Type][]namedHandler),
		subscribed:      make(map[Type]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("notify.subscriber"))
	return s
}

// NewRedisSubscriber creates a subscriber for the Redis server described by cfg.
func NewRedisSubscriber(cfg redis.Config, opts ...SubscriberOption) *Subscriber {
	return NewSubscriber(broker.RedisDialer(cfg), opts...)
}

// Subscribe adds types to the subscription set and subscribes the cursor to
// those not subscribed yet.
func (s *Subscriber) Subscribe(ctx context.Context, types ...Type) error {
	for _, t := range types {
		if !t.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownType, t)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeLocked(ctx, types)
}

// RegisterHandler appends h to the handlers of t under a generated name.
func (s *Subscriber) RegisterHandler(ctx context.Context, t Type, h Handler) error {
	return s.RegisterNamedHandler(ctx, t, "", h)
}

// RegisterNamedHandler appends h to the handlers of t. Handlers run in
// registration order. The first handler for a type not yet subscribed
// subscribes to it; if that fails the handler stays registered and the
// subscription is retried by Start.
func (s *Subscriber) RegisterNamedHandler(ctx context.Context, t Type, name string, h Handler) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if h == nil {
		return ErrNilHandler
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("%s#%d", t, len(s.handlers[t]))
	}
	s.handlers[t] = append(s.handlers[t], namedHandler{name: name, fn: h})
	s.logger.LogAttrs(ctx, slog.LevelDebug, "registered notification handler",
		logger.NotificationType(t.String()),
		logger.Handler(name),
	)

	if _, ok := s.subscribed[t]; ok {
		return nil
	}
	return s.subscribeLocked(ctx, []Type{t})
}

// Start connects if needed, subscribes to every tracked type and every type
// with handlers, and launches the delivery loop. Starting a running
// subscriber only logs a warning.
func (s *Subscriber) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Running() {
		s.logger.WarnContext(ctx, "notification subscriber already running")
		return nil
	}

	s.mu.Lock()
	if err := s.connectLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.subscribeLocked(ctx, s.desiredLocked()); err != nil {
		s.mu.Unlock()
		return err
	}
	ps := s.pubsub
	channels := s.channelsLocked()
	s.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.state.Lock()
	s.running = true
	s.cancel = cancel
	s.done = done
	s.state.Unlock()

	go s.supervise(loopCtx, ps, done)

	s.logger.LogAttrs(ctx, slog.LevelInfo, "notification subscriber started",
		logger.Channels(channels),
	)
	return nil
}

// Stop cancels the delivery loop, waits for it to exit, then unsubscribes and
// closes the connection. Registered handlers are kept for the next Start.
// If ctx expires first the connection is still released and ErrStopTimeout
// is returned. Stopping an idle subscriber only logs a warning.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.state.Lock()
	if !s.running {
		s.state.Unlock()
		s.logger.WarnContext(ctx, "notification subscriber is not running")
		return nil
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.state.Unlock()

	cancel()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(ErrStopTimeout, ctx.Err())
		s.logger.LogAttrs(ctx, slog.LevelError, "notification listener did not stop in time",
			logger.Error(ctx.Err()),
		)
	}

	s.teardown(ctx)
	s.logger.InfoContext(ctx, "notification subscriber stopped")
	return err
}

// Running reports whether the delivery loop is supposed to be running.
func (s *Subscriber) Running() bool {
	s.state.Lock()
	defer s.state.Unlock()
	return s.running
}

// Subscriptions returns the subscription set as channel names, sorted.
func (s *Subscriber) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channelsLocked()
}

// HandlerCount returns the number of handlers registered for t.
func (s *Subscriber) HandlerCount(t Type) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers[t])
}

// Status is a point-in-time view of a subscriber.
type Status struct {
	Running       bool     `json:"running"`
	Subscriptions []string `json:"subscriptions"`
	Processed     int64    `json:"processed"`
	Dropped       int64    `json:"dropped"`
	HandlerErrors int64    `json:"handler_errors"`
	Restarts      int64    `json:"restarts"`
}

func (s *Subscriber) Status() Status {
	return Status{
		Running:       s.Running(),
		Subscriptions: s.Subscriptions(),
		Processed:     s.processed.Load(),
		Dropped:       s.dropped.Load(),
		HandlerErrors: s.handlerErrors.Load(),
		Restarts:      s.restarts.Load(),
	}
}

// connectLocked dials the broker and opens a cursor if either is missing.
func (s *Subscriber) connectLocked(ctx context.Context) error {
	if s.client == nil {
		client, err := s.dial(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConnect, err)
		}
		s.client = client
	}
	if s.pubsub == nil {
		ps, err := s.client.PubSub(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConnect, err)
		}
		s.pubsub = ps
	}
	return nil
}

// subscribeLocked subscribes the cursor to the types not in the set yet.
func (s *Subscriber) subscribeLocked(ctx context.Context, types []Type) error {
	var pending []string
	for _, t := range types {
		if _, ok := s.subscribed[t]; ok || slices.Contains(pending, t.Channel()) {
			continue
		}
		pending = append(pending, t.Channel())
	}
	if len(pending) == 0 {
		return nil
	}

	if s.recovering {
		for _, ch := range pending {
			s.subscribed[Type(ch)] = struct{}{}
		}
		s.logger.LogAttrs(ctx, slog.LevelDebug, "subscription deferred until the listener recovers",
			logger.Channels(pending),
		)
		return nil
	}

	if err := s.connectLocked(ctx); err != nil {
		return err
	}
	if err := s.pubsub.Subscribe(ctx, pending...); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribe, err)
	}
	for _, ch := range pending {
		s.subscribed[Type(ch)] = struct{}{}
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "subscribed to notification channels",
		logger.Channels(pending),
	)
	return nil
}

// desiredLocked returns the subscription set plus every type with handlers,
// in enumeration order.
func (s *Subscriber) desiredLocked() []Type {
	out := make([]Type, 0, len(allTypes))
	for _, t := range allTypes {
		_, subscribed := s.subscribed[t]
		if subscribed || len(s.handlers[t]) > 0 {
			out = append(out, t)
		}
	}
	return out
}

func (s *Subscriber) channelsLocked() []string {
	out := make([]string, 0, len(s.subscribed))
	for t := range s.subscribed {
		out = append(out, t.Channel())
	}
	slices.Sort(out)
	return out
}

// snapshot copies the handler list of t so dispatch never races with registration.
func (s *Subscriber) snapshot(t Type) []namedHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.handlers[t])
}

// teardown unsubscribes, closes the cursor and the connection, and clears the
// subscription set. The handler registry survives.
func (s *Subscriber) teardown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pollTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pubsub != nil {
		if err := s.pubsub.Unsubscribe(ctx); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to unsubscribe from notification channels",
				logger.Error(err),
			)
		}
		if err := s.pubsub.Close(); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to close subscription cursor",
				logger.Error(err),
			)
		}
		s.pubsub = nil
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to close broker connection",
				logger.Error(err),
			)
		}
		s.client = nil
	}
	clear(s.subscribed)
	s.recovering = false
}
