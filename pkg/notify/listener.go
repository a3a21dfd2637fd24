package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sketchdojo/notifybridge/pkg/broker"
	"github.com/sketchdojo/notifybridge/pkg/logger"
)

// supervise owns the delivery loop. When the loop exits while ctx is still
// live it is restarted on a fresh cursor after an exponential delay. The
// delay resets once a message gets through; a burst that exhausts the
// restart budget stops the subscriber.
func (s *Subscriber) supervise(ctx context.Context, ps broker.PubSub, done chan struct{}) {
	defer close(done)

	bo := s.newBackOff()
	for {
		err := s.listen(ctx, ps, bo.Reset)
		if ctx.Err() != nil {
			return
		}

		s.logger.LogAttrs(ctx, slog.LevelError, "notification listener exited unexpectedly",
			logger.Error(err),
		)
		s.markRecovering()

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			s.logger.LogAttrs(ctx, slog.LevelError, "notification listener restart budget exhausted, giving up",
				logger.RetryCount(int(s.restarts.Load())),
			)
			s.giveUp(ctx, done)
			return
		}

		n := s.restarts.Add(1)
		s.metrics.ListenerRestarted()
		s.logger.LogAttrs(ctx, slog.LevelWarn, "restarting notification listener",
			logger.RetryCount(int(n)),
			logger.Duration(delay),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		ps = s.reopen(ctx, ps)
	}
}

func (s *Subscriber) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.restartDelay
	eb.MaxInterval = max(s.maxRestartDelay, s.restartDelay)
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	eb.Reset()

	if s.maxRestarts > 0 {
		return backoff.WithMaxRetries(eb, uint64(s.maxRestarts))
	}
	return eb
}

// listen polls ps until ctx is done or the cursor fails. healthy is called
// after every message.
func (s *Subscriber) listen(ctx context.Context, ps broker.PubSub, healthy func()) error {
	if ps == nil {
		return errNoCursor
	}

	idle := time.NewTimer(s.idleSleep)
	defer idle.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := ps.Receive(ctx, s.pollTimeout)
		if err != nil {
			return err
		}
		if msg != nil {
			s.handleMessage(ctx, msg)
			healthy()
		}

		idle.Reset(s.idleSleep)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
		}
	}
}

// handleMessage decodes one broker message and runs its handlers in order.
// Nothing it does can stop the loop.
func (s *Subscriber) handleMessage(ctx context.Context, msg *broker.Message) {
	t, err := ParseType(msg.Channel)
	if err != nil {
		s.drop(DropUnknownType)
		s.logger.LogAttrs(ctx, slog.LevelWarn, "dropping message from unknown channel",
			logger.Channel(msg.Channel),
		)
		return
	}
	s.metrics.Received(t)

	env, err := DecodeEnvelope(msg.Payload)
	if err != nil {
		s.drop(DropMalformed)
		s.logger.LogAttrs(ctx, slog.LevelError, "dropping malformed notification",
			logger.NotificationType(t.String()),
			logger.Error(err),
		)
		return
	}

	handlers := s.snapshot(t)
	if len(handlers) == 0 {
		s.drop(DropNoHandler)
		s.logger.LogAttrs(ctx, slog.LevelWarn, "no handlers registered for notification type",
			logger.NotificationType(t.String()),
		)
		return
	}

	s.processed.Add(1)
	for _, h := range handlers {
		s.invoke(ctx, t, h, env.Payload)
	}
}

func (s *Subscriber) invoke(ctx context.Context, t Type, h namedHandler, payload json.RawMessage) {
	start := time.Now()
	err := callHandler(ctx, h.fn, slices.Clone(payload))
	s.metrics.HandlerDuration(t, time.Since(start))
	if err == nil {
		return
	}

	s.handlerErrors.Add(1)
	s.metrics.HandlerFailed(t)
	s.logger.LogAttrs(ctx, slog.LevelError, "notification handler failed",
		logger.NotificationType(t.String()),
		logger.Handler(h.name),
		logger.Error(err),
	)
}

func callHandler(ctx context.Context, fn Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return fn(ctx, payload)
}

func (s *Subscriber) drop(reason string) {
	s.dropped.Add(1)
	s.metrics.Dropped(reason)
}

// reopen replaces a failed cursor. The old cursor is closed, a new one is
// opened on the existing connection (or a new connection if that fails) and
// subscribed to every tracked channel. Dialing and subscribing run without
// the registry lock; it is only taken to install the result. Types
// registered meanwhile are picked up before the cursor is installed. A nil
// result makes the next listen fail immediately, which spends another
// restart.
func (s *Subscriber) reopen(ctx context.Context, old broker.PubSub) broker.PubSub {
	if old != nil {
		_ = old.Close()
	}

	s.mu.Lock()
	if s.pubsub == old {
		s.pubsub = nil
	}
	client := s.client
	s.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}

	ps, err := s.openCursor(ctx, client)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "failed to reopen subscription cursor",
			logger.Error(err),
		)
		return nil
	}

	var channels []string
	for {
		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			_ = ps.Close()
			return nil
		}
		pending := s.pendingLocked(channels)
		if len(pending) == 0 {
			s.installLocked(ps, channels)
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()

		if err := ps.Subscribe(ctx, pending...); err != nil {
			_ = ps.Close()
			s.logger.LogAttrs(ctx, slog.LevelError, "failed to resubscribe notification channels",
				logger.Channels(pending),
				logger.Error(err),
			)
			return nil
		}
		channels = append(channels, pending...)
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "notification listener resubscribed",
		logger.Channels(channels),
	)
	return ps
}

// openCursor opens a cursor on client, redialing when there is none or it
// refuses. A fresh connection replaces the stale one right away.
func (s *Subscriber) openCursor(ctx context.Context, client broker.Client) (broker.PubSub, error) {
	if client != nil {
		ps, err := client.PubSub(ctx)
		if err == nil {
			return ps, nil
		}
	}

	fresh, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		_ = fresh.Close()
		return nil, err
	}
	stale := s.client
	s.client = fresh
	s.mu.Unlock()
	if stale != nil {
		_ = stale.Close()
	}

	ps, err := fresh.PubSub(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return ps, nil
}

// pendingLocked lists the desired channels missing from done.
func (s *Subscriber) pendingLocked(done []string) []string {
	var out []string
	for _, t := range s.desiredLocked() {
		if !slices.Contains(done, t.Channel()) {
			out = append(out, t.Channel())
		}
	}
	return out
}

// installLocked makes ps the live cursor. Any other cursor left behind is
// closed so only the one the loop reads stays subscribed.
func (s *Subscriber) installLocked(ps broker.PubSub, channels []string) {
	if s.pubsub != nil && s.pubsub != ps {
		_ = s.pubsub.Close()
	}
	s.pubsub = ps
	for _, ch := range channels {
		s.subscribed[Type(ch)] = struct{}{}
	}
	s.recovering = false
}

// markRecovering hands cursor recreation to the supervisor. Until a new
// cursor is installed, subscriptions are only recorded.
func (s *Subscriber) markRecovering() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recovering = true
}

// giveUp releases the connection and marks the subscriber idle, unless a
// Stop already took over this run.
func (s *Subscriber) giveUp(ctx context.Context, done chan struct{}) {
	s.state.Lock()
	owned := s.done == done
	s.state.Unlock()
	if !owned {
		return
	}

	s.teardown(ctx)

	s.state.Lock()
	if s.done == done {
		s.running = false
		if s.cancel != nil {
			s.cancel()
		}
		s.cancel = nil
		s.done = nil
	}
	s.state.Unlock()
}
