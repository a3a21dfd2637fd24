package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sketchdojo/notifybridge/pkg/logger"
	"github.com/sketchdojo/notifybridge/pkg/notify"
)

// Broadcaster is the delivery tier: it forwards notifications to the live
// client connections interested in a task.
type Broadcaster interface {
	BroadcastProgress(ctx context.Context, taskID string, progress float64, message string) error
	BroadcastWebtoonUpdated(ctx context.Context, webtoonID, htmlContent, taskID string) error
	BroadcastCompleted(ctx context.Context, taskID string, result map[string]any, webtoonID *string) error
	BroadcastFailed(ctx context.Context, taskID, errMsg string) error
}

// Registrar accepts named notification handlers. *notify.Subscriber implements it.
type Registrar interface {
	RegisterNamedHandler(ctx context.Context, t notify.Type, name string, h notify.Handler) error
}

// Bridge turns notification payloads into Broadcaster calls.
type Bridge struct {
	broadcaster Broadcaster
	logger      *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

func New(broadcaster Broadcaster, opts ...Option) *Bridge {
	b := &Bridge{
		broadcaster: broadcaster,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(logger.Component("bridge"))
	return b
}

// Register binds exactly one handler per notification type.
func (b *Bridge) Register(ctx context.Context, r Registrar) error {
	handlers := map[notify.Type]notify.Handler{
		notify.TypeTaskProgress:   b.HandleTaskProgress,
		notify.TypeWebtoonUpdated: b.HandleWebtoonUpdated,
		notify.TypeTaskCompleted:  b.HandleTaskCompleted,
		notify.TypeTaskFailed:     b.HandleTaskFailed,
	}

	var errs []error
	for _, t := range notify.Types() {
		if err := r.RegisterNamedHandler(ctx, t, "bridge."+t.String(), handlers[t]); err != nil {
			errs = append(errs, fmt.Errorf("register %s handler: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) HandleTaskProgress(ctx context.Context, raw json.RawMessage) error {
	p, ok := decode[notify.TaskProgress](ctx, b.logger, raw)
	if !ok {
		return nil
	}
	if err := b.broadcaster.BroadcastProgress(ctx, p.TaskID, p.Progress, p.Message); err != nil {
		return fmt.Errorf("broadcast task progress: %w", err)
	}
	return nil
}

func (b *Bridge) HandleWebtoonUpdated(ctx context.Context, raw json.RawMessage) error {
	p, ok := decode[notify.WebtoonUpdated](ctx, b.logger, raw)
	if !ok {
		return nil
	}
	if err := b.broadcaster.BroadcastWebtoonUpdated(ctx, p.WebtoonID, p.HTMLContent, p.TaskID); err != nil {
		return fmt.Errorf("broadcast webtoon update: %w", err)
	}
	return nil
}

func (b *Bridge) HandleTaskCompleted(ctx context.Context, raw json.RawMessage) error {
	p, ok := decode[notify.TaskCompleted](ctx, b.logger, raw)
	if !ok {
		return nil
	}
	if err := b.broadcaster.BroadcastCompleted(ctx, p.TaskID, p.Result, p.WebtoonID); err != nil {
		return fmt.Errorf("broadcast task completion: %w", err)
	}
	return nil
}

func (b *Bridge) HandleTaskFailed(ctx context.Context, raw json.RawMessage) error {
	p, ok := decode[notify.TaskFailed](ctx, b.logger, raw)
	if !ok {
		return nil
	}
	if err := b.broadcaster.BroadcastFailed(ctx, p.TaskID, p.Error); err != nil {
		return fmt.Errorf("broadcast task failure: %w", err)
	}
	return nil
}

// decode validates raw and logs why it was rejected. Invalid payloads are
// not handler failures: they are reported here and skipped.
func decode[P notify.Payload](ctx context.Context, l *slog.Logger, raw json.RawMessage) (P, bool) {
	p, err := notify.Decode[P](raw)
	if err == nil {
		return p, true
	}

	t := p.NotificationType()
	var missing *notify.MissingFieldError
	if errors.As(err, &missing) {
		l.LogAttrs(ctx, slog.LevelError, "notification payload is missing a required field",
			logger.NotificationType(t.String()),
			logger.Field(missing.Field),
		)
		return p, false
	}

	l.LogAttrs(ctx, slog.LevelError, "invalid notification payload",
		logger.NotificationType(t.String()),
		logger.Error(err),
	)
	return p, false
}
