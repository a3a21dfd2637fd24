package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchdojo/notifybridge/pkg/broker"
	"github.com/sketchdojo/notifybridge/pkg/notify"
	"github.com/sketchdojo/notifybridge/pkg/redis"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newMemorySubscriber(t *testing.T, dial broker.Dialer, opts ...notify.SubscriberOption) (*notify.Subscriber, *logBuffer) {
	t.Helper()
	log, logs := newTestLogger()
	sub := notify.NewSubscriber(dial, append(fastOptions(log), opts...)...)
	t.Cleanup(func() { stopSubscriber(t, sub) })
	return sub, logs
}

func newMemoryPublisher(t *testing.T, bus *broker.Memory) *notify.Publisher {
	t.Helper()
	log, _ := newTestLogger()
	pub := notify.NewPublisher(bus.Client(), notify.WithPublisherLogger(log))
	t.Cleanup(func() { _ = pub.Close() })
	return pub
}

func TestSubscriber_RoundTripThroughRedis(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	ctx := context.Background()
	cfg := redis.Config{
		ConnectionURL:  "redis://" + srv.Addr() + "/0",
		RetryAttempts:  1,
		ConnectTimeout: time.Second,
	}

	log, _ := newTestLogger()
	sub := notify.NewRedisSubscriber(cfg, fastOptions(log)...)
	t.Cleanup(func() { stopSubscriber(t, sub) })

	received := make(chan notify.Payload, 8)
	for _, typ := range notify.Types() {
		err := sub.RegisterHandler(ctx, typ, func(ctx context.Context, raw json.RawMessage) error {
			p, err := notify.DecodePayload(typ, raw)
			if err != nil {
				return err
			}
			received <- p
			return nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, sub.Start(ctx))

	require.Eventually(t, func() bool {
		subs := srv.PubSubNumSub(notify.TypeTaskFailed.Channel())
		return subs[notify.TypeTaskFailed.Channel()] == 1
	}, waitFor, tick)

	pub, err := notify.NewRedisPublisher(ctx, cfg, notify.WithPublisherLogger(log))
	require.NoError(t, err)
	defer pub.Close()

	webtoonID := "w1"
	sent := []notify.Payload{
		notify.WebtoonUpdated{TaskID: "t1", WebtoonID: "w1", HTMLContent: "<div>panel</div>"},
		notify.TaskProgress{TaskID: "t1", Progress: 42.5, Message: "rendering"},
		notify.TaskCompleted{TaskID: "t1", Result: map[string]any{"panels": float64(4), "title": "Dojo"}, WebtoonID: &webtoonID},
		notify.TaskFailed{TaskID: "t2", Error: "model timeout"},
	}
	for _, p := range sent {
		require.True(t, pub.Send(ctx, p))
	}

	got := make(map[notify.Type]notify.Payload)
	for range sent {
		select {
		case p := <-received:
			got[p.NotificationType()] = p
		case <-time.After(waitFor):
			t.Fatal("notification not delivered")
		}
	}
	for _, p := range sent {
		assert.Equal(t, p, got[p.NotificationType()])
	}

	select {
	case p := <-received:
		t.Fatalf("unexpected extra delivery: %#v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriber_HandlerOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := broker.NewMemory(0)
	defer bus.Close()
	sub, _ := newMemorySubscriber(t, bus.Dialer())

	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(name string, delay time.Duration) notify.Handler {
		return func(ctx context.Context, raw json.RawMessage) error {
			time.Sleep(delay)
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
			return nil
		}
	}

	require.NoError(t, sub.RegisterNamedHandler(ctx, notify.TypeTaskProgress, "h1", record("h1", 20*time.Millisecond)))
	require.NoError(t, sub.RegisterNamedHandler(ctx, notify.TypeTaskProgress, "h2", record("h2", 0)))
	assert.Equal(t, 2, sub.HandlerCount(notify.TypeTaskProgress))
	require.NoError(t, sub.Start(ctx))

	pub := newMemoryPublisher(t, bus)
	require.True(t, pub.Send(ctx, notify.TaskProgress{TaskID: "t1", Progress: 10, Message: "m"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"h1", "h2"}, calls)
}

func TestSubscriber_HandlerFailureIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := broker.NewMemory(0)
	defer bus.Close()

	metrics := newRecordingMetrics()
	sub, logs := newMemorySubscriber(t, bus.Dialer(), notify.WithMetrics(metrics))

	var second atomic.Int32
	require.NoError(t, sub.RegisterNamedHandler(ctx, notify.TypeTaskFailed, "erroring", func(context.Context, json.RawMessage) error {
		return errors.New("handler exploded")
	}))
	require.NoError(t, sub.RegisterNamedHandler(ctx, notify.TypeTaskFailed, "panicking", func(context.Context, json.RawMessage) error {
		panic("handler panicked hard")
	}))
	require.NoError(t, sub.RegisterNamedHandler(ctx, notify.TypeTaskFailed, "counting", func(context.Context, json.RawMessage) error {
		second.Add(1)
		return nil
	}))
	require.NoError(t, sub.Start(ctx))

	pub := newMemoryPublisher(t, bus)
	require.True(t, pub.Send(ctx, notify.TaskFailed{TaskID: "t1", Error: "first"}))
	require.Eventually(t, func() bool { return second.Load() == 1 }, waitFor, tick)

	require.True(t, pub.Send(ctx, notify.TaskFailed{TaskID: "t1", Error: "second"}))
	require.Eventually(t, func() bool { return second.Load() == 2 }, waitFor, tick)

	status := sub.Status()
	assert.True(t, status.Running)
	assert.Equal(t, int64(2), status.Processed)
	assert.Equal(t, int64(4), status.HandlerErrors)
	assert.Equal(t, int64(0), status.Restarts)

	assert.Equal(t, 4, logs.Count("notification handler failed"))
	assert.Contains(t, logs.String(), `"handler":"erroring"`)
	assert.Contains(t, logs.String(), "handler panicked hard")

	assert.Eventually(t, func() bool { return metrics.snapshot().durations == 6 }, waitFor, tick)
	snap := metrics.snapshot()
	assert.Equal(t, 4, snap.handlerFailed)
	assert.Equal(t, 2, snap.received[notify.TypeTaskFailed])
}

func TestSubscriber_HandlersGetPrivatePayloadCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := broker.NewMemory(0)
	defer bus.Close()
	sub, _ := newMemorySubscriber(t, bus.Dialer())

	seen := make(chan string, 1)
	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskFailed, func(_ context.Context, raw json.RawMessage) error {
		for i := range raw {
			raw[i] = 'x'
		}
		return nil
	}))
	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskFailed, func(_ context.Context, raw json.RawMessage) error {
		seen <- string(raw)
		return nil
	}))
	require.NoError(t, sub.Start(ctx))

	require.True(t, newMemoryPublisher(t, bus).Send(ctx, notify.TaskFailed{TaskID: "t1", Error: "e"}))

	select {
	case raw := <-seen:
		assert.JSONEq(t, `{"task_id":"t1","error":"e"}`, raw)
	case <-time.After(waitFor):
		t.Fatal("second handler not invoked")
	}
}

func TestSubscriber_AutoSubscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := broker.NewMemory(0)
	defer bus.Close()
	sub, _ := newMemorySubscriber(t, bus.Dialer())

	assert.Empty(t, sub.Subscriptions())

	delivered := make(chan json.RawMessage, 1)
	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeWebtoonUpdated, func(_ context.Context, raw json.RawMessage) error {
		delivered <- raw
		return nil
	}))

	assert.Equal(t, []string{"sketchdojo:webtoon_updated"}, sub.Subscriptions())
	assert.Equal(t, 1, bus.SubscriberCount(notify.TypeWebtoonUpdated.Channel()))

	require.NoError(t, sub.Start(ctx))
	require.True(t, newMemoryPublisher(t, bus).Send(ctx,
		notify.WebtoonUpdated{TaskID: "t1", WebtoonID: "w1", HTMLContent: "<p/>"}))

	select {
	case raw := <-delivered:
		p, err := notify.Decode[notify.WebtoonUpdated](raw)
		require.NoError(t, err)
		assert.Equal(t, "w1", p.WebtoonID)
	case <-time.After(waitFor):
		t.Fatal("auto-subscribed type not delivered")
	}
}

func TestSubscriber_Subscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := broker.NewMemory(0)
	defer bus.Close()
	sub, _ := newMemorySubscriber(t, bus.Dialer())

	require.NoError(t, sub.Subscribe(ctx, notify.TypeTaskFailed, notify.TypeTaskProgress))
	require.NoError(t, sub.Subscribe(ctx, notify.TypeTaskFailed))
	assert.Equal(t, []string{"sketchdojo:task_failed", "sketchdojo:task_progress"}, sub.Subscriptions())
	assert.Equal(t, 1, bus.SubscriberCount(notify.TypeTaskFailed.Channel()))

	err := sub.Subscribe(ctx, notify.TypeTaskCompleted, "sketchdojo:bogus")
	require.ErrorIs(t, err, notify.ErrUnknownType)
	assert.Len(t, sub.Subscriptions(), 2, "a bad type rejects the whole call")
}

func TestSubscriber_RegisterValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := broker.NewMemory(0)
	defer bus.Close()
	sub, _ := newMemorySubscriber(t, bus.Dialer())

	err := sub.RegisterHandler(ctx, "sketchdojo:bogus", func(context.Context, json.RawMessage) error { return nil })
	assert.ErrorIs(t, err, notify.ErrUnknownType)

	err = sub.RegisterHandler(ctx, notify.TypeTaskFailed, nil)
	assert.ErrorIs(t, err, notify.ErrNilHandler)

	assert.Zero(t, sub.HandlerCount(notify.TypeTaskFailed))
	assert.Empty(t, sub.Subscriptions())
}

func TestSubscriber_RegisterKeepsHandlerWhenBrokerDown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := broker.NewMemory(0)
	require.NoError(t, bus.Close())
	sub, _ := newMemorySubscriber(t, bus.Dialer())

	err := sub.RegisterHandler(ctx, notify.TypeTaskFailed, func(context.Context, json.RawMessage) error { return nil })
	require.ErrorIs(t, err, notify.ErrConnect)
	assert.Equal(t, 1, sub.HandlerCount(notify.TypeTaskFailed))

	err = sub.Start(ctx)
	require.ErrorIs(t, err, notify.ErrConnect)
	assert.False(t, sub.Running())
}

func TestSubscriber_StopStartPreservesHandlers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := broker.NewMemory(0)
	defer bus.Close()
	sub, _ := newMemorySubscriber(t, bus.Dialer())
	pub := newMemoryPublisher(t, bus)

	var calls atomic.Int32
	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskCompleted, func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return nil
	}))

	require.NoError(t, sub.Start(ctx))
	require.True(t, pub.Send(ctx, notify.TaskCompleted{TaskID: "t1", Result: map[string]any{}}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)

	require.NoError(t, sub.Stop(ctx))
	assert.False(t, sub.Running())
	assert.Empty(t, sub.Subscriptions())
	assert.Zero(t, bus.SubscriberCount(notify.TypeTaskCompleted.Channel()))
	assert.Equal(t, 1, sub.HandlerCount(notify.TypeTaskCompleted))

	require.NoError(t, sub.Start(ctx))
	assert.Equal(t, []string{"sketchdojo:task_completed"}, sub.Subscriptions())
	require.True(t, pub.Send(ctx, notify.TaskCompleted{TaskID: "t2", Result: map[string]any{}}))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, tick)
}

func TestSubscriber_RedundantStartStop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := broker.NewMemory(0)
	defer bus.Close()
	sub, logs := newMemorySubscriber(t, bus.Dialer())

	require.NoError(t, sub.Stop(ctx))
	assert.Equal(t, 1, logs.Count("notification subscriber is not running"))

	var calls atomic.Int32
	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskFailed, func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return nil
	}))

	require.NoError(t, sub.Start(ctx))
	require.NoError(t, sub.Start(ctx))
	assert.Equal(t, 1, logs.Count("notification subscriber already running"))
	assert.Equal(t, 1, logs.Count("notification subscriber started"))
	assert.Equal(t, 1, bus.SubscriberCount(notify.TypeTaskFailed.Channel()))

	require.True(t, newMemoryPublisher(t, bus).Send(ctx, notify.TaskFailed{TaskID: "t1", Error: "e"}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "one loop, one delivery")

	require.NoError(t, sub.Stop(ctx))
	require.NoError(t, sub.Stop(ctx))
	assert.Equal(t, 2, logs.Count("notification subscriber is not running"))
}

func TestSubscriber_NoHandlerDropsWithWarning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := broker.NewMemory(0)
	defer bus.Close()

	metrics := newRecordingMetrics()
	sub, logs := newMemorySubscriber(t, bus.Dialer(), notify.WithMetrics(metrics))

	require.NoError(t, sub.Subscribe(ctx, notify.TypeTaskProgress))
	require.NoError(t, sub.Start(ctx))

	require.True(t, newMemoryPublisher(t, bus).Send(ctx,
		notify.TaskProgress{TaskID: "t1", Progress: 42.5, Message: "rendering"}))

	require.Eventually(t, func() bool { return sub.Status().Dropped == 1 }, waitFor, tick)
	assert.Equal(t, 1, logs.Count("no handlers registered for notification type"))
	assert.Equal(t, 1, metrics.snapshot().dropped[notify.DropNoHandler])
	assert.True(t, sub.Running())
}

func TestSubscriber_MalformedMessageIsDropped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := broker.NewMemory(0)
	defer bus.Close()

	metrics := newRecordingMetrics()
	sub, logs := newMemorySubscriber(t, bus.Dialer(), notify.WithMetrics(metrics))

	var calls atomic.Int32
	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskFailed, func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, sub.Start(ctx))

	raw := bus.Client()
	defer raw.Close()
	_, err := raw.Publish(ctx, notify.TypeTaskFailed.Channel(), []byte(`{"type":`))
	require.NoError(t, err)

	require.True(t, newMemoryPublisher(t, bus).Send(ctx, notify.TaskFailed{TaskID: "t1", Error: "e"}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)

	assert.Equal(t, 1, logs.Count("dropping malformed notification"))
	assert.Equal(t, 1, metrics.snapshot().dropped[notify.DropMalformed])
	assert.Equal(t, int64(0), sub.Status().Restarts)
}

func TestSubscriber_RestartsAfterListenerFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := newFlakyBus(1)
	defer bus.Close()

	metrics := newRecordingMetrics()
	sub, logs := newMemorySubscriber(t, bus.Dialer(), notify.WithMetrics(metrics))

	var calls atomic.Int32
	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskProgress, func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, sub.Start(ctx))

	require.Eventually(t, func() bool { return sub.Status().Restarts == 1 }, waitFor, tick)

	pub := newMemoryPublisher(t, bus.Memory)
	require.Eventually(t, func() bool {
		pub.Send(ctx, notify.TaskProgress{TaskID: "t1", Progress: 50, Message: "after restart"})
		return calls.Load() > 0
	}, waitFor, 25*time.Millisecond)

	status := sub.Status()
	assert.True(t, status.Running)
	assert.Equal(t, int64(1), status.Restarts)
	assert.Equal(t, []string{"sketchdojo:task_progress"}, status.Subscriptions)
	assert.Equal(t, 1, logs.Count("notification listener exited unexpectedly"))
	assert.Equal(t, 1, logs.Count("restarting notification listener"))
	assert.Equal(t, 1, metrics.snapshot().restarts)
	assert.Equal(t, int32(1), bus.dials.Load(), "the connection is reused for the new cursor")
	assert.Equal(t, 1, bus.SubscriberCount(notify.TypeTaskProgress.Channel()))
}

func TestSubscriber_GivesUpAfterRestartBudget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := newFlakyBus(1000)
	defer bus.Close()
	sub, logs := newMemorySubscriber(t, bus.Dialer(), notify.WithMaxRestarts(2))

	var calls atomic.Int32
	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskFailed, func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, sub.Start(ctx))

	require.Eventually(t, func() bool { return !sub.Running() }, waitFor, tick)
	assert.Equal(t, int64(2), sub.Status().Restarts)
	assert.Equal(t, 1, logs.Count("restart budget exhausted"))
	assert.Empty(t, sub.Subscriptions())
	assert.Zero(t, bus.SubscriberCount(notify.TypeTaskFailed.Channel()))

	require.NoError(t, sub.Stop(ctx))
	assert.Equal(t, 1, logs.Count("notification subscriber is not running"))

	bus.failures.Store(0)
	require.NoError(t, sub.Start(ctx))
	require.True(t, newMemoryPublisher(t, bus.Memory).Send(ctx, notify.TaskFailed{TaskID: "t1", Error: "e"}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
}

func TestSubscriber_QueriesDoNotWaitForRedial(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := newFlakyBus(0)
	defer bus.Close()
	sub, _ := newMemorySubscriber(t, bus.Dialer())

	var progress, failed atomic.Int32
	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskProgress, func(context.Context, json.RawMessage) error {
		progress.Add(1)
		return nil
	}))
	require.NoError(t, sub.Start(ctx))
	require.Equal(t, int32(1), bus.dials.Load())

	bus.dialDelay.Store(int64(time.Second))
	bus.refusals.Store(1)
	bus.failures.Store(1)

	require.Eventually(t, func() bool { return bus.dials.Load() == 2 }, waitFor, tick)

	start := time.Now()
	status := sub.Status()
	_ = sub.Subscriptions()
	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskFailed, func(context.Context, json.RawMessage) error {
		failed.Add(1)
		return nil
	}))
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.True(t, status.Running)

	pub := newMemoryPublisher(t, bus.Memory)
	require.Eventually(t, func() bool {
		pub.Send(ctx, notify.TaskProgress{TaskID: "t1", Progress: 10, Message: "m"})
		pub.Send(ctx, notify.TaskFailed{TaskID: "t1", Error: "e"})
		return progress.Load() > 0 && failed.Load() > 0
	}, 3*time.Second, 25*time.Millisecond)

	assert.Equal(t, 1, bus.SubscriberCount(notify.TypeTaskProgress.Channel()))
	assert.Equal(t, 1, bus.SubscriberCount(notify.TypeTaskFailed.Channel()))
}

func TestSubscriber_RegisterDuringFailedRecoveryLeavesOneCursor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := newFlakyBus(0)
	defer bus.Close()
	sub, logs := newMemorySubscriber(t, bus.Dialer(),
		notify.WithRestartDelay(200*time.Millisecond),
		notify.WithMaxRestartDelay(time.Second),
	)

	var failed atomic.Int32
	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskProgress, func(context.Context, json.RawMessage) error {
		return nil
	}))
	require.NoError(t, sub.Start(ctx))

	// The first reopen is refused on both the old and the redialed connection.
	bus.refusals.Store(2)
	bus.failures.Store(1)
	require.Eventually(t, func() bool {
		return logs.Count("notification listener exited unexpectedly") == 1
	}, waitFor, tick)

	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskFailed, func(context.Context, json.RawMessage) error {
		failed.Add(1)
		return nil
	}))

	require.Eventually(t, func() bool {
		return logs.Count("notification listener resubscribed") == 1
	}, 3*time.Second, tick)
	assert.Equal(t, 1, logs.Count("failed to reopen subscription cursor"))

	assert.Equal(t, 1, bus.SubscriberCount(notify.TypeTaskProgress.Channel()))
	assert.Equal(t, 1, bus.SubscriberCount(notify.TypeTaskFailed.Channel()))

	pub := newMemoryPublisher(t, bus.Memory)
	assert.True(t, pub.Send(ctx, notify.TaskFailed{TaskID: "t1", Error: "e"}))
	require.Eventually(t, func() bool { return failed.Load() == 1 }, waitFor, tick)
	assert.Equal(t, []string{"sketchdojo:task_failed", "sketchdojo:task_progress"}, sub.Subscriptions())
}

func TestSubscriber_StopTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := broker.NewMemory(0)
	defer bus.Close()
	sub, _ := newMemorySubscriber(t, bus.Dialer())

	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskFailed, func(context.Context, json.RawMessage) error {
		close(entered)
		<-release
		return nil
	}))
	require.NoError(t, sub.Start(ctx))
	require.True(t, newMemoryPublisher(t, bus).Send(ctx, notify.TaskFailed{TaskID: "t1", Error: "e"}))

	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("handler not invoked")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := sub.Stop(stopCtx)
	close(release)

	require.ErrorIs(t, err, notify.ErrStopTimeout)
	assert.False(t, sub.Running())
	assert.Zero(t, bus.SubscriberCount(notify.TypeTaskFailed.Channel()))
}

func TestSubscriber_ConcurrentRegistration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := broker.NewMemory(0)
	defer bus.Close()
	sub, _ := newMemorySubscriber(t, bus.Dialer())
	pub := newMemoryPublisher(t, bus)

	var calls atomic.Int32
	handler := func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return nil
	}
	require.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskProgress, handler))
	require.NoError(t, sub.Start(ctx))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				assert.NoError(t, sub.RegisterHandler(ctx, notify.TypeTaskProgress, handler))
				pub.Send(ctx, notify.TaskProgress{TaskID: "t1", Progress: 1, Message: "m"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 41, sub.HandlerCount(notify.TypeTaskProgress))
	assert.Eventually(t, func() bool { return sub.Status().Processed == 40 }, waitFor, tick)
	assert.Positive(t, calls.Load())
}
