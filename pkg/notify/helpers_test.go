package notify_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sketchdojo/notifybridge/pkg/broker"
	"github.com/sketchdojo/notifybridge/pkg/notify"
)

// logBuffer collects log output written from several goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Count returns the number of log lines containing msg.
func (b *logBuffer) Count(msg string) int {
	n := 0
	for _, line := range strings.Split(b.String(), "\n") {
		if strings.Contains(line, msg) {
			n++
		}
	}
	return n
}

func newTestLogger() (*slog.Logger, *logBuffer) {
	buf := &logBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

var (
	errInjected = errors.New("injected receive failure")
	errRefused  = errors.New("injected cursor refusal")
)

// flakyBus hands out memory clients whose cursors fail Receive while the
// failure budget lasts. Clients refuse new cursors while the refusal budget
// lasts, and every dial waits dialDelay first.
type flakyBus struct {
	*broker.Memory
	failures  atomic.Int32
	refusals  atomic.Int32
	dials     atomic.Int32
	dialDelay atomic.Int64
}

func newFlakyBus(failures int32) *flakyBus {
	b := &flakyBus{Memory: broker.NewMemory(0)}
	b.failures.Store(failures)
	return b
}

func (b *flakyBus) Dialer() broker.Dialer {
	return func(ctx context.Context) (broker.Client, error) {
		b.dials.Add(1)
		if d := time.Duration(b.dialDelay.Load()); d > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d):
			}
		}
		c, err := b.Memory.Dialer()(ctx)
		if err != nil {
			return nil, err
		}
		return &flakyClient{Client: c, bus: b}, nil
	}
}

type flakyClient struct {
	broker.Client
	bus *flakyBus
}

func (c *flakyClient) PubSub(ctx context.Context) (broker.PubSub, error) {
	if c.bus.refusals.Add(-1) >= 0 {
		return nil, errRefused
	}
	ps, err := c.Client.PubSub(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyPubSub{PubSub: ps, bus: c.bus}, nil
}

type flakyPubSub struct {
	broker.PubSub
	bus *flakyBus
}

func (p *flakyPubSub) Receive(ctx context.Context, timeout time.Duration) (*broker.Message, error) {
	if p.bus.failures.Add(-1) >= 0 {
		return nil, errInjected
	}
	return p.PubSub.Receive(ctx, timeout)
}

// recordingMetrics counts the calls notify makes.
type recordingMetrics struct {
	mu            sync.Mutex
	published     map[notify.Type]int64
	publishFailed int
	received      map[notify.Type]int
	dropped       map[string]int
	handlerFailed int
	durations     int
	restarts      int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		published: make(map[notify.Type]int64),
		received:  make(map[notify.Type]int),
		dropped:   make(map[string]int),
	}
}

func (m *recordingMetrics) Published(t notify.Type, receivers int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[t] += receivers
}

func (m *recordingMetrics) PublishFailed(notify.Type) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishFailed++
}

func (m *recordingMetrics) Received(t notify.Type) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received[t]++
}

func (m *recordingMetrics) Dropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

func (m *recordingMetrics) HandlerFailed(notify.Type) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlerFailed++
}

func (m *recordingMetrics) HandlerDuration(notify.Type, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations++
}

func (m *recordingMetrics) ListenerRestarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts++
}

type metricsSnapshot struct {
	published     map[notify.Type]int64
	publishFailed int
	received      map[notify.Type]int
	dropped       map[string]int
	handlerFailed int
	durations     int
	restarts      int
}

func (m *recordingMetrics) snapshot() metricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return metricsSnapshot{
		publishFailed: m.publishFailed,
		handlerFailed: m.handlerFailed,
		durations:     m.durations,
		restarts:      m.restarts,
		dropped:       copyMap(m.dropped),
		received:      copyMap(m.received),
		published:     copyMap(m.published),
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// fastOptions keeps test subscribers responsive.
func fastOptions(log *slog.Logger) []notify.SubscriberOption {
	return []notify.SubscriberOption{
		notify.WithLogger(log),
		notify.WithPollTimeout(20 * time.Millisecond),
		notify.WithIdleSleep(time.Millisecond),
		notify.WithRestartDelay(20 * time.Millisecond),
		notify.WithMaxRestartDelay(100 * time.Millisecond),
	}
}

func stopSubscriber(t *testing.T, s *notify.Subscriber) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.Stop(ctx)
}
