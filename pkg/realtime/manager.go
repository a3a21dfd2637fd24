package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sketchdojo/notifybridge/pkg/broadcast"
	"github.com/sketchdojo/notifybridge/pkg/logger"
)

// Stats summarizes the connections a Manager holds.
type Stats struct {
	ActiveConnections    int `json:"active_connections"`
	TaskSubscriptions    int `json:"task_subscriptions"`
	WebtoonSubscriptions int `json:"webtoon_subscriptions"`
	TotalSubscriptions   int `json:"total_subscriptions"`
}

// update is one encoded message on a hub channel. taskID names the task it
// was broadcast for, so a client following both the task and its webtoon
// gets it once.
type update struct {
	taskID string
	body   []byte
}

// Manager tracks live clients and the tasks and webtoons they follow, and
// delivers updates to them. Each task and each webtoon is a channel of an
// in-process broadcast hub.
type Manager struct {
	hub        *broadcast.Hub[update]
	logger     *slog.Logger
	bufferSize int
	now        func() time.Time

	mu       sync.RWMutex
	clients  map[string]*Client
	tasks    map[string]map[string]struct{}
	webtoons map[string]map[string]struct{}
	closed   bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	logger     *slog.Logger
	bufferSize int
	hub        broadcast.HubConfig
	now        func() time.Time
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(c *managerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClientBuffer sets how many outbound messages a client may have queued.
func WithClientBuffer(n int) ManagerOption {
	return func(c *managerConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithHubConfig configures the task fan-out hub.
func WithHubConfig(cfg broadcast.HubConfig) ManagerOption {
	return func(c *managerConfig) { c.hub = cfg }
}

// WithClock overrides the source of message timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(c *managerConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func NewManager(opts ...ManagerOption) *Manager {
	cfg := managerConfig{
		logger:     slog.Default(),
		bufferSize: 64,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		hub:        broadcast.NewHub[update](cfg.hub),
		logger:     cfg.logger.With(logger.Component("realtime")),
		bufferSize: cfg.bufferSize,
		now:        cfg.now,
		clients:    make(map[string]*Client),
		tasks:      make(map[string]map[string]struct{}),
		webtoons:   make(map[string]map[string]struct{}),
	}
}

// Connect registers a new client. The client lives until Disconnect, Close,
// or cancellation of ctx.
func (m *Manager) Connect(ctx context.Context) (*Client, error) {
	c := newClient(ctx, uuid.New().String(), m.bufferSize)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.cancel()
		return nil, ErrManagerClosed
	}
	m.clients[c.id] = c
	m.mu.Unlock()

	go func() {
		<-c.ctx.Done()
		m.Disconnect(c.id)
	}()

	m.logger.LogAttrs(ctx, slog.LevelInfo, "client connected", logger.ClientID(c.id))
	return c, nil
}

// Disconnect drops the client and all its task subscriptions. Unknown ids are ignored.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	c, ok := m.clients[clientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.clients, clientID)
	for channel := range c.subs {
		m.forgetLocked(channel, clientID)
	}
	subs := c.subs
	c.subs = make(map[string]*broadcast.Subscription[update])
	m.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	c.cancel()

	m.logger.LogAttrs(context.Background(), slog.LevelInfo, "client disconnected", logger.ClientID(clientID))
}

// DisconnectAll drops every client.
func (m *Manager) DisconnectAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
}

// Close disconnects every client and refuses new ones.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.DisconnectAll()
	return m.hub.Close()
}

// Client returns a connected client by id.
func (m *Manager) Client(clientID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[clientID]
	return c, ok
}

// SubscribeTask makes the client receive updates of taskID and confirms it
// with a subscription_confirmed message. Subscribing twice is harmless.
func (m *Manager) SubscribeTask(ctx context.Context, clientID, taskID string) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}
	c, err := m.follow(clientID, taskChannel(taskID))
	if err != nil {
		return err
	}

	m.logger.LogAttrs(ctx, slog.LevelDebug, "client subscribed to task",
		logger.ClientID(clientID),
		logger.TaskID(taskID),
	)
	return m.send(c, resourceAck{
		Type:         MessageSubscriptionConfirmed,
		ResourceType: ResourceTask,
		ResourceID:   taskID,
		TaskID:       taskID,
	})
}

// SubscribeWebtoon makes the client receive the rendered HTML of webtoonID
// whichever task produces it, and confirms with a subscription_confirmed
// message.
func (m *Manager) SubscribeWebtoon(ctx context.Context, clientID, webtoonID string) error {
	if webtoonID == "" {
		return ErrEmptyWebtoonID
	}
	c, err := m.follow(clientID, webtoonChannel(webtoonID))
	if err != nil {
		return err
	}

	m.logger.LogAttrs(ctx, slog.LevelDebug, "client subscribed to webtoon",
		logger.ClientID(clientID),
		logger.WebtoonID(webtoonID),
	)
	return m.send(c, resourceAck{
		Type:         MessageSubscriptionConfirmed,
		ResourceType: ResourceWebtoon,
		ResourceID:   webtoonID,
		WebtoonID:    webtoonID,
	})
}

// UnsubscribeTask stops delivering updates of taskID to the client.
func (m *Manager) UnsubscribeTask(ctx context.Context, clientID, taskID string) error {
	if err := m.unfollow(clientID, taskChannel(taskID)); err != nil {
		return err
	}
	m.logger.LogAttrs(ctx, slog.LevelDebug, "client unsubscribed from task",
		logger.ClientID(clientID),
		logger.TaskID(taskID),
	)
	return nil
}

// UnsubscribeWebtoon stops delivering updates of webtoonID to the client.
func (m *Manager) UnsubscribeWebtoon(ctx context.Context, clientID, webtoonID string) error {
	if err := m.unfollow(clientID, webtoonChannel(webtoonID)); err != nil {
		return err
	}
	m.logger.LogAttrs(ctx, slog.LevelDebug, "client unsubscribed from webtoon",
		logger.ClientID(clientID),
		logger.WebtoonID(webtoonID),
	)
	return nil
}

// Subscriptions returns the task ids the client follows, sorted.
func (m *Manager) Subscriptions(clientID string) []string {
	return m.following(clientID, taskPrefix)
}

// WebtoonSubscriptions returns the webtoon ids the client follows, sorted.
func (m *Manager) WebtoonSubscriptions(clientID string) []string {
	return m.following(clientID, webtoonPrefix)
}

func (m *Manager) follow(clientID, channel string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	if _, subscribed := c.subs[channel]; subscribed {
		return c, nil
	}

	sub, err := m.hub.Subscribe(c.ctx, channel, broadcast.WithBufferSize(m.bufferSize))
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}
	c.subs[channel] = sub

	index, id := m.indexFor(channel)
	clients, ok := index[id]
	if !ok {
		clients = make(map[string]struct{})
		index[id] = clients
	}
	clients[clientID] = struct{}{}

	go m.forward(c, sub, strings.HasPrefix(channel, webtoonPrefix))
	return c, nil
}

func (m *Manager) unfollow(clientID, channel string) error {
	m.mu.Lock()
	c, ok := m.clients[clientID]
	if !ok {
		m.mu.Unlock()
		return ErrClientNotFound
	}
	sub := c.subs[channel]
	delete(c.subs, channel)
	m.forgetLocked(channel, clientID)
	m.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	return nil
}

func (m *Manager) following(clientID, prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[clientID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.subs))
	for channel := range c.subs {
		if id, ok := strings.CutPrefix(channel, prefix); ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// SendPersonal encodes msg as JSON and queues it for one client.
func (m *Manager) SendPersonal(clientID string, msg any) error {
	c, ok := m.Client(clientID)
	if !ok {
		return ErrClientNotFound
	}
	return m.send(c, msg)
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		ActiveConnections:    len(m.clients),
		TaskSubscriptions:    len(m.tasks),
		WebtoonSubscriptions: len(m.webtoons),
	}
	for _, clients := range m.tasks {
		s.TotalSubscriptions += len(clients)
	}
	for _, clients := range m.webtoons {
		s.TotalSubscriptions += len(clients)
	}
	return s
}

// BroadcastProgress sends a task_update with the task's progress.
func (m *Manager) BroadcastProgress(ctx context.Context, taskID string, progress float64, message string) error {
	return m.publish(ctx, taskID, progressUpdate{
		Type:               MessageTaskUpdate,
		TaskID:             taskID,
		ProgressPercentage: progress,
		CurrentOperation:   message,
		Timestamp:          timestamp(m.now()),
	})
}

// BroadcastWebtoonUpdated sends the rendered webtoon HTML to the clients
// following taskID and to those following webtoonID. A client following
// both receives it once.
func (m *Manager) BroadcastWebtoonUpdated(ctx context.Context, webtoonID, htmlContent, taskID string) error {
	msg := webtoonUpdate{
		Type:        MessageWebtoonUpdated,
		TaskID:      taskID,
		WebtoonID:   webtoonID,
		HTMLContent: htmlContent,
		Timestamp:   timestamp(m.now()),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webtoon update: %w", err)
	}
	u := update{taskID: taskID, body: body}
	if err := m.fanout(ctx, taskChannel(taskID), u); err != nil {
		return err
	}
	if webtoonID == "" {
		return nil
	}
	return m.fanout(ctx, webtoonChannel(webtoonID), u)
}

// BroadcastCompleted sends a completed task_update.
func (m *Manager) BroadcastCompleted(ctx context.Context, taskID string, result map[string]any, webtoonID *string) error {
	return m.publish(ctx, taskID, completedUpdate{
		Type:       MessageTaskUpdate,
		TaskID:     taskID,
		Status:     StatusCompleted,
		WebtoonID:  webtoonID,
		ResultData: result,
		Timestamp:  timestamp(m.now()),
	})
}

// BroadcastFailed sends a failed task_update.
func (m *Manager) BroadcastFailed(ctx context.Context, taskID, errMsg string) error {
	return m.publish(ctx, taskID, failedUpdate{
		Type:         MessageTaskUpdate,
		TaskID:       taskID,
		Status:       StatusFailed,
		ErrorMessage: errMsg,
		Timestamp:    timestamp(m.now()),
	})
}

func (m *Manager) publish(ctx context.Context, taskID string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode task update: %w", err)
	}
	return m.fanout(ctx, taskChannel(taskID), update{taskID: taskID, body: body})
}

func (m *Manager) fanout(ctx context.Context, channel string, u update) error {
	n, err := m.hub.Publish(ctx, channel, u)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	m.logger.LogAttrs(ctx, slog.LevelDebug, "update broadcast",
		logger.Channel(channel),
		logger.Receivers(int64(n)),
	)
	return nil
}

// forward copies hub messages of one subscription into the client's queue
// until the subscription ends. On a webtoon subscription, updates of a task
// the client also follows are skipped; the task subscription delivers them.
// A client that cannot keep up is disconnected.
func (m *Manager) forward(c *Client, sub *broadcast.Subscription[update], webtoon bool) {
	for msg := range sub.Messages() {
		if webtoon && m.followsTask(c, msg.Payload.taskID) {
			continue
		}
		if err := c.enqueue(msg.Payload.body); err != nil {
			m.logger.LogAttrs(context.Background(), slog.LevelWarn, "dropping slow client",
				logger.ClientID(c.id),
				logger.Error(err),
			)
			go m.Disconnect(c.id)
			return
		}
	}
}

func (m *Manager) followsTask(c *Client, taskID string) bool {
	if taskID == "" {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := c.subs[taskChannel(taskID)]
	return ok
}

func (m *Manager) send(c *Client, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.enqueue(body)
}

// indexFor maps a hub channel to its follower index and resource id.
func (m *Manager) indexFor(channel string) (map[string]map[string]struct{}, string) {
	if id, ok := strings.CutPrefix(channel, webtoonPrefix); ok {
		return m.webtoons, id
	}
	return m.tasks, strings.TrimPrefix(channel, taskPrefix)
}

func (m *Manager) forgetLocked(channel, clientID string) {
	index, id := m.indexFor(channel)
	clients, ok := index[id]
	if !ok {
		return
	}
	delete(clients, clientID)
	if len(clients) == 0 {
		delete(index, id)
	}
}

const (
	taskPrefix    = "task:"
	webtoonPrefix = "webtoon:"
)

func taskChannel(taskID string) string {
	return taskPrefix + taskID
}

func webtoonChannel(webtoonID string) string {
	return webtoonPrefix + webtoonID
}
