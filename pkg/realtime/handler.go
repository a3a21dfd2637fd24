package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sketchdojo/notifybridge/pkg/logger"
)

const welcomeMessage = "Connected to SketchDojo WebSocket"

// Handler serves the realtime WebSocket endpoint on top of a Manager.
type Handler struct {
	manager      *Manager
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	writeWait    time.Duration
	pongWait     time.Duration
	pingInterval time.Duration
	readLimit    int64
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithCheckOrigin sets the origin policy of the upgrader. All origins are accepted by default.
func WithCheckOrigin(fn func(r *http.Request) bool) HandlerOption {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// WithKeepalive sets the protocol ping interval. The read deadline is
// extended to pingInterval*3/2 by every pong.
func WithKeepalive(pingInterval time.Duration) HandlerOption {
	return func(h *Handler) {
		if pingInterval > 0 {
			h.pingInterval = pingInterval
			h.pongWait = pingInterval * 3 / 2
		}
	}
}

func NewHandler(m *Manager, opts ...HandlerOption) *Handler {
	h := &Handler{
		manager: m,
		logger:  slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		writeWait:    10 * time.Second,
		pongWait:     60 * time.Second,
		pingInterval: 40 * time.Second,
		readLimit:    64 << 10,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(logger.Component("realtime.ws"))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.LogAttrs(r.Context(), slog.LevelWarn, "websocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	client, err := h.manager.Connect(context.WithoutCancel(r.Context()))
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(h.writeWait))
		return
	}

	_ = h.manager.send(client, connectionEstablished{
		Type:     MessageConnectionEstablished,
		ClientID: client.ID(),
		Message:  welcomeMessage,
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, client)
	}()

	h.readLoop(r.Context(), conn, client)
	h.manager.Disconnect(client.ID())
	<-writerDone
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	conn.SetReadLimit(h.readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.LogAttrs(ctx, slog.LevelWarn, "websocket read failed",
					logger.ClientID(client.ID()),
					logger.Error(err),
				)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))

		if err := h.handleMessage(ctx, client, data); err != nil {
			if errors.Is(err, ErrClientNotFound) || errors.Is(err, ErrSendQueueFull) {
				return
			}
			h.logger.LogAttrs(ctx, slog.LevelWarn, "failed to handle websocket message",
				logger.ClientID(client.ID()),
				logger.Error(err),
			)
		}
	}
}

// handleMessage answers one client message. Replies go through the client
// queue so the write loop stays the only writer.
func (h *Handler) handleMessage(ctx context.Context, client *Client, data []byte) error {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return h.manager.send(client, errorMessage{Type: MessageError, Message: "Invalid JSON format"})
	}

	switch msg.Type {
	case MessagePing:
		return h.manager.send(client, pong{Type: MessagePong, Timestamp: timestamp(h.manager.now())})

	case MessageSubscribeTask:
		err := h.manager.SubscribeTask(ctx, client.ID(), msg.TaskID)
		if errors.Is(err, ErrEmptyTaskID) {
			return h.manager.send(client, errorMessage{Type: MessageError, Message: "task_id is required"})
		}
		return err

	case MessageUnsubscribe:
		if msg.TaskID == "" {
			return h.manager.send(client, errorMessage{Type: MessageError, Message: "task_id is required"})
		}
		if err := h.manager.UnsubscribeTask(ctx, client.ID(), msg.TaskID); err != nil {
			return err
		}
		return h.manager.send(client, resourceAck{
			Type:         MessageUnsubscriptionConfirmed,
			ResourceType: ResourceTask,
			ResourceID:   msg.TaskID,
			TaskID:       msg.TaskID,
		})

	case MessageSubscribeWebtoon:
		err := h.manager.SubscribeWebtoon(ctx, client.ID(), msg.WebtoonID)
		if errors.Is(err, ErrEmptyWebtoonID) {
			return h.manager.send(client, errorMessage{Type: MessageError, Message: "webtoon_id is required"})
		}
		return err

	case MessageUnsubscribeWebtoon:
		if msg.WebtoonID == "" {
			return h.manager.send(client, errorMessage{Type: MessageError, Message: "webtoon_id is required"})
		}
		if err := h.manager.UnsubscribeWebtoon(ctx, client.ID(), msg.WebtoonID); err != nil {
			return err
		}
		return h.manager.send(client, resourceAck{
			Type:         MessageUnsubscriptionConfirmed,
			ResourceType: ResourceWebtoon,
			ResourceID:   msg.WebtoonID,
			WebtoonID:    msg.WebtoonID,
		})

	case MessageGetStatus:
		return h.manager.send(client, status{
			Type:                 MessageStatus,
			ClientID:             client.ID(),
			Subscriptions:        h.manager.Subscriptions(client.ID()),
			WebtoonSubscriptions: h.manager.WebtoonSubscriptions(client.ID()),
			Connections:          h.manager.Stats().ActiveConnections,
		})

	default:
		return h.manager.send(client, errorMessage{
			Type:    MessageError,
			Message: fmt.Sprintf("Unknown message type: %s", msg.Type),
		})
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-client.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.LogAttrs(context.Background(), slog.LevelWarn, "websocket write failed",
					logger.ClientID(client.ID()),
					logger.Error(err),
				)
				h.manager.Disconnect(client.ID())
				_ = conn.Close()
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeWait)); err != nil {
				h.manager.Disconnect(client.ID())
				_ = conn.Close()
				return
			}

		case <-client.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.writeWait))
			_ = conn.Close()
			return
		}
	}
}
