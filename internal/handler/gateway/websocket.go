package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/zhouzirui/pipbot/internal/handler/event"
	"github.com/zhouzirui/pipbot/internal/model/chat"
	"github.com/zhouzirui/pipbot/internal/service/relay"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Handler WebSocket 网关：平台桥接进程通过它推送事件并接收回复。
type Handler struct {
	pipelines  *relay.Registry
	dispatcher *relay.Dispatcher
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// New 创建网关处理器
func New(pipelines *relay.Registry, dispatcher *relay.Dispatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pipelines:  pipelines,
		dispatcher: dispatcher,
		logger:     logger.Named("gateway"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Persona string          `json:"persona,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	EventID   string `json:"eventId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// conn 串行化并发写入：回复来自调度器的多个 worker。
type conn struct {
	ws     *websocket.Conn
	id     string
	logger *zap.Logger
	mu     sync.Mutex
}

func (c *conn) send(msg outgoingMessage) error {
	msg.Timestamp = time.Now().Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(msg)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *conn) sendError(eventID, message string) {
	if err := c.send(outgoingMessage{Type: "error", EventID: eventID, Data: map[string]string{"message": message}}); err != nil {
		c.logger.Debug("write error failed", zap.Error(err))
	}
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	id := ulid.Make().String()
	c := &conn{ws: ws, id: id, logger: h.logger.With(zap.String("conn", id))}
	c.logger.Info("connection opened", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
		ws.Close()
		c.logger.Info("connection closed")
	}()

	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, c)

	if err := c.send(outgoingMessage{Type: "connected", Data: map[string]any{
		"connectionId": id,
		"personas":     h.pipelines.IDs(),
	}}); err != nil {
		return
	}

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", zap.Error(err))
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case "event":
			h.handleEvent(ctx, c, &inflight, msg)
		case "ping":
			if err := c.send(outgoingMessage{Type: "pong"}); err != nil {
				return
			}
		default:
			c.sendError("", "unsupported message type: "+msg.Type)
		}
	}
}

func (h *Handler) handleEvent(ctx context.Context, c *conn, inflight *sync.WaitGroup, msg inboundMessage) {
	pipeline, ok := h.pipelines.Get(msg.Persona)
	if !ok {
		c.sendError("", "persona not found")
		return
	}

	var ev chat.Inbound
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		c.sendError("", "invalid event payload")
		return
	}
	if err := event.Normalize(&ev, time.Now()); err != nil {
		c.sendError(ev.EventID, err.Error())
		return
	}
	if ev.Platform == "http" {
		ev.Platform = "ws"
	}

	reply := func(_ context.Context, text string) error {
		return c.send(outgoingMessage{Type: "reply", EventID: ev.EventID, Data: map[string]string{"text": text}})
	}
	done := func(out relay.Outcome, err error) {
		defer inflight.Done()
		if err != nil {
			c.sendError(ev.EventID, err.Error())
			return
		}
		if sendErr := c.send(outgoingMessage{Type: "result", EventID: ev.EventID, Data: out}); sendErr != nil {
			c.logger.Debug("write result failed", zap.Error(sendErr))
		}
	}

	inflight.Add(1)
	if err := h.dispatcher.Submit(ctx, pipeline, ev, reply, done); err != nil {
		inflight.Done()
		if errors.Is(err, relay.ErrThrottled) {
			c.sendError(ev.EventID, "slow down")
			return
		}
		c.sendError(ev.EventID, "dispatcher unavailable")
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
