package event

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhouzirui/pipbot/internal/model/chat"
	"github.com/zhouzirui/pipbot/internal/service/relay"
	"github.com/zhouzirui/pipbot/pkg/utils"
)

const maxBodyBytes = 64 << 10

// Handler 以同步方式处理单条入站事件，便于调试与非实时平台接入。
type Handler struct {
	pipelines *relay.Registry
}

// New 创建事件处理器
func New(pipelines *relay.Registry) *Handler {
	return &Handler{pipelines: pipelines}
}

// RegisterRoutes 注册事件相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/events", h.handleEvent)
}

type response struct {
	EventID string        `json:"eventId"`
	Outcome relay.Outcome `json:"outcome"`
	Replies []string      `json:"replies"`
}

// handleEvent 执行一次完整的编排流程，并返回最终状态与回复文本。
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	pipeline, ok := h.pipelines.Get(r.URL.Query().Get("persona"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "persona not found")
		return
	}

	var ev chat.Inbound
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := Normalize(&ev, time.Now()); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var mu sync.Mutex
	replies := make([]string, 0, 1)
	collect := func(_ context.Context, text string) error {
		mu.Lock()
		replies = append(replies, text)
		mu.Unlock()
		return nil
	}

	out, err := pipeline.Handle(r.Context(), ev, collect)
	if err != nil {
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	mu.Lock()
	defer mu.Unlock()
	utils.RespondJSON(w, http.StatusOK, response{EventID: ev.EventID, Outcome: out, Replies: replies})
}

// Normalize 补齐事件的默认字段并校验必填项。
func Normalize(ev *chat.Inbound, now time.Time) error {
	ev.SenderID = strings.TrimSpace(ev.SenderID)
	if ev.SenderID == "" {
		return errors.New("senderId is required")
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Platform == "" {
		ev.Platform = "http"
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = now
	}
	return nil
}
