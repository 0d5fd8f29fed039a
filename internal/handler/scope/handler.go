package scope

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/pipbot/internal/model/chat"
	"github.com/zhouzirui/pipbot/internal/service/history"
	"github.com/zhouzirui/pipbot/pkg/utils"
)

const defaultLimit = 20

// Store 是作用域管理接口所需的存储能力。
type Store interface {
	Scopes(ctx context.Context) ([]string, error)
	RecentTurns(ctx context.Context, scope string, limit int) ([]chat.Turn, error)
	Prune(ctx context.Context, scope string, keep int) (int64, error)
}

// Handler 提供上下文作用域的查看与清理。
type Handler struct {
	store Store
}

// New 创建作用域处理器
func New(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册作用域相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/scopes", h.handleList)
	r.Get("/scopes/{scope}/turns", h.handleTurns)
	r.Delete("/scopes/{scope}/turns", h.handlePrune)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scopes, err := h.store.Scopes(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"scopes": scopes})
}

func (h *Handler) handleTurns(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeParam(w, r)
	if !ok {
		return
	}
	limit, ok := intQuery(w, r, "limit", defaultLimit)
	if !ok {
		return
	}

	turns, err := h.store.RecentTurns(r.Context(), scope, limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"scope": scope, "turns": turns})
}

func (h *Handler) handlePrune(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeParam(w, r)
	if !ok {
		return
	}
	// keep 必须显式给出，避免误删整个 scope；keep=0 表示清空。
	if r.URL.Query().Get("keep") == "" {
		utils.RespondError(w, http.StatusBadRequest, "keep is required")
		return
	}
	keep, ok := intQuery(w, r, "keep", 0)
	if !ok {
		return
	}

	removed, err := h.store.Prune(r.Context(), scope, keep)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"scope": scope, "removed": removed})
}

func scopeParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	scope, err := url.PathUnescape(chi.URLParam(r, "scope"))
	if err != nil || scope == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid scope")
		return "", false
	}
	return scope, true
}

func intQuery(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return val, true
}

// respondStoreError 参数错误返回 400，其余存储故障返回 500。
func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, history.ErrInvalidArgument) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, err.Error())
}
