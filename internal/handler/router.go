package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/pipbot/internal/handler/event"
	"github.com/zhouzirui/pipbot/internal/handler/gateway"
	"github.com/zhouzirui/pipbot/internal/handler/persona"
	"github.com/zhouzirui/pipbot/internal/handler/scope"
	middlewarePkg "github.com/zhouzirui/pipbot/internal/middleware"
	personaModel "github.com/zhouzirui/pipbot/internal/model/persona"
	"github.com/zhouzirui/pipbot/internal/service/relay"
	"github.com/zhouzirui/pipbot/pkg/utils"
)

// Deps 汇总路由所需的核心服务。
type Deps struct {
	Personas   personaModel.Store
	Pipelines  *relay.Registry
	Dispatcher *relay.Dispatcher
	Store      scope.Store
	Logger     *zap.Logger
}

// NewRouter 将 HTTP 路由绑定到核心服务。
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	started := time.Now()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]any{
			"status":   "ok",
			"uptime":   time.Since(started).Round(time.Second).String(),
			"personas": deps.Pipelines.IDs(),
		}
		if deps.Dispatcher != nil {
			health["busyWorkers"] = deps.Dispatcher.Running()
		}
		utils.RespondJSON(w, http.StatusOK, health)
	})

	r.Route("/api", func(api chi.Router) {
		persona.New(deps.Personas).RegisterRoutes(api)
		event.New(deps.Pipelines).RegisterRoutes(api)

		if deps.Store != nil {
			scope.New(deps.Store).RegisterRoutes(api)
		}

		// 桥接网关依赖调度器，未启用时不注册。
		if deps.Dispatcher != nil {
			gateway.New(deps.Pipelines, deps.Dispatcher, logger).RegisterRoutes(api)
		}
	})

	return r
}
