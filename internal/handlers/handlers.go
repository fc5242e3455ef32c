package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/TekiyoCorp/ID-sub000/internal/config"
	"github.com/TekiyoCorp/ID-sub000/internal/orchestrator"
	"github.com/TekiyoCorp/ID-sub000/internal/store"
	"github.com/TekiyoCorp/ID-sub000/internal/turn"
	"github.com/TekiyoCorp/ID-sub000/internal/wake"
)

type Handlers struct {
	config     *config.Config
	store      *store.Store
	orch       *orchestrator.Orchestrator
	wakeBridge *wake.Bridge
	turnServer *turn.Server

	wsUpgrader websocket.Upgrader
	logger     *slog.Logger
}

func New(cfg *config.Config, st *store.Store, orch *orchestrator.Orchestrator, wakeBridge *wake.Bridge, turnServer *turn.Server, logger *slog.Logger) *Handlers {
	return &Handlers{
		config:     cfg,
		store:      st,
		orch:       orch,
		wakeBridge: wakeBridge,
		turnServer: turnServer,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Routes wires the HTTP API. Everything under /api/call requires a
// valid token; registration, login and wake delivery do not.
func (h *Handlers) Routes(r *gin.Engine) {
	api := r.Group("/api")

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/wake", h.HandleWake)
	api.GET("/push/key", h.GetVAPIDPublicKey)

	authed := api.Group("")
	authed.Use(h.AuthMiddleware())
	{
		authed.POST("/call/start", h.StartCall)
		authed.POST("/call/answer", h.AnswerCall)
		authed.POST("/call/reject", h.RejectCall)
		authed.POST("/call/end", h.EndCall)
		authed.POST("/call/media", h.SetMedia)
		authed.GET("/call", h.GetCall)
		authed.GET("/calls", h.ListCalls)

		authed.POST("/push/subscribe", h.SubscribePush)
		authed.POST("/push/unsubscribe", h.UnsubscribePush)

		authed.GET("/turn", h.GetTURNConfig)
		authed.GET("/config", h.GetClientConfig)
		authed.GET("/ws", h.WatchCall)
	}
}
