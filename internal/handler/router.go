package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/voice-assistant/backend/internal/handler/session"
	"github.com/zhouzirui/voice-assistant/backend/internal/handler/voice"
	middlewarePkg "github.com/zhouzirui/voice-assistant/backend/internal/middleware"
	"github.com/zhouzirui/voice-assistant/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(voices voice.Lister, ws *session.WebSocketHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		voice.New(voices).RegisterRoutes(api)
	})

	// voice session websocket
	ws.RegisterRoutes(r)

	return r
}
