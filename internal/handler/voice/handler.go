package voice

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	voicemodel "github.com/zhouzirui/voice-assistant/backend/internal/model/voice"
	"github.com/zhouzirui/voice-assistant/backend/pkg/utils"
)

// Lister exposes the catalog entries in build order.
type Lister interface {
	List() []voicemodel.Entry
}

// Handler voice目录的HTTP处理器
type Handler struct {
	voices Lister
}

// New 创建voice处理器
func New(voices Lister) *Handler {
	return &Handler{voices: voices}
}

// RegisterRoutes 注册voice相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/voices", h.handleListVoices)
}

type listResponse struct {
	Voices []voicemodel.Entry `json:"voices"`
}

func (h *Handler) handleListVoices(w http.ResponseWriter, r *http.Request) {
	voices := h.voices.List()
	if voices == nil {
		voices = []voicemodel.Entry{}
	}
	utils.RespondJSON(w, http.StatusOK, listResponse{Voices: voices})
}
