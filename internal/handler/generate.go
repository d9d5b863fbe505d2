package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/calmline-ai/counsel-chat/internal/middleware"
	"github.com/calmline-ai/counsel-chat/internal/model"
	"github.com/calmline-ai/counsel-chat/internal/responder"
	"github.com/calmline-ai/counsel-chat/pkg/logger"
)

// GenerateHandler serves the responder gateway endpoint: one prompt in, one
// completion out, no streaming.
type GenerateHandler struct {
	provider responder.Provider
	logger   *logger.Logger
}

// NewGenerateHandler creates a new generate handler. provider may be nil
// when no API key is configured.
func NewGenerateHandler(provider responder.Provider, log *logger.Logger) *GenerateHandler {
	return &GenerateHandler{
		provider: provider,
		logger:   log,
	}
}

// Generate handles POST /api/v1/responder/generate
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.provider == nil {
		writeError(w, http.StatusServiceUnavailable, "responder not configured")
		return
	}

	var req model.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidatePrompt(req.Prompt); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	completion, err := h.provider.Complete(ctx, req.Prompt)
	if err != nil {
		h.logger.Error("generation failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "generation failed")
		return
	}

	writeJSON(w, http.StatusOK, &model.GenerateResponse{Response: completion})
}
