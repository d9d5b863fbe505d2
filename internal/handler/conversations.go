// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/calmline-ai/counsel-chat/internal/history"
	"github.com/calmline-ai/counsel-chat/internal/middleware"
	"github.com/calmline-ai/counsel-chat/internal/model"
	"github.com/calmline-ai/counsel-chat/pkg/logger"
	"github.com/calmline-ai/counsel-chat/pkg/metrics"
)

// ConversationHandler serves the conversation history wire contract.
type ConversationHandler struct {
	store  history.Store
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(store history.Store, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:  store,
		logger: log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.store.CreateConversation(ctx, &req)
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		writeStoreError(w, err)
		return
	}

	metrics.ConversationsCreated.Inc()
	writeJSON(w, http.StatusCreated, conv)
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.store.FetchConversation(ctx, conversationID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Append handles PUT /api/v1/conversations/{id}
func (h *ConversationHandler) Append(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.AppendMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages cannot be empty")
		return
	}
	for _, msg := range req.Messages {
		if err := middleware.ValidateMessageBody(msg.Body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	resp, err := h.store.AppendMessages(ctx, conversationID, req.Messages)
	if err != nil {
		h.logger.Error("failed to append messages", zap.Error(err))
		writeStoreError(w, err)
		return
	}

	for _, msg := range req.Messages {
		metrics.MessagesPersisted.WithLabelValues(string(msg.AuthorRole)).Inc()
	}

	writeJSON(w, http.StatusOK, resp)
}
