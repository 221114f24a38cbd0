package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"lightchat/backend/internal/config"
	"lightchat/backend/internal/store"
	"lightchat/backend/internal/stream"
	"lightchat/backend/internal/turn"
)

type sendMessageRequest struct {
	Content       string `json:"content" validate:"required,max=32000"`
	ModelID       string `json:"modelId" validate:"omitempty,max=200"`
	WithWebSearch bool   `json:"withWebSearch"`
	WithDeepThink bool   `json:"withDeepThink"`
}

func (h Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	if _, err := h.store.GetChat(r.Context(), chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "chat not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error", "failed to load chat")
		return
	}

	messages, err := h.store.ListMessages(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// SendMessage saves the user message and streams the assistant turn as
// server-sent events. Everything that can fail before the first event is
// reported as a plain JSON error.
func (h Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	req.ModelID = strings.TrimSpace(req.ModelID)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}
	if req.ModelID != "" && !h.models.Has(req.ModelID) {
		writeError(w, http.StatusBadRequest, "unknown_model", "model is not in the catalog")
		return
	}
	if strings.TrimSpace(h.settings.Get(config.KeyOpenRouterAPIKey)) == "" {
		writeError(w, http.StatusInternalServerError, "api_key_missing", "OpenRouter API key is not configured")
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	pending, err := h.turns.Begin(r.Context(), turn.Turn{
		ChatID:    chi.URLParam(r, "id"),
		Content:   req.Content,
		ModelID:   req.ModelID,
		WebSearch: req.WithWebSearch,
		DeepThink: req.WithDeepThink,
	})
	switch {
	case errors.Is(err, turn.ErrInvalidTurn):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.Is(err, turn.ErrChatNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "chat not found")
		return
	case err != nil:
		h.log.Error("begin turn failed", "chat_id", chi.URLParam(r, "id"), "error", err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to save message")
		return
	}

	events, err := stream.NewWriter(r.Context(), w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", err.Error())
		return
	}

	if err := h.turns.Run(r.Context(), pending, events); err != nil && !errors.Is(err, turn.ErrCancelled) {
		h.log.Warn("turn ended with error", "chat_id", pending.Chat.ID, "error", err)
	}
}
