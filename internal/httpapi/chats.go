package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"lightchat/backend/internal/store"
)

type createChatRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	ModelID string `json:"modelId" validate:"omitempty,max=200"`
}

type updateChatRequest struct {
	Name    *string `json:"name" validate:"omitempty,min=1,max=200"`
	ModelID *string `json:"modelId" validate:"omitempty,min=1,max=200"`
}

func (h Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.store.ListChats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Name = normalizeName(req.Name)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	chat, err := h.store.CreateChat(r.Context(), req.Name, h.models.Resolve(req.ModelID).ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.store.GetChat(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "chat not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to load chat")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h Handler) UpdateChat(w http.ResponseWriter, r *http.Request) {
	var req updateChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Name != nil {
		name := normalizeName(*req.Name)
		req.Name = &name
	}
	if req.ModelID != nil {
		modelID := strings.TrimSpace(*req.ModelID)
		req.ModelID = &modelID
	}
	if req.Name == nil && req.ModelID == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "name or modelId is required")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}
	if req.ModelID != nil && !h.models.Has(*req.ModelID) {
		writeError(w, http.StatusBadRequest, "unknown_model", "model is not in the catalog")
		return
	}

	chat, err := h.store.UpdateChat(r.Context(), chi.URLParam(r, "id"), store.ChatUpdate{Name: req.Name, ModelID: req.ModelID})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "chat not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to update chat")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteChat(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "chat not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to delete chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func normalizeName(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
