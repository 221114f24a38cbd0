package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"lightchat/backend/internal/config"
)

type settingsRequest struct {
	OpenRouterAPIKey     *string `json:"openrouterApiKey" validate:"omitempty,max=512"`
	GoogleSearchAPIKey   *string `json:"googleSearchApiKey" validate:"omitempty,max=512"`
	GoogleSearchEngineID *string `json:"googleSearchEngineId" validate:"omitempty,max=512"`
}

func (h Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"hasOpenRouterApiKey":     h.hasSetting(config.KeyOpenRouterAPIKey),
		"hasGoogleSearchApiKey":   h.hasSetting(config.KeyGoogleSearchAPIKey),
		"hasGoogleSearchEngineId": h.hasSetting(config.KeyGoogleSearchEngineID),
	})
}

// UpdateSettings stores every non-empty value and persists them together.
// Values are never echoed back.
func (h Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	fields := []struct {
		key   string
		value *string
	}{
		{config.KeyOpenRouterAPIKey, req.OpenRouterAPIKey},
		{config.KeyGoogleSearchAPIKey, req.GoogleSearchAPIKey},
		{config.KeyGoogleSearchEngineID, req.GoogleSearchEngineID},
	}

	updated := make([]string, 0, len(fields))
	for _, field := range fields {
		if field.value == nil || strings.TrimSpace(*field.value) == "" {
			continue
		}
		if err := h.settings.Set(field.key, strings.TrimSpace(*field.value)); err != nil {
			if errors.Is(err, config.ErrInvalidSetting) {
				writeError(w, http.StatusBadRequest, "invalid_setting", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "settings_error", "failed to update settings")
			return
		}
		updated = append(updated, field.key)
	}
	if len(updated) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "no settings provided")
		return
	}

	if err := h.settings.Persist(); err != nil {
		h.log.Error("persist settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "settings_error", "failed to save settings")
		return
	}
	h.log.Info("settings updated", "keys", updated)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated": updated})
}

func (h Handler) hasSetting(key string) bool {
	return strings.TrimSpace(h.settings.Get(key)) != ""
}

func (h Handler) ListModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models":  h.models.Models(),
		"default": h.models.Default().ID,
	})
}
