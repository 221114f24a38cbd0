package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"lightchat/backend/internal/catalog"
	"lightchat/backend/internal/config"
	"lightchat/backend/internal/logger"
	"lightchat/backend/internal/store"
	"lightchat/backend/internal/turn"
)

var validate = validator.New()

type Handler struct {
	cfg      config.Config
	store    *store.Store
	settings config.Settings
	models   *catalog.Catalog
	turns    *turn.Orchestrator
	log      *logger.Logger
}

func NewHandler(cfg config.Config, st *store.Store, settings config.Settings, models *catalog.Catalog, turns *turn.Orchestrator, log *logger.Logger) Handler {
	if log == nil {
		log = logger.Nop()
	}
	return Handler{
		cfg:      cfg,
		store:    st,
		settings: settings,
		models:   models,
		turns:    turns,
		log:      log.With("component", "httpapi"),
	}
}

type contextKey string

const sessionAdminContextKey contextKey = "session_admin"

func (h Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database is not reachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type credentialsRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type setupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

func (h Handler) CheckAdmin(w http.ResponseWriter, r *http.Request) {
	exists, err := h.store.AdminExists(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to check admin")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (h Handler) AuthSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	admin, err := h.store.CreateAdmin(r.Context(), req.Username, req.Password)
	if errors.Is(err, store.ErrAdminExists) {
		writeError(w, http.StatusForbidden, "admin_exists", "an admin account already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to create admin")
		return
	}

	if !h.startSession(w, r, admin) {
		return
	}
	h.log.Info("admin created", "username", admin.Username)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "admin": admin})
}

func (h Handler) AuthLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	admin, err := h.store.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to authenticate")
		return
	}

	if !h.startSession(w, r, admin) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "admin": admin})
}

func (h Handler) AuthMe(w http.ResponseWriter, r *http.Request) {
	admin, ok := sessionAdminFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"admin": admin})
}

func (h Handler) AuthLogout(w http.ResponseWriter, r *http.Request) {
	rawToken, err := readSessionCookie(r, h.cfg.SessionCookieName)
	if err == nil {
		if err := h.store.DeleteSession(r.Context(), rawToken); err != nil {
			h.log.Warn("delete session failed", "error", err)
		}
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h Handler) startSession(w http.ResponseWriter, r *http.Request, admin store.Admin) bool {
	token, expiresAt, err := h.store.CreateSession(r.Context(), admin.ID, h.cfg.SessionTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to create session")
		return false
	}
	h.setSessionCookie(w, token, expiresAt)
	return true
}

func (h Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, err := readSessionCookie(r, h.cfg.SessionCookieName)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid session")
			return
		}

		admin, err := h.store.ResolveSession(r.Context(), rawToken)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "session expired or invalid")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error", "failed to resolve session")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionAdminContextKey, admin)))
	})
}

func (h Handler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func (h Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func readSessionCookie(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cookie.Value) == "" {
		return "", errors.New("empty session cookie")
	}
	return cookie.Value, nil
}

func sessionAdminFromContext(ctx context.Context) (store.Admin, bool) {
	admin, ok := ctx.Value(sessionAdminContextKey).(store.Admin)
	return admin, ok
}
