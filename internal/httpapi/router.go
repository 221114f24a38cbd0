package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"lightchat/backend/internal/logger"
	"lightchat/backend/internal/metrics"
)

func NewRouter(h Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(authR chi.Router) {
			authR.Get("/check-admin", h.CheckAdmin)
			authR.Post("/setup", h.AuthSetup)
			authR.Post("/login", h.AuthLogin)
			authR.Post("/logout", h.AuthLogout)
			authR.With(h.RequireSession).Get("/me", h.AuthMe)
		})

		api.Group(func(p chi.Router) {
			p.Use(h.RequireSession)
			p.Get("/models", h.ListModels)

			p.Get("/settings", h.GetSettings)
			p.Post("/settings", h.UpdateSettings)

			p.Route("/chats", func(chats chi.Router) {
				chats.Get("/", h.ListChats)
				chats.Post("/", h.CreateChat)
				chats.Route("/{id}", func(chat chi.Router) {
					chat.Get("/", h.GetChat)
					chat.Patch("/", h.UpdateChat)
					chat.Delete("/", h.DeleteChat)
					chat.Get("/messages", h.ListMessages)
					chat.Post("/messages", h.SendMessage)
				})
			})
		})
	})

	return r
}

// requestLogger logs one line per request once the handler returns. Streamed
// turns are logged when the stream ends.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(started).Milliseconds(),
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}
