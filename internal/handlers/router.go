package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/poevideo/poe-video/internal/config"
	"github.com/poevideo/poe-video/internal/middleware/security"
)

// NewRouter wires the proxy endpoints behind the middleware chain.
func NewRouter(cfg *config.Config, apiHandlers *APIHandlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.WriteTimeout.Duration))
	r.Use(security.AllowedHosts(cfg))
	r.Use(security.SecurityHeaders(cfg))

	r.Get("/config.js", apiHandlers.ConfigHandler)
	r.Route("/api", func(r chi.Router) {
		r.Get("/models", apiHandlers.ModelsHandler)
		r.Post("/messages", apiHandlers.MessagesHandler)
		r.Post("/generate", apiHandlers.GenerateHandler)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}
