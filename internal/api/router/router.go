// Package router assembles the chi HTTP router.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mishraclinic/whatsapp-assistant/internal/http/handlers"
	"github.com/mishraclinic/whatsapp-assistant/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger          *logging.Logger
	WhatsAppHandler *handlers.WhatsAppHandler
	HealthHandler   *handlers.HealthHandler
	MetricsHandler  http.Handler
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", cfg.HealthHandler.Health)
	r.Get("/status", cfg.HealthHandler.Status)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/whatsapp", cfg.WhatsAppHandler.Webhook)
	})

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
