package core

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/trustcore/identity-platform/internal/apierr"
	"github.com/trustcore/identity-platform/pkg/models"
)

// NewRouter builds the ambient chi router every trust-core process starts
// from: panic recovery, request logging, security headers, CORS, and a
// shared rate limiter, followed by a liveness endpoint. Each binary mounts
// its own component routes on top of the returned router.
func NewRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(Recovery)
	r.Use(RequestLogger)
	r.Use(SecurityHeaders)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rateLimiter := NewRateLimiter(100, time.Minute)
	r.Use(rateLimiter.Limit)

	r.Get("/health", handleHealth)

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	apierr.WriteJSON(w, http.StatusOK, models.HealthResponse{Status: "healthy"})
}
