package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/guildgate/guildgate/internal/config"
	"github.com/guildgate/guildgate/internal/redirect"
	"github.com/guildgate/guildgate/internal/store"
	"github.com/guildgate/guildgate/internal/verify"
)

// NewRouter creates a new HTTP router
func NewRouter(cfg *config.Config, st *store.Store, verifier *verify.Service, engine *redirect.Engine, adminPasswordHash []byte, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware(cfg))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Login attempts are rate limited per IP
	loginLimiter := NewRateLimiter(rate.Every(time.Minute/5), 5)

	// Admin API routes
	r.Route("/api", func(r chi.Router) {
		r.With(RateLimitMiddleware(loginLimiter)).
			Post("/auth/login", HandleLogin(adminPasswordHash, cfg.JWTSecret, logger))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret))

			r.Post("/verify/initiate", HandleInitiate(verifier, cfg))
			r.Post("/verify/force/{userID}", HandleForceVerify(verifier, cfg, logger))
			r.Get("/verify/pending", HandlePending(st))

			r.Get("/tokens", HandleTokens(st))
			r.Get("/tokens/{userID}", HandleTokenStatus(st))

			r.Post("/redirect/{userID}", HandleRedirectUser(engine, st, cfg))
			r.Post("/redirect-all", HandleRedirectAll(engine, st, cfg, logger))

			r.Get("/stats", HandleStats(st))
		})
	})

	// Provider redirect target (no auth; the browser leg of the flow)
	r.Get("/callback", HandleCallback(verifier, logger))

	// Health check
	r.Get("/health", HandleHealth())
	r.Get("/", HandleHealth())

	return r
}
