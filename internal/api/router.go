package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/tinywideclouds/go-push-service/internal/platform/resilience"
)

// RouterConfig wires the HTTP surface. Metrics may be nil.
type RouterConfig struct {
	Tokens  *TokenAPI
	Notify  *NotifyAPI
	Auth    func(http.Handler) http.Handler
	Metrics http.Handler

	// GatewayHealth, when set, backs GET /api/v1/stats/gateways.
	GatewayHealth func() []resilience.GatewayHealth

	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(httprate.Limit(cfg.RateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByRealIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					WriteJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				}),
			))
		}
		r.Use(cfg.Auth)

		r.Put("/tokens", cfg.Tokens.Register)
		r.Get("/tokens", cfg.Tokens.List)
		r.Delete("/tokens/{deviceId}", cfg.Tokens.Remove)

		r.Post("/notify/{userId}", cfg.Notify.SendToUser)
		r.Post("/notify", cfg.Notify.SendBulk)
		r.Get("/stats", cfg.Notify.Stats)
		if cfg.GatewayHealth != nil {
			r.Get("/stats/gateways", func(w http.ResponseWriter, _ *http.Request) {
				WriteJSON(w, http.StatusOK, cfg.GatewayHealth())
			})
		}
	})
	return r
}
