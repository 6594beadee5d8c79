package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/agentpay/internal/infra/auth"
	"go.uber.org/zap"
)

// NewRouter собирает HTTP API шлюза.
// Порядок middleware: Trace -> Auth -> RateLimit (только /execute) -> handler.
func NewRouter(h *AgentHandler, validator auth.TokenValidator, limiter *AgentLimiter, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// --- Защищенный периметр: все /api/agents требуют RS256 токен ---
	r.Route("/api/agents", func(r chi.Router) {
		r.Use(auth.NewMiddleware(validator, logger))

		r.Post("/create", h.Create)
		r.With(RateLimitMiddleware(limiter, h.metrics, logger)).Post("/execute", h.Execute)
		r.Post("/revoke", h.Revoke)
		r.Get("/policy/{ownerAddress}/{agentAddress}", h.Status)
		r.Get("/{ownerAddress}", h.List)
	})

	return r
}
