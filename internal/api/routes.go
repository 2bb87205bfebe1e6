package api

import (
	"net/http"
	"time"

	"prop-ledger/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates and configures a Chi router with all routes
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(cfg.HTTP.CORSAllowedOrigins))
	r.Use(MetricsMiddleware)

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Long-lived stream, outside the request timeout
		r.Get("/ledger/events", h.HandleLedgerEvents)

		r.Group(func(r chi.Router) {
			// Leave room for a trading API call with retries
			r.Use(middleware.Timeout(cfg.RequestTimeout()*time.Duration(cfg.API.MaxRetries+1) + 5*time.Second))

			r.Get("/health", h.HandleHealth)

			// Ledger
			r.Get("/ledger", h.HandleGetLedger)
			r.Post("/ledger/hydrate", h.HandleHydrate)

			// Positions
			r.Route("/positions", func(r chi.Router) {
				r.Post("/", h.HandleOpenPosition)
				r.Post("/{id}/close", h.HandleClosePosition)
			})

			// Risk
			r.Post("/risk/validate", h.HandleValidate)
			r.Post("/risk/size", h.HandleSuggestAmount)

			// Reference data
			r.Get("/plans", h.HandleGetPlans)
			r.Get("/quotes", h.HandleGetQuotes)

			// Terminal view
			r.Post("/terminal", h.HandleStartTerminal)
			r.Delete("/terminal", h.HandleStopTerminal)

			// Session
			r.Post("/session", h.HandleLogin)
			r.Delete("/session", h.HandleLogout)
		})
	})

	return r
}

// CORSMiddleware returns CORS middleware with the specified allowed origins
func CORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
