/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap), request logger in context
  3. Recovery:   Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend
  5. RateLimit:  Per-society and per-bill token buckets (optional)

ROUTE GROUPS:
  /api/societies/*      Onboarding, policy, headings, members, runs
  /api/members/*        Heading amounts and bill history
  /api/runs/*           Bills of a run
  /api/bills/*          Bills and receipts
  /api/scenarios/*      Demo scenarios
  /health               Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/society-billing/logger"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	Logger         *zap.Logger
	AllowedOrigins []string

	// RateLimiter is applied per society and per bill when set.
	RateLimiter *KeyedRateLimiter
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = h.Logger
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(log))
	r.Use(logger.Recovery(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader},
		ExposedHeaders:   []string{"X-Idempotency-Replayed", "Retry-After"},
		AllowCredentials: true,
	}))

	limit := func(prefix string) func(http.Handler) http.Handler {
		if opts.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return opts.RateLimiter.Middleware(func(r *http.Request) string {
			if id := chi.URLParam(r, "id"); id != "" {
				return prefix + id
			}
			return ""
		})
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// Society routes
		r.Route("/societies", func(r chi.Router) {
			r.Post("/", h.CreateSociety)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(limit("society:"))
				r.Get("/", h.GetSociety)
				r.Post("/transition", h.TransitionSociety)
				r.Put("/policy", h.PutPolicy)
				r.Get("/policy", h.GetPolicy)
				r.Post("/headings", h.CreateHeading)
				r.Get("/headings", h.ListHeadings)
				r.Post("/members", h.CreateMember)
				r.Get("/members", h.ListMembers)
				r.Post("/runs", h.CreateRun)
				r.Get("/runs", h.ListRuns)
			})
		})

		// Member routes
		r.Route("/members/{id}", func(r chi.Router) {
			r.Put("/headings", h.PutMemberHeadings)
			r.Get("/headings", h.GetMemberHeadings)
			r.Get("/bills", h.GetMemberBills)
		})

		r.Get("/runs/{id}/bills", h.GetRunBills)

		// Bill routes
		r.Route("/bills/{id}", func(r chi.Router) {
			r.Use(limit("bill:"))
			r.Get("/", h.GetBill)
			r.Post("/receipts", h.CreateReceipt)
			r.Get("/receipts", h.ListReceipts)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
