/*
server.go - HTTP router and middleware configuration

PURPOSE:

	Configures the HTTP router (chi), middleware stack, and route
	definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
 1. RequestID:  Unique ID per request for tracing
 2. Logger:     Request logging
 3. Recoverer:  Panic recovery (500 instead of crash)
 4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:

	/api/bottomUpQuantifications/*  Quantification lifecycle and search
	/api/remarks/*                  Remark reference entities
	/api/sourcesOfFunds/*           Source-of-fund reference entities
	/api/productGroups/*            Product-group reference entities
	/metrics                        Prometheus scrape endpoint
	/healthz                        Liveness probe

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

	"github.com/openforecast/buq-engine/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id"},
		AllowCredentials: false,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/bottomUpQuantifications", func(r chi.Router) {
			r.Get("/", h.Search)
			r.Post("/prepare", h.Prepare)
			r.Get("/forApproval", h.ForApproval)
			r.Get("/costCalculation", h.CostCalculation)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Get)
				r.Put("/", h.Save)
				r.Delete("/", h.Delete)
				r.Post("/submit", h.Submit)
				r.Post("/authorize", h.Authorize)
				r.Post("/approve", h.Approve)
				r.Post("/reject", h.Reject)
				r.Get("/rejection", h.LatestRejection)
				r.Get("/audit", h.Audit)
			})
		})

		r.Route("/remarks", func(r chi.Router) {
			r.Get("/", h.ListRemarks)
			r.Post("/", h.CreateRemark)
			r.Delete("/{id}", h.DeleteRemark)
		})

		r.Route("/sourcesOfFunds", func(r chi.Router) {
			r.Get("/", h.ListSourcesOfFunds)
			r.Post("/", h.CreateSourceOfFund)
		})

		r.Route("/productGroups", func(r chi.Router) {
			r.Get("/", h.ListProductGroups)
			r.Post("/", h.CreateProductGroup)
		})
	})

	// Operational endpoints
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
