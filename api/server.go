/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/stock/*            Stock listing and refresh
  /api/inventory/*        Same handlers, same cache
  /api/stock-rebuild/*    Ledger replay job
  /api/analysis/*         Cost analysis cache
  /api/overview/*         Dashboard statistics
  /api/receivable/*       Customer invoice groups
  /api/payable/*          Supplier invoice groups
  /metrics                Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/trade-ledger/ledger"
)

// RouterOptions configures cross-cutting router behaviour.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	stockRoutes := func(r chi.Router) {
		r.Get("/", h.GetStock)
		r.Post("/refresh", h.RefreshStock)
		r.Get("/total-cost-estimate", h.GetStockCostEstimate)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/stock", stockRoutes)
		r.Route("/inventory", stockRoutes)

		r.Route("/stock-rebuild", func(r chi.Router) {
			r.Post("/rebuild", h.RebuildStockLedger)
			r.Get("/progress", h.GetRebuildProgress)
		})

		r.Route("/analysis", func(r chi.Router) {
			r.Get("/data", h.GetAnalysis)
			r.Get("/detail", h.GetAnalysisDetail)
			r.Post("/refresh", h.RefreshAnalysis)
			r.Post("/clean-cache", h.CleanAnalysisCache)
		})

		r.Route("/overview", func(r chi.Router) {
			r.Get("/stats", h.GetOverviewStats)
			r.Post("/stats", h.RefreshOverviewStats)
			r.Get("/top-sales-products", h.GetTopSalesProducts)
			r.Get("/monthly-stock-change/{productModel}", h.GetMonthlyStockChange)
		})

		for _, side := range []ledger.Side{ledger.Receivable, ledger.Payable} {
			r.Route("/"+string(side)+"/invoices", func(r chi.Router) {
				r.Get("/{partnerCode}", h.GetInvoiceGroups(side))
				r.Post("/{partnerCode}/refresh", h.RefreshInvoiceGroups(side))
			})
		}
	})

	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}

	return r
}
