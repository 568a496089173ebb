/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/customers/*   Customer, wallet, and ledger operations
  /api/tokens/*      Token issuance and the attendant flow
  /api/metrics       Dashboard aggregates
  /api/recommendation Advisor suggestion
  /api/promotions/*  Campaign records
  /api/admin/*       Operational endpoints

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.RegisterCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Put("/{id}", h.UpdateCustomer)
			r.Delete("/{id}", h.DeactivateCustomer)
			r.Get("/{id}/wallet", h.GetWallet)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Post("/{id}/deposits", h.Deposit)
			r.Post("/{id}/conversions", h.Convert)
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Post("/", h.IssueToken)
			r.Post("/validate", h.ValidateToken)
			r.Post("/{id}/redeem", h.RedeemToken)
			r.Post("/{id}/cancel", h.CancelToken)
		})

		r.Get("/metrics", h.GetMetrics)
		r.Get("/recommendation", h.GetRecommendation)

		r.Route("/promotions", func(r chi.Router) {
			r.Get("/", h.ListPromotions)
			r.Post("/", h.CreatePromotion)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.RunSweep)
		})
	})

	return r
}
