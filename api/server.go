/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:        Request logging
  2. Recoverer:     Panic recovery (500 instead of crash)
  3. RequestID:     Unique ID per request for tracing
  4. CORS:          Cross-origin requests for the frontend
  5. Authenticator: Bearer-token identity (everything under /api)

ROUTE GROUPS:
  /api/accounts/*   Account provisioning and reads
  /api/redeem       Code redemption
  /api/products     Catalog
  /api/purchases/*  Shop flows
  /api/letters      Thank-you letters
  /api/teams/*      Team links
  /api/admin/*      Staff-only operations
  /healthz          Liveness (unauthenticated)

SEE ALSO:
  - handlers.go, admin.go: Handler implementations
  - auth.go: Authenticator and RequireStaff
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, jwtSecret []byte, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticator(jwtSecret))

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/entries", h.GetEntries)
			r.Get("/{id}/purchases", h.GetPurchases)
		})

		r.Post("/redeem", h.RedeemCode)

		r.Get("/products", h.ListProducts)

		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", h.CreatePurchase)
			r.Post("/{id}/dispute", h.OpenDispute)
		})

		r.Post("/letters", h.SubmitLetter)

		r.Route("/teams", func(r chi.Router) {
			r.Post("/", h.CreateTeam)
			r.Post("/{id}/join", h.JoinTeam)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireStaff)

			r.Post("/grants/batch", h.BatchGrant)
			r.Post("/letters/{id}/approve", h.ApproveLetter)

			r.Post("/codes", h.GenerateCodes)
			r.Get("/codes/{code}/usages", h.GetCodeUsages)

			r.Post("/products", h.SaveProduct)
			r.Post("/purchases/{id}/fulfill", h.FulfillPurchase)
			r.Post("/purchases/{id}/resolve", h.ResolveDispute)

			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.UpdateSettings)

			r.Post("/accounts/{id}/restriction", h.SetRestriction)
			r.Delete("/accounts/{id}/restriction", h.ClearRestriction)

			r.Post("/migrations", h.MigrateAccount)
			r.Post("/migrations/revert", h.RevertMigration)

			r.Get("/reports/circulation", h.CirculationReport)
		})
	})

	return r
}
