/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the front office

ROUTE GROUPS:
  /api/calculate/*               Stateless calculators
  /api/tenants/{tenantID}/*      Directory, seasons, credits, ledger
  /api/billing/*                 Monthly billing runs
  /api/scenarios/*               Demo scenarios
  /api/reset                     Store reset (dev only)
  /healthz                       Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Request logger
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
// allowedOrigins configures CORS; an empty list allows any origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/calculate", func(r chi.Router) {
			r.Post("/prorate", h.CalculateProration)
			r.Post("/mid-season", h.CalculateMidSeason)
			r.Post("/refund", h.CalculateRefund)
			r.Post("/rest-credit", h.CalculateRestCredit)
		})

		r.Get("/tenants", h.ListTenants)
		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Put("/", h.PutTenant)

			r.Route("/students/{studentID}", func(r chi.Router) {
				r.Get("/", h.GetStudent)
				r.Put("/", h.PutStudent)
				r.Post("/pause", h.PauseStudent)
				r.Post("/resume", h.ResumeStudent)
				r.Get("/credits", h.ListCredits)
			})

			r.Get("/seasons", h.ListSeasons)
			r.Route("/seasons/{seasonID}", func(r chi.Router) {
				r.Put("/", h.PutSeason)
				r.Get("/preview", h.PreviewSeason)
				r.Post("/enrollments", h.Enroll)
			})

			r.Route("/enrollments/{enrollmentID}", func(r chi.Router) {
				r.Post("/pay", h.PayEnrollment)
				r.Post("/cancel", h.CancelEnrollment)
			})

			r.Route("/credits/{creditID}", func(r chi.Router) {
				r.Post("/adjust", h.AdjustCredit)
				r.Post("/cancel", h.CancelCredit)
			})

			r.Get("/payments", h.ListPayments)
			r.Get("/expenses", h.ListExpenses)
		})

		r.Route("/billing/runs", func(r chi.Router) {
			r.Get("/", h.ListBillingRuns)
			r.Post("/", h.RunBilling)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
		r.Post("/reset", h.ResetStore)
	})

	return r
}
