/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap access log carrying the request id
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin UI

ROUTE GROUPS:
  /api/cash-flow/*      Ledger listing, balance, summary, manual entries
  /api/appointments/*   Appointment lookup and status changes
  /api/admin/*          Repair trigger and history (role guarded)
  /api/scenarios/*      Demo scenarios (role guarded)

SECURITY NOTE:
  Authentication happens upstream. When RequireAdmin is set, admin and
  scenario routes require the X-User-ID header to resolve to the admin
  role through the store, cached by RoleCache.

SEE ALSO:
  - handlers.go: Handler implementations
  - rolecache.go: Admin guard
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/cashflow-engine/logging"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	RequireAdmin   bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserIDHeader},
		AllowCredentials: true,
	}))

	adminOnly := func(next http.Handler) http.Handler { return next }
	if opts.RequireAdmin {
		adminOnly = RequireRole(h.Roles, h.Store, RoleAdmin, h.Logger)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/cash-flow", func(r chi.Router) {
			r.Get("/", h.ListCashFlow)
			r.Post("/", h.CreateCashFlowEntry)
			r.Get("/balance", h.GetCashFlowBalance)
			r.Get("/summary", h.GetCashFlowSummary)
			r.Delete("/{id}", h.DeleteCashFlowEntry)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Get("/{id}", h.GetAppointment)
			r.Put("/{id}/status", h.UpdateAppointmentStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(adminOnly)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/cash-flow/validate", h.ValidateCashFlow)
				r.Get("/cash-flow/runs", h.ListRepairRuns)
			})

			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		})
	})

	return r
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(ctx context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
