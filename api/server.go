/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, logged with every line
  2. Logger:     One zap line per request (logging.Middleware)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the payroll console

ROUTE GROUPS:
  /api/payroll/*     Calculation, lock, correction, history
  /api/periods/*     Month-end lock
  /api/fnf/*         Full and final settlement
  /api/employees/*   Employee master data and incentive ledger
  /api/deals         Closed deals from the sales system
  /api/policies/*    Policy documents
  /api/admin/*       Manual runs of background jobs
  /api/scenarios/*   Demo data
  /healthz           Liveness

SECURITY NOTE:
  No authentication middleware. Deploy behind the HR gateway.

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

	"github.com/warp/settlement-engine/logging"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, log *zap.Logger, allowedOrigins []string) *chi.Mux {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/payroll", func(r chi.Router) {
			r.Post("/calculate", h.CalculatePayroll)
			r.Post("/correct", h.CorrectPayroll)
			r.Route("/{employee}/{year}/{month}", func(r chi.Router) {
				r.Get("/", h.GetPayroll)
				r.Get("/history", h.GetPayrollHistory)
				r.Post("/lock", h.LockPayroll)
			})
		})

		r.Post("/periods/{year}/{month}/lock", h.LockPeriod)

		r.Route("/fnf", func(r chi.Router) {
			r.Post("/", h.SettleFNF)
			r.Get("/{employee}", h.GetFNF)
			r.Post("/{employee}/approve", h.ApproveFNF)
			r.Post("/{employee}/pay", h.PayFNF)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/incentive-ledger", h.GetIncentiveLedger)
		})

		r.Post("/deals", h.RecordDeal)

		r.Route("/policies", func(r chi.Router) {
			r.Post("/", h.CreatePolicy)
			r.Get("/{id}", h.GetPolicy)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/transfers", h.RunTransfers)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
