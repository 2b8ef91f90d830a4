/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging (zap when a logger is given, chi otherwise)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. Auth:       Bearer token on /api, grant check per route

ROUTE GROUPS:
  /status               Health check (DB ping), public
  /metrics              Prometheus metrics, public
  /api/products/*       Inventory
  /api/contracts/*      Contracts and schedules
  /api/installments/*   Installments, payments against them, admin edits
  /api/payments/*       Payments and reversals
  /api/admin/*          Jobs, reminders, notification log
  /api/scenarios/*      Demo scenarios (only when enabled)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticate, Require
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/installment-ledger/rbac"
)

// RouterOptions configures NewRouter. The zero value serves every route
// without authentication.
type RouterOptions struct {
	CORSOrigins     []string
	Auth            *Auth        // nil disables authentication
	Metrics         http.Handler // served on /metrics when set
	Log             *zap.Logger
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	if opts.Log != nil {
		r.Use(requestLogger(opts.Log))
	} else {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/status", h.Status)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	auth := opts.Auth
	can := auth.Require

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Authenticate)

		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.With(can(rbac.ResourceProducts, rbac.ActionRead)).Get("/", h.ListProducts)
			r.With(can(rbac.ResourceProducts, rbac.ActionCreate)).Post("/", h.CreateProduct)
			r.With(can(rbac.ResourceProducts, rbac.ActionRead)).Get("/{id}", h.GetProduct)
			r.With(can(rbac.ResourceProducts, rbac.ActionUpdate)).Put("/{id}", h.UpdateProduct)
		})

		// Contract routes
		r.Route("/contracts", func(r chi.Router) {
			r.With(can(rbac.ResourceContracts, rbac.ActionRead)).Get("/", h.ListContracts)
			r.With(can(rbac.ResourceContracts, rbac.ActionCreate)).Post("/", h.CreateContract)
			r.With(can(rbac.ResourceContracts, rbac.ActionRead)).Get("/{id}", h.GetContract)
			r.With(can(rbac.ResourceInstallments, rbac.ActionRead)).Get("/{id}/installments", h.ListContractInstallments)
			r.With(can(rbac.ResourceContracts, rbac.ActionUpdate)).Post("/{id}/recalc", h.RecalculateContract)
			r.With(can(rbac.ResourceContracts, rbac.ActionUpdate)).Put("/{id}/status", h.SetContractStatus)
		})

		// Installment routes
		r.Route("/installments", func(r chi.Router) {
			r.With(can(rbac.ResourceInstallments, rbac.ActionRead)).Get("/{id}", h.GetInstallment)
			r.With(can(rbac.ResourceInstallments, rbac.ActionUpdate)).Patch("/{id}", h.UpdateInstallment)
			r.With(can(rbac.ResourcePayments, rbac.ActionCreate)).Post("/{id}/pay", h.PayInstallment)
			r.With(can(rbac.ResourcePayments, rbac.ActionRead)).Get("/{id}/payments", h.ListInstallmentPayments)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.With(can(rbac.ResourcePayments, rbac.ActionCreate)).Post("/", h.CreatePayment)
			r.With(can(rbac.ResourcePayments, rbac.ActionRead)).Get("/{id}", h.GetPayment)
			r.With(can(rbac.ResourcePayments, rbac.ActionDelete)).Delete("/{id}", h.DeletePayment)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.With(can(rbac.ResourceAdmin, rbac.ActionRead)).Get("/jobs", h.ListJobs)
			r.With(can(rbac.ResourceAdmin, rbac.ActionRun)).Post("/jobs/run", h.RunJob)
			r.With(can(rbac.ResourceAdmin, rbac.ActionRead)).Get("/jobs/runs", h.ListJobRuns)
			r.With(can(rbac.ResourceAdmin, rbac.ActionRead)).Get("/reminders/preview", h.PreviewReminders)
			r.With(can(rbac.ResourceAdmin, rbac.ActionRun)).Post("/reminders/send", h.SendReminders)
			r.With(can(rbac.ResourceNotifications, rbac.ActionRead)).Get("/notifications", h.ListNotifications)
		})

		// Scenario routes
		if opts.EnableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Use(can(rbac.ResourceAdmin, rbac.ActionRun))
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
