/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap), level by status
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontends
  5. Tenant:     X-Tenant-ID header, required on every /api route

ROUTE GROUPS:
  /healthz                                     Liveness
  /api/employees, /api/categories              Directory registration
  /api/policies/*                              Policy management
  /api/employees/{e}/categories/{c}/*          One ledger
  /api/entries/*                               Entries by id
  /api/assignments/*                           Assignments by id
  /api/scenarios/*                             Demo scenarios
  /api/admin/*                                 Admin operations

SECURITY NOTE:
  No authentication middleware. The tenant header is trusted as sent; put
  the service behind a gateway that sets it.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/balance-ledger/generic"
)

// TenantHeader carries the caller's tenant.
const TenantHeader = "X-Tenant-ID"

type tenantCtxKey struct{}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string, logger *zap.Logger) *chi.Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TenantHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(requireTenant)

		// Directory
		r.Post("/employees", h.RegisterEmployee)
		r.Post("/categories", h.RegisterCategory)

		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
			r.Get("/{id}", h.GetPolicy)
		})

		// Ledger routes
		r.Route("/employees/{employeeID}/categories/{categoryID}", func(r chi.Router) {
			r.Get("/entries", h.ListEntries)
			r.Post("/entries", h.CreateEntry)
			r.Get("/periods", h.GetPeriods)
			r.Get("/balance", h.GetBalance)
			r.Post("/reset", h.ResetBalance)
			r.Get("/assignments", h.ListAssignments)
			r.Post("/assignments", h.AssignPolicy)
			r.Post("/scheduler/run", h.RunScheduler)
			r.Post("/requests", h.RecordTimeOff)
			r.Delete("/requests/{requestID}", h.CancelTimeOff)
		})

		// Entry routes
		r.Route("/entries", func(r chi.Router) {
			r.Post("/destroy", h.DestroyEntries)
			r.Patch("/{id}", h.UpdateEntry)
			r.Delete("/{id}", h.DeleteEntry)
		})

		// Assignment routes
		r.Route("/assignments", func(r chi.Router) {
			r.Put("/{id}", h.ReassignPolicy)
			r.Delete("/{id}", h.UnassignPolicy)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/scheduler/run", h.RunSchedulerAll)
			r.Post("/recover", h.RecoverPending)
		})
	})

	return r
}

// requireTenant rejects requests without a tenant header.
func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get(TenantHeader)
		if tenant == "" {
			writeError(w, http.StatusBadRequest, "Missing "+TenantHeader+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), tenantCtxKey{}, generic.TenantID(tenant))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFrom(r *http.Request) generic.TenantID {
	tenant, _ := r.Context().Value(tenantCtxKey{}).(generic.TenantID)
	return tenant
}

// requestLogger logs one line per request; 5xx at error, 4xx at warn.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.Int("status", status),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("tenant", r.Header.Get(TenantHeader)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
			}
			switch {
			case status >= 500:
				logger.Error("request failed", fields...)
			case status >= 400:
				logger.Warn("client error", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}
