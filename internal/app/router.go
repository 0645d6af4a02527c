package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/serat-auto/backoffice/internal/auth"
	"github.com/serat-auto/backoffice/internal/inventory"
	"github.com/serat-auto/backoffice/internal/observability"
	"github.com/serat-auto/backoffice/internal/platform/httpx"
	"github.com/serat-auto/backoffice/internal/sales/installments"
	"github.com/serat-auto/backoffice/internal/sales/ventes"
	"github.com/serat-auto/backoffice/internal/shared"
	"github.com/serat-auto/backoffice/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	Auth                auth.Middleware
	AuthHandler         *auth.Handler
	VentesHandler       *ventes.Handler
	InstallmentsHandler *installments.Handler
	InventoryHandler    *inventory.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with the back-office defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Message(w, http.StatusNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Message(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		r.Use(params.Auth.Authenticate)
		r.Use(params.Auth.RequireRoles(shared.RoleAdmin, shared.RoleEmployee))

		if params.VentesHandler != nil {
			r.Route("/ventes", params.VentesHandler.MountRoutes)
		}
		if params.InstallmentsHandler != nil {
			r.Route("/installments", params.InstallmentsHandler.MountRoutes)
		}
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.With(params.Auth.RequireRoles(shared.RoleAdmin)).Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
