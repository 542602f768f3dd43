package app

import (
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kanbu-pm/kanbu/internal/acl"
	"github.com/kanbu-pm/kanbu/internal/grants"
	"github.com/kanbu-pm/kanbu/internal/groups"
	"github.com/kanbu-pm/kanbu/internal/observability"
	"github.com/kanbu-pm/kanbu/internal/roles"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	ACLHandler    *acl.Handler
	GrantsHandler *grants.Handler
	GroupsHandler *groups.Handler
	RolesHandler  *roles.Handler
	Metrics       *observability.Metrics
}

// NewRouter constructs the chi.Router with Kanbu defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/acl", params.ACLHandler.MountRoutes)
	r.Route("/api/authz", params.GrantsHandler.MountRoutes)
	r.Route("/api/groups", params.GroupsHandler.MountRoutes)
	if params.RolesHandler != nil {
		r.Route("/api/roles", params.RolesHandler.MountRoutes)
	}

	return r
}

// NewMetricsRouter exposes the Prometheus endpoint on its own listener so the
// scrape path stays outside the authenticated API surface.
func NewMetricsRouter(metrics *observability.Metrics) http.Handler {
	r := chi.NewRouter()
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	return r
}
