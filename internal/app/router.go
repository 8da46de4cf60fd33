package app

import (
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nexhub/nexhub/internal/audit"
	"github.com/nexhub/nexhub/internal/rbac"
	"github.com/nexhub/nexhub/internal/roles"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	RolesHandler       *roles.Handler
	PermissionsHandler *rbac.Handler
	AuditHandler       *audit.Handler
}

// NewRouter constructs the chi.Router with NexHub defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}
	if params.Config != nil {
		r.Use(chimw.Timeout(params.Config.AppRequestTimeout))
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		rateLimit := 0
		if params.Config != nil {
			rateLimit = params.Config.AdminRateLimit
		}
		r.Group(func(r chi.Router) {
			r.Use(AdminRateLimit(rateLimit))
			params.RolesHandler.MountRoutes(r)
		})
		params.PermissionsHandler.MountRoutes(r)
		params.AuditHandler.MountRoutes(r)
	})

	return r
}
