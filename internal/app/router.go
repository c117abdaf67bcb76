package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	approvalhttp "github.com/haulmark/backoffice/internal/approval/http"
	audithttp "github.com/haulmark/backoffice/internal/audit/http"
	"github.com/haulmark/backoffice/internal/auth"
	notifyhttp "github.com/haulmark/backoffice/internal/notify/http"
	"github.com/haulmark/backoffice/internal/observability"
	"github.com/haulmark/backoffice/internal/platform/httpx"
	"github.com/haulmark/backoffice/internal/rbac"
	"github.com/haulmark/backoffice/internal/roles"
	"github.com/haulmark/backoffice/internal/users"
	"github.com/haulmark/backoffice/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Authenticator      auth.Middleware
	RBACMiddleware     rbac.Middleware
	AuthHandler        *auth.Handler
	ApprovalHandlers   []*approvalhttp.Handler
	NotifyHandler      *notifyhttp.Handler
	UsersHandler       *users.Handler
	RolesHandler       *roles.Handler
	PermissionsHandler *rbac.PermissionsHandler
	AuditHandler       *audithttp.Handler
	JobHandler         *jobs.Handler
	Realtime           http.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with back office defaults.
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
		httpx.Fail(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.Realtime != nil {
		r.Handle("/ws", params.Realtime)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestTimeout(params.Config), chimw.Compress(5))
		if params.AuthHandler != nil {
			r.Route("/auth", func(r chi.Router) {
				params.AuthHandler.MountPublic(r)
				r.With(params.Authenticator.Authenticate).Group(params.AuthHandler.MountProtected)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(params.Authenticator.Authenticate)
			for _, h := range params.ApprovalHandlers {
				r.Route(h.Prefix(), h.MountRoutes)
			}
			if params.NotifyHandler != nil {
				r.Route("/notifications", params.NotifyHandler.MountRoutes)
			}
			if params.UsersHandler != nil {
				r.Route("/users", params.UsersHandler.MountRoutes)
			}
			if params.RolesHandler != nil {
				r.Route("/roles", params.RolesHandler.MountRoutes)
			}
			if params.PermissionsHandler != nil {
				r.Route("/permissions", params.PermissionsHandler.MountRoutes)
			}
			if params.AuditHandler != nil {
				r.Route("/audit", params.AuditHandler.MountRoutes)
			}
			if params.JobHandler != nil {
				r.Route("/jobs", func(r chi.Router) {
					r.Use(params.RBACMiddleware.Require(rbac.RequireAuditView))
					params.JobHandler.MountRoutes(r)
				})
			}
		})
	})

	return r
}
