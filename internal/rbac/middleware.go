package rbac

import (
	"log/slog"
	"net/http"

	"github.com/haulmark/backoffice/internal/platform/httpx"
)

// Middleware wires RBAC authorization helpers for HTTP handlers. It relies on
// the authentication middleware having placed an Identity in the context.
type Middleware struct {
	Logger *slog.Logger
}

// Require gates the route with a full requirement, including role fallbacks.
func (m Middleware) Require(requirement Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if identity == nil {
				httpx.Fail(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			if !Authorize(identity, requirement) {
				if m.Logger != nil {
					m.Logger.Warn("rbac denied",
						slog.Int64("identity_id", identity.ID),
						slog.String("role", identity.RoleName()),
						slog.String("path", r.URL.Path))
				}
				httpx.Fail(w, http.StatusForbidden, "You do not have permission to perform this action")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
