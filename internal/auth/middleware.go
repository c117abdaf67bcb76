package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/haulmark/backoffice/internal/platform/httpx"
	"github.com/haulmark/backoffice/internal/rbac"
)

// BearerToken extracts the credential from the Authorization header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Middleware authenticates bearer credentials and stores the identity in context.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Authenticate rejects requests without a valid credential with 401. Lookup
// failures in the session store or directory are 500.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.Service.Resolve(r.Context(), BearerToken(r))
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				if m.Logger != nil {
					m.Logger.Error("resolve identity", slog.Any("error", err))
				}
				httpx.Fail(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			httpx.Fail(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(rbac.ContextWithIdentity(r.Context(), identity)))
	})
}
