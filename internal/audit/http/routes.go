package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/haulmark/backoffice/internal/platform/httpx"
	"github.com/haulmark/backoffice/internal/rbac"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes registers the history browser and CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Fail(w, http.StatusTooManyRequests, "Too many export requests")
		}),
	)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.RequireAuditView))
		r.Get("/", h.handleHistory)
		r.With(limiter).Get("/export.csv", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if identity := rbac.IdentityFromContext(r.Context()); identity != nil {
		return "identity:" + strconv.FormatInt(identity.ID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
