package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/haulmark/backoffice/internal/platform/httpx"
)

// PermissionsHandler exposes the permission catalogue and the caller's own
// effective permissions.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/mine", h.myPermissions)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(RequireRolesManage))
		r.Get("/", h.listPermissions)
		r.Put("/{id}", h.updateDescription)
	})
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.Store().ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to list permissions")
		return
	}
	httpx.OK(w, http.StatusOK, "", perms)
}

func (h *PermissionsHandler) myPermissions(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == nil {
		httpx.Fail(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	perms, err := h.service.EffectivePermissions(r.Context(), identity.ID)
	if err != nil {
		h.logger.Error("effective permissions", slog.Any("error", err), slog.Int64("identity_id", identity.ID))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to resolve permissions")
		return
	}
	httpx.OK(w, http.StatusOK, "", map[string]any{
		"role":        identity.RoleName(),
		"is_admin":    IsAdmin(identity),
		"permissions": perms,
	})
}

type descriptionRequest struct {
	Description string `json:"description"`
}

func (h *PermissionsHandler) updateDescription(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "Invalid permission id")
		return
	}
	var req descriptionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	err = h.service.Store().UpdatePermissionDescription(r.Context(), id, strings.TrimSpace(req.Description))
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Fail(w, http.StatusNotFound, "Permission not found")
	case err != nil:
		h.logger.Error("update permission", slog.Any("error", err), slog.Int64("permission_id", id))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to update permission")
	default:
		httpx.OK(w, http.StatusOK, "Permission updated", nil)
	}
}
