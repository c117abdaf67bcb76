package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/haulmark/backoffice/internal/platform/httpx"
	"github.com/haulmark/backoffice/internal/rbac"
)

// Handler manages role management endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.RequireRolesManage))
		r.Get("/", h.listRoles)
		r.Post("/", h.createRole)
		r.Put("/{id}", h.updateRole)
		r.Put("/{id}/permissions", h.replacePermissions)
	})
}

type roleRequest struct {
	Name        string `json:"name" validate:"max=64"`
	Description string `json:"description" validate:"max=255"`
}

type permissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", roles)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), rbac.IdentityFromContext(r.Context()), req.Name, req.Description)
	if err != nil {
		h.fail(w, "create role failed", err)
		return
	}
	httpx.OK(w, http.StatusCreated, "Role created", role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), rbac.IdentityFromContext(r.Context()), id, req.Name, req.Description)
	if err != nil {
		h.fail(w, "update role failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Role updated", role)
}

func (h *Handler) replacePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	var req permissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.ReplacePermissions(r.Context(), rbac.IdentityFromContext(r.Context()), id, req.PermissionIDs)
	if err != nil {
		h.fail(w, "replace role permissions failed", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Permissions updated", role)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		httpx.Fail(w, http.StatusNotFound, "Role not found")
	case errors.Is(err, rbac.ErrDuplicate):
		httpx.Fail(w, http.StatusConflict, err.Error())
	case errors.Is(err, rbac.ErrSystemRole), errors.Is(err, rbac.ErrInvalidInput), errors.Is(err, ErrInvalidName):
		httpx.Fail(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(msg, slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to update roles")
	}
}

func roleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "Invalid role id")
		return 0, false
	}
	return id, true
}
